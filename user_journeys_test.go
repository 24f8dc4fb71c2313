package linkauth_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/sync/errgroup"

	la "github.com/panyam/linkauth"
	fboauth "github.com/panyam/linkauth/oauth2"
	"github.com/panyam/linkauth/stores/fs"
)

// =============================================================================
// Test Infrastructure
// =============================================================================

// fakeFacebook answers every access token "token-{id}" with the profile of id
type fakeFacebook struct {
	mu       sync.Mutex
	profiles map[string]*fboauth.Profile
}

func newFakeFacebook() *fakeFacebook {
	return &fakeFacebook{profiles: map[string]*fboauth.Profile{}}
}

func (f *fakeFacebook) add(p *fboauth.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles["token-"+p.ID] = p
}

func (f *fakeFacebook) SessionFromCookies(cookies []*http.Cookie) (*fboauth.Session, error) {
	return nil, fboauth.ErrNoSession
}

func (f *fakeFacebook) Exchange(ctx context.Context, code string) (*fboauth.Session, error) {
	return &fboauth.Session{AccessToken: "token-" + code}, nil
}

func (f *fakeFacebook) FetchProfile(ctx context.Context, accessToken string) (*fboauth.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if accessToken == "graph-down" {
		return nil, &fboauth.GraphError{StatusCode: http.StatusServiceUnavailable, Message: "service unavailable"}
	}
	p, ok := f.profiles[accessToken]
	if !ok {
		return nil, &fboauth.GraphError{StatusCode: 400, Type: "OAuthException", Message: "invalid token"}
	}
	copied := *p
	return &copied, nil
}

// TestJourney is a complete provisioning environment over the filesystem store
type TestJourney struct {
	Store       *fs.FSStore
	Provisioner *la.Provisioner
	Service     *la.Service
	Facebook    *fakeFacebook
	Registry    *prometheus.Registry
}

func setupJourney(t *testing.T) *TestJourney {
	return setupJourneyWithStore(t, nil)
}

// setupJourneyWithStore lets a test wrap the filesystem store
func setupJourneyWithStore(t *testing.T, wrap func(la.Store) la.Store) *TestJourney {
	store := fs.NewFSStore(t.TempDir())
	var s la.Store = store
	if wrap != nil {
		s = wrap(store)
	}
	reg := prometheus.NewRegistry()
	p := la.NewProvisioner(s)
	p.Metrics = la.NewMetrics(reg)

	facebook := newFakeFacebook()
	svc := la.NewService(p).
		Register(la.NewOpenIDAuthenticator(p)).
		Register(la.NewTwitterAuthenticator(p, nil)).
		Register(la.NewLinkedInAuthenticator(p, nil)).
		Register(la.NewFacebookAuthenticator(p, facebook))

	return &TestJourney{
		Store:       store,
		Provisioner: p,
		Service:     svc,
		Facebook:    facebook,
		Registry:    reg,
	}
}

func (j *TestJourney) login(t *testing.T, p la.Provider, cred la.Credential) *la.Account {
	t.Helper()
	account, err := j.Service.Authenticate(context.Background(), p, cred, nil)
	if err != nil {
		t.Fatalf("login with %s failed: %v", p, err)
	}
	return account
}

func (j *TestJourney) identities(t *testing.T, accountID string) []*la.IdentityRecord {
	t.Helper()
	records, err := j.Provisioner.LinkedIdentities(context.Background(), accountID)
	if err != nil {
		t.Fatalf("failed to list identities: %v", err)
	}
	return records
}

func (j *TestJourney) audit(t *testing.T, accountID string) []*la.AuditEntry {
	t.Helper()
	entries, err := j.Provisioner.AuditTrail(context.Background(), accountID)
	if err != nil {
		t.Fatalf("failed to list audit: %v", err)
	}
	return entries
}

func (j *TestJourney) resolutions(p la.Provider, outcome string) float64 {
	return testutil.ToFloat64(j.Provisioner.Metrics.Resolutions.WithLabelValues(string(p), outcome))
}

func googleLogin(identifier, nickname, email string) la.OpenIDResponse {
	return la.OpenIDResponse{
		Identifier: identifier,
		Source:     "Google",
		SReg:       map[string]string{"nickname": nickname, "email": email, "fullname": "Alice Liddell"},
	}
}

// =============================================================================
// Journey 1: First login creates, second login resolves
// =============================================================================

func TestJourney1_FirstLoginThenReturn(t *testing.T) {
	j := setupJourney(t)
	resp := googleLogin("https://www.google.com/accounts/o8/id?id=alice", "alice", "alice@example.com")

	first := j.login(t, la.ProviderOpenID, resp)
	if first.Username != "OI-alice" {
		t.Errorf("Expected username OI-alice, got %s", first.Username)
	}
	if first.Email != "alice@example.com" {
		t.Errorf("Expected asserted email on account, got %s", first.Email)
	}
	if first.FirstName != "Alice" || first.LastName != "Liddell" {
		t.Errorf("Expected name from fullname, got %q %q", first.FirstName, first.LastName)
	}
	if first.HasUsablePassword() {
		t.Error("Federated accounts must not have a usable password")
	}

	second := j.login(t, la.ProviderOpenID, resp)
	if second.ID != first.ID {
		t.Errorf("Expected same account on return, got %s and %s", first.ID, second.ID)
	}

	records := j.identities(t, first.ID)
	if len(records) != 1 {
		t.Fatalf("Expected 1 identity, got %d", len(records))
	}
	rec := records[0]
	if !rec.EmailVerified || rec.Email != "alice@example.com" {
		t.Errorf("Expected verified asserted email, got %q verified=%v", rec.Email, rec.EmailVerified)
	}
	if rec.Source != "Google" {
		t.Errorf("Expected source Google, got %q", rec.Source)
	}
	if !rec.NeedsCrossDomainMerge {
		t.Error("Google identities are flagged for cross-domain merge")
	}
	if n := len(j.audit(t, first.ID)); n != 1 {
		t.Errorf("Expected 1 audit entry, got %d", n)
	}
	if got := j.resolutions(la.ProviderOpenID, la.OutcomeCreated); got != 1 {
		t.Errorf("Expected 1 created resolution, got %v", got)
	}
	if got := j.resolutions(la.ProviderOpenID, la.OutcomeResolved); got != 1 {
		t.Errorf("Expected 1 resolved resolution, got %v", got)
	}
}

// =============================================================================
// Journey 2: Same nickname, different people
// =============================================================================

func TestJourney2_NicknameCollisionGetsSuffix(t *testing.T) {
	j := setupJourney(t)

	alice := j.login(t, la.ProviderOpenID, la.OpenIDResponse{
		Identifier: "https://alice.example.com/",
		SReg:       map[string]string{"nickname": "alice"},
	})
	other := j.login(t, la.ProviderOpenID, la.OpenIDResponse{
		Identifier: "https://other.example.org/alice",
		SReg:       map[string]string{"nickname": "alice"},
	})
	third := j.login(t, la.ProviderOpenID, la.OpenIDResponse{
		Identifier: "https://third.example.org/alice",
		SReg:       map[string]string{"nickname": "alice"},
	})

	if alice.Username != "OI-alice" {
		t.Errorf("Expected OI-alice, got %s", alice.Username)
	}
	if other.Username != "OI-alice2" {
		t.Errorf("Expected OI-alice2, got %s", other.Username)
	}
	if third.Username != "OI-alice3" {
		t.Errorf("Expected OI-alice3, got %s", third.Username)
	}
	if alice.ID == other.ID || other.ID == third.ID {
		t.Error("Different identifiers must create different accounts")
	}

	// The same nickname on another provider has its own namespace
	tw := j.login(t, la.ProviderTwitter, la.TwitterProfile{ScreenName: "alice", Name: "Alice"})
	if tw.Username != "TW-alice" {
		t.Errorf("Expected TW-alice, got %s", tw.Username)
	}
}

// =============================================================================
// Journey 3: Facebook without email gets a placeholder, never backfilled
// =============================================================================

func TestJourney3_FacebookPlaceholderEmail(t *testing.T) {
	j := setupJourney(t)
	j.Facebook.add(&fboauth.Profile{ID: "1000123", FirstName: "Bob", LastName: "Builder"})

	account := j.login(t, la.ProviderFacebook, la.FacebookSession{AccessToken: "token-1000123"})
	if account.Username != "FB-1000123" {
		t.Errorf("Expected username from external id, got %s", account.Username)
	}
	if account.Email != "FB-1000123@socialauth" {
		t.Errorf("Expected placeholder email, got %s", account.Email)
	}

	records := j.identities(t, account.ID)
	if len(records) != 1 || records[0].EmailVerified {
		t.Fatalf("Expected one record with unverified placeholder, got %+v", records)
	}

	// A later login with an email does not backfill for Facebook
	j.Facebook.add(&fboauth.Profile{ID: "1000123", FirstName: "Bob", Email: "bob@example.com"})
	again := j.login(t, la.ProviderFacebook, la.FacebookCode{Code: "1000123"})
	if again.ID != account.ID {
		t.Fatalf("Expected same account, got %s", again.ID)
	}
	records = j.identities(t, account.ID)
	if records[0].Email != "FB-1000123@socialauth" || records[0].EmailVerified {
		t.Errorf("Facebook record must keep its placeholder, got %q", records[0].Email)
	}
}

// =============================================================================
// Journey 4: OpenID email backfill
// =============================================================================

func TestJourney4_OpenIDBackfillsEmail(t *testing.T) {
	j := setupJourney(t)
	identifier := "https://me.yahoo.com/a/carol"

	account := j.login(t, la.ProviderOpenID, la.OpenIDResponse{Identifier: identifier, Source: "Yahoo"})
	if !strings.HasPrefix(account.Username, "OI-") || len(account.Username) != len("OI-")+la.RandomBaseLength {
		t.Errorf("Expected random base username, got %s", account.Username)
	}
	records := j.identities(t, account.ID)
	if records[0].EmailVerified || records[0].Email != la.PlaceholderEmail(account.Username) {
		t.Fatalf("Expected placeholder email, got %+v", records[0])
	}
	if records[0].NeedsCrossDomainMerge {
		t.Error("Yahoo identities are not flagged for merge")
	}

	again := j.login(t, la.ProviderOpenID, la.OpenIDResponse{
		Identifier: identifier,
		Source:     "Yahoo",
		AX:         map[string]string{"http://axschema.org/contact/email": "carol@example.com"},
	})
	if again.ID != account.ID {
		t.Fatalf("Expected same account")
	}
	records = j.identities(t, account.ID)
	if records[0].Email != "carol@example.com" || !records[0].EmailVerified {
		t.Errorf("Expected backfilled email, got %q verified=%v", records[0].Email, records[0].EmailVerified)
	}
	if got := testutil.ToFloat64(j.Provisioner.Metrics.Backfills.WithLabelValues("openid")); got != 1 {
		t.Errorf("Expected 1 backfill, got %v", got)
	}

	// Backfill happens once; a different email later changes nothing
	j.login(t, la.ProviderOpenID, la.OpenIDResponse{
		Identifier: identifier,
		SReg:       map[string]string{"email": "carol@other.example.com"},
	})
	records = j.identities(t, account.ID)
	if records[0].Email != "carol@example.com" {
		t.Errorf("Verified email must not be overwritten, got %q", records[0].Email)
	}
}

// =============================================================================
// Journey 5: Adding a second login to an account
// =============================================================================

func TestJourney5_LinkSecondProvider(t *testing.T) {
	j := setupJourney(t)
	ctx := context.Background()

	alice := j.login(t, la.ProviderOpenID, googleLogin("https://www.google.com/accounts/o8/id?id=alice", "alice", "alice@example.com"))

	linked, err := j.Service.Authenticate(ctx, la.ProviderTwitter, la.TwitterProfile{ScreenName: "alice_tw"}, alice)
	if err != nil {
		t.Fatalf("link failed: %v", err)
	}
	if linked.ID != alice.ID {
		t.Errorf("Link mode must return the existing account")
	}

	records := j.identities(t, alice.ID)
	if len(records) != 2 {
		t.Fatalf("Expected 2 identities, got %d", len(records))
	}
	tw := records[1]
	if tw.Provider != la.ProviderTwitter || tw.Email != "OI-alice@socialauth" || tw.EmailVerified {
		t.Errorf("Expected twitter record with the account's placeholder, got %+v", tw)
	}
	if n := len(j.audit(t, alice.ID)); n != 2 {
		t.Errorf("Expected 2 audit entries, got %d", n)
	}

	// Logging in with the linked identity lands on the same account
	viaTwitter := j.login(t, la.ProviderTwitter, la.TwitterProfile{ScreenName: "alice_tw"})
	if viaTwitter.ID != alice.ID {
		t.Errorf("Expected linked twitter login to resolve to alice")
	}

	// Linking an identity the account already owns is a no-op
	same, err := j.Service.Authenticate(ctx, la.ProviderTwitter, la.TwitterProfile{ScreenName: "alice_tw"}, alice)
	if err != nil || same.ID != alice.ID {
		t.Fatalf("Expected relink to succeed with the same account, got %v", err)
	}
	if n := len(j.identities(t, alice.ID)); n != 2 {
		t.Errorf("Expected still 2 identities, got %d", n)
	}
	if got := j.resolutions(la.ProviderTwitter, la.OutcomeLinked); got != 1 {
		t.Errorf("Expected 1 linked resolution, got %v", got)
	}
}

// =============================================================================
// Journey 6: Link conflict leaves everything untouched
// =============================================================================

func TestJourney6_LinkConflict(t *testing.T) {
	j := setupJourney(t)
	ctx := context.Background()

	alice := j.login(t, la.ProviderLinkedIn, la.LinkedInProfile{ID: "li-alice", FirstName: "Alice"})
	bob := j.login(t, la.ProviderTwitter, la.TwitterProfile{ScreenName: "bob"})

	_, err := j.Service.Authenticate(ctx, la.ProviderTwitter, la.TwitterProfile{ScreenName: "bob"}, alice)
	if !errors.Is(err, la.ErrAlreadyLinked) {
		t.Fatalf("Expected AlreadyLinked, got %v", err)
	}
	if la.IsAuthenticationError(err) {
		t.Error("AlreadyLinked is not an authentication error")
	}

	if n := len(j.identities(t, alice.ID)); n != 1 {
		t.Errorf("Alice must keep exactly 1 identity, got %d", n)
	}
	bobRecords := j.identities(t, bob.ID)
	if len(bobRecords) != 1 || bobRecords[0].AccountID != bob.ID {
		t.Errorf("Bob's identity must stay on bob")
	}
	if n := len(j.audit(t, alice.ID)); n != 1 {
		t.Errorf("No audit entry may be written on conflict, got %d", n)
	}
	if got := j.resolutions(la.ProviderTwitter, la.OutcomeConflict); got != 1 {
		t.Errorf("Expected 1 conflict, got %v", got)
	}
}

// =============================================================================
// Edge Cases
// =============================================================================

func TestEdgeCase_ConcurrentFirstLogin(t *testing.T) {
	j := setupJourney(t)
	j.Facebook.add(&fboauth.Profile{ID: "42", Email: "dup@example.com"})

	const logins = 8
	ids := make([]string, logins)
	var g errgroup.Group
	for i := range logins {
		g.Go(func() error {
			account, err := j.Service.Authenticate(context.Background(), la.ProviderFacebook, la.FacebookSession{UserID: "42", AccessToken: "token-42"}, nil)
			if err != nil {
				return err
			}
			ids[i] = account.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent login failed: %v", err)
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("All concurrent logins must resolve to one account, got %v", ids)
		}
	}
	count, err := j.Store.CountUsernamesWithPrefix(context.Background(), "FB-")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Expected exactly 1 account, got %d", count)
	}
}

func TestEdgeCase_MissingOrInvalidAssertions(t *testing.T) {
	j := setupJourney(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		provider la.Provider
		cred     la.Credential
	}{
		{"empty identifier", la.ProviderOpenID, la.OpenIDResponse{Identifier: "  "}},
		{"empty screen name", la.ProviderTwitter, la.TwitterProfile{Name: "No Handle"}},
		{"empty linkedin id", la.ProviderLinkedIn, la.LinkedInProfile{FirstName: "X"}},
		{"wrong credential", la.ProviderTwitter, la.OpenIDResponse{Identifier: "x"}},
		{"no facebook cookie", la.ProviderFacebook, la.FacebookCookies{}},
		{"facebook uid mismatch", la.ProviderFacebook, la.FacebookSession{UserID: "7", AccessToken: "token-42"}},
	}
	j.Facebook.add(&fboauth.Profile{ID: "42"})

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := j.Service.Authenticate(ctx, tc.provider, tc.cred, nil)
			if la.KindOf(err) != la.KindAssertionInvalid {
				t.Errorf("Expected assertion_invalid, got %v", err)
			}
		})
	}

	_, err := j.Service.Authenticate(ctx, la.ProviderFacebook, la.FacebookSession{AccessToken: "unknown"}, nil)
	if la.KindOf(err) != la.KindAssertionInvalid {
		t.Errorf("Expected assertion_invalid for a token Graph rejects, got %v", err)
	}
	_, err = j.Service.Authenticate(ctx, la.ProviderFacebook, la.FacebookSession{AccessToken: "graph-down"}, nil)
	if la.KindOf(err) != la.KindProviderUnavailable {
		t.Errorf("Expected provider_unavailable for a Graph outage, got %v", err)
	}
}

// stubProfiles answers every profile call with the same result
type stubProfiles struct {
	twitter  *la.TwitterProfile
	linkedin *la.LinkedInProfile
	err      error
}

func (s stubProfiles) VerifyCredentials(ctx context.Context, token la.TwitterAccessToken) (*la.TwitterProfile, error) {
	return s.twitter, s.err
}

func (s stubProfiles) MyProfile(ctx context.Context, token la.LinkedInAccessToken) (*la.LinkedInProfile, error) {
	return s.linkedin, s.err
}

// emptyFacebook returns neither a session nor a profile, and no error
type emptyFacebook struct{}

func (emptyFacebook) SessionFromCookies(cookies []*http.Cookie) (*fboauth.Session, error) {
	return nil, nil
}

func (emptyFacebook) Exchange(ctx context.Context, code string) (*fboauth.Session, error) {
	return nil, nil
}

func (emptyFacebook) FetchProfile(ctx context.Context, accessToken string) (*fboauth.Profile, error) {
	return nil, nil
}

func TestEdgeCase_ProfileSourceFailures(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		source stubProfiles
		want   la.ErrorKind
	}{
		{"timeout", stubProfiles{err: fmt.Errorf("verify: %w", context.DeadlineExceeded)}, la.KindProviderUnavailable},
		{"empty profile", stubProfiles{}, la.KindAssertionInvalid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			j := setupJourney(t)
			j.Service.
				Register(la.NewTwitterAuthenticator(j.Provisioner, tc.source)).
				Register(la.NewLinkedInAuthenticator(j.Provisioner, tc.source))

			_, err := j.Service.Authenticate(ctx, la.ProviderTwitter, la.TwitterAccessToken{Token: "t", Secret: "s"}, nil)
			if la.KindOf(err) != tc.want {
				t.Errorf("twitter: expected %s, got %v", tc.want, err)
			}
			_, err = j.Service.Authenticate(ctx, la.ProviderLinkedIn, la.LinkedInAccessToken{Token: "t", Secret: "s"}, nil)
			if la.KindOf(err) != tc.want {
				t.Errorf("linkedin: expected %s, got %v", tc.want, err)
			}
			for _, prefix := range []string{"TW-", "LI-"} {
				if count, _ := j.Store.CountUsernamesWithPrefix(ctx, prefix); count != 0 {
					t.Errorf("No %s account may be created, got %d", prefix, count)
				}
			}
		})
	}
}

func TestEdgeCase_FacebookEmptyResponses(t *testing.T) {
	j := setupJourney(t)
	j.Service.Register(la.NewFacebookAuthenticator(j.Provisioner, emptyFacebook{}))
	ctx := context.Background()

	creds := map[string]la.Credential{
		"cookies": la.FacebookCookies{Cookies: []*http.Cookie{{Name: "fbsr_app", Value: "x"}}},
		"code":    la.FacebookCode{Code: "abc"},
		"session": la.FacebookSession{AccessToken: "token-1"},
	}
	for name, cred := range creds {
		t.Run(name, func(t *testing.T) {
			account, err := j.Service.Authenticate(ctx, la.ProviderFacebook, cred, nil)
			if la.KindOf(err) != la.KindAssertionInvalid {
				t.Errorf("Expected assertion_invalid, got %v, %v", account, err)
			}
		})
	}
}

// faultyStore injects failures, including inside transactions
type faultyStore struct {
	la.Store
	failAudit     bool
	usernameTaken bool
	staleFinds    *int
}

func (f *faultyStore) RunInTransaction(ctx context.Context, fn func(tx la.Store) error) error {
	return f.Store.RunInTransaction(ctx, func(tx la.Store) error {
		inner := *f
		inner.Store = tx
		return fn(&inner)
	})
}

func (f *faultyStore) AppendAudit(ctx context.Context, entry *la.AuditEntry) error {
	if f.failAudit {
		return fmt.Errorf("audit disk full")
	}
	return f.Store.AppendAudit(ctx, entry)
}

func (f *faultyStore) CreateAccount(ctx context.Context, account *la.Account) error {
	if f.usernameTaken {
		return la.ErrUsernameTaken
	}
	return f.Store.CreateAccount(ctx, account)
}

func (f *faultyStore) FindIdentity(ctx context.Context, p la.Provider, externalID string) (*la.IdentityRecord, error) {
	if f.staleFinds != nil && *f.staleFinds > 0 {
		*f.staleFinds--
		return nil, la.ErrNotFound
	}
	return f.Store.FindIdentity(ctx, p, externalID)
}

func TestEdgeCase_AuditFailureRollsBack(t *testing.T) {
	j := setupJourneyWithStore(t, func(s la.Store) la.Store {
		return &faultyStore{Store: s, failAudit: true}
	})

	_, err := j.Service.Authenticate(context.Background(), la.ProviderTwitter, la.TwitterProfile{ScreenName: "dave"}, nil)
	if la.KindOf(err) != la.KindProvisioning {
		t.Fatalf("Expected provisioning failure, got %v", err)
	}
	if _, err := j.Store.FindIdentity(context.Background(), la.ProviderTwitter, "dave"); !errors.Is(err, la.ErrNotFound) {
		t.Errorf("Identity must not survive a failed unit of work, got %v", err)
	}
	count, _ := j.Store.CountUsernamesWithPrefix(context.Background(), "TW-")
	if count != 0 {
		t.Errorf("Account must not survive a failed unit of work, got %d", count)
	}
}

func TestEdgeCase_UsernameExhausted(t *testing.T) {
	j := setupJourneyWithStore(t, func(s la.Store) la.Store {
		return &faultyStore{Store: s, usernameTaken: true}
	})
	j.Provisioner.MaxUsernameAttempts = 3

	_, err := j.Service.Authenticate(context.Background(), la.ProviderLinkedIn, la.LinkedInProfile{ID: "erin"}, nil)
	if !errors.Is(err, la.ErrUsernameExhausted) {
		t.Fatalf("Expected username exhausted, got %v", err)
	}
	if _, err := j.Store.FindIdentity(context.Background(), la.ProviderLinkedIn, "erin"); !errors.Is(err, la.ErrNotFound) {
		t.Errorf("No identity may be written, got %v", err)
	}
}

func TestEdgeCase_LostRaceResolvesToWinner(t *testing.T) {
	stale := 0
	j := setupJourneyWithStore(t, func(s la.Store) la.Store {
		return &faultyStore{Store: s, staleFinds: &stale}
	})

	winner := j.login(t, la.ProviderTwitter, la.TwitterProfile{ScreenName: "frank"})

	// The next lookup misses the winner's record, as if it were written
	// between our lookup and our insert
	stale = 1
	loser := j.login(t, la.ProviderTwitter, la.TwitterProfile{ScreenName: "frank"})
	if loser.ID != winner.ID {
		t.Errorf("Expected the retry to resolve to the winner")
	}
	if got := testutil.ToFloat64(j.Provisioner.Metrics.RaceRetries.WithLabelValues("twitter")); got != 1 {
		t.Errorf("Expected 1 race retry, got %v", got)
	}
	count, _ := j.Store.CountUsernamesWithPrefix(context.Background(), "TW-frank")
	if count != 1 {
		t.Errorf("The losing attempt must not leave an account, got %d", count)
	}
}

func TestEdgeCase_ProfileUpdateAndLookup(t *testing.T) {
	j := setupJourney(t)
	j.Service.Cache = la.NewAccountCache(0)
	ctx := context.Background()

	account := j.login(t, la.ProviderTwitter, la.TwitterProfile{ScreenName: "gina", Name: "Gina"})
	email := "gina@example.com"
	last := "Gee"
	updated, err := j.Service.UpdateProfile(ctx, account.ID, la.ProfileUpdate{Email: &email, LastName: &last})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Email != email || updated.LastName != last || updated.FirstName != "Gina" {
		t.Errorf("Unexpected profile after update: %+v", updated)
	}

	looked, err := j.Service.LookupAccount(ctx, account.ID)
	if err != nil || looked == nil || looked.Email != email {
		t.Errorf("Expected lookup to see the update, got %+v, %v", looked, err)
	}

	missing, err := j.Service.LookupAccount(ctx, "no-such-account")
	if err != nil || missing != nil {
		t.Errorf("Expected (nil, nil) for a missing account, got %v, %v", missing, err)
	}

	empty := " "
	if _, err := j.Service.UpdateProfile(ctx, account.ID, la.ProfileUpdate{Email: &empty}); err == nil {
		t.Error("Expected empty email to be rejected")
	}
}
