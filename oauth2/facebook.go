package oauth2

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
)

// DefaultGraphURL is the Facebook Graph API base
const DefaultGraphURL = "https://graph.facebook.com"

var (
	// ErrNoSession is returned when the request carries no fbs_{appid} cookie
	ErrNoSession = errors.New("no facebook session cookie")

	// ErrInvalidSignature is returned when the session cookie signature does not verify
	ErrInvalidSignature = errors.New("invalid facebook session signature")
)

// Session is what a Facebook handshake yields
type Session struct {
	UserID      string
	AccessToken string
	Expires     time.Time
}

// Profile is the subset of the Graph /me object we read
type Profile struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// GraphError is a non-2xx Graph API response
type GraphError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph api error (%d %s): %s", e.StatusCode, e.Type, e.Message)
}

type FacebookOAuth2 struct {
	*BaseOAuth2

	// GraphURL is the Graph API base. Can be overridden for testing.
	GraphURL   string
	HTTPClient *http.Client

	// HandleCode is called from the callback with a state-checked code
	HandleCode HandleCodeFunc

	// FailURL is where failed or denied callbacks are redirected
	FailURL string
}

func NewFacebookOAuth2(appId string, appSecret string, callbackUrl string, handleCode HandleCodeFunc) *FacebookOAuth2 {
	if appId == "" {
		appId = strings.TrimSpace(os.Getenv("LINKAUTH_FACEBOOK_APP_ID"))
	}
	if appSecret == "" {
		appSecret = strings.TrimSpace(os.Getenv("LINKAUTH_FACEBOOK_APP_SECRET"))
	}
	if callbackUrl == "" {
		callbackUrl = strings.TrimSpace(os.Getenv("LINKAUTH_FACEBOOK_CALLBACK_URL"))
	}

	out := FacebookOAuth2{
		BaseOAuth2: NewBaseOAuth2(appId, appSecret, callbackUrl, facebook.Endpoint, "email"),
		GraphURL:   DefaultGraphURL,
		HandleCode: handleCode,
		FailURL:    "/auth/facebook/fail/",
	}
	out.mux.HandleFunc("/callback/", out.handleCallback)
	return &out
}

func (f *FacebookOAuth2) SetHTTPClient(client *http.Client) {
	f.HTTPClient = client
}

// CookieName is the legacy JS SDK session cookie for this app
func (f *FacebookOAuth2) CookieName() string {
	return "fbs_" + f.ClientId
}

func (f *FacebookOAuth2) handleCallback(w http.ResponseWriter, r *http.Request) {
	if !checkStateCookie(w, r) {
		http.Error(w, "invalid oauth facebook state", http.StatusBadRequest)
		return
	}
	if reason := r.FormValue("error"); reason != "" {
		slog.Info("facebook login denied", "error", reason, "reason", r.FormValue("error_reason"))
		http.Redirect(w, r, f.FailURL, http.StatusTemporaryRedirect)
		return
	}
	code := r.FormValue("code")
	if code == "" || f.HandleCode == nil {
		http.Redirect(w, r, f.FailURL, http.StatusTemporaryRedirect)
		return
	}
	f.HandleCode(code, w, r)
}

// SessionFromCookies finds and verifies the fbs_{appid} cookie
func (f *FacebookOAuth2) SessionFromCookies(cookies []*http.Cookie) (*Session, error) {
	name := f.CookieName()
	for _, c := range cookies {
		if c.Name == name && c.Value != "" {
			return ParseSessionCookie(c.Value, f.ClientSecret)
		}
	}
	return nil, ErrNoSession
}

// ParseSessionCookie verifies a legacy Facebook session cookie value.
// The value is a (possibly quoted) query string whose sig parameter is the
// hex md5 of the remaining "k=v" pairs, sorted by key and concatenated, followed
// by the app secret.
func ParseSessionCookie(value, appSecret string) (*Session, error) {
	params, err := url.ParseQuery(strings.Trim(value, `"`))
	if err != nil {
		return nil, fmt.Errorf("failed to parse session cookie: %w", err)
	}
	sig := params.Get("sig")
	if sig == "" {
		return nil, ErrInvalidSignature
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "sig" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var payload strings.Builder
	for _, k := range keys {
		payload.WriteString(k)
		payload.WriteByte('=')
		payload.WriteString(params.Get(k))
	}
	payload.WriteString(appSecret)
	sum := md5.Sum([]byte(payload.String()))
	expected := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(sig))) != 1 {
		return nil, ErrInvalidSignature
	}

	session := &Session{
		UserID:      params.Get("uid"),
		AccessToken: params.Get("access_token"),
	}
	if session.UserID == "" || session.AccessToken == "" {
		return nil, fmt.Errorf("session cookie is missing uid or access_token")
	}
	if exp, err := strconv.ParseInt(params.Get("expires"), 10, 64); err == nil && exp > 0 {
		session.Expires = time.Unix(exp, 0)
		if time.Now().After(session.Expires) {
			return nil, fmt.Errorf("session cookie expired at %s", session.Expires)
		}
	}
	return session, nil
}

// Exchange trades an authorization code for an access token.
// The returned session has no UserID; read it from FetchProfile.
func (f *FacebookOAuth2) Exchange(ctx context.Context, code string) (*Session, error) {
	if f.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.HTTPClient)
	}
	token, err := f.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}
	return &Session{AccessToken: token.AccessToken, Expires: token.Expiry}, nil
}

// FetchProfile reads the /me object for accessToken
func (f *FacebookOAuth2) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	q := url.Values{}
	q.Set("fields", "id,first_name,last_name,email")
	q.Set("access_token", accessToken)
	endpoint := strings.TrimSuffix(f.GraphURL, "/") + "/me?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed getting profile: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseGraphError(resp.StatusCode, body)
	}

	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &profile, nil
}

func parseGraphError(status int, body []byte) *GraphError {
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	out := &GraphError{StatusCode: status}
	if err := json.Unmarshal(body, &payload); err == nil {
		out.Type = payload.Error.Type
		out.Message = payload.Error.Message
	}
	if out.Message == "" {
		out.Message = http.StatusText(status)
	}
	return out
}
