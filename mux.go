package linkauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"

	fboauth "github.com/panyam/linkauth/oauth2"
)

const sessionProviderKey = "loggedInProvider"

// LinkAuth drives the authentication core from HTTP requests: it decides
// between login and link mode from the session, records the logged in
// account and answers with the redirects the login pages expect.
type LinkAuth struct {
	router     *mux.Router
	Session    *scs.SessionManager
	Middleware Middleware
	Service    *Service
	Tokens     *SessionTokens

	// Optional name that can be used as a prefix for all required vars
	AppName string

	// Name of the session variable and cookie holding the auth token
	AuthTokenSessionVar string

	// All the domains where the auth token cookies will be set on a login success or logout
	CookieDomains []string

	JwtIssuer    string
	JWTSecretKey string

	// How long is a session cookie valid for.  Defaults to 1 day
	SessionTimeoutInSeconds int

	// AddLoginRedirectURL gets ?add_login=true|false after a link mode attempt
	AddLoginRedirectURL string
	LoginRedirectURL    string
	LoginPageURL        string
}

func New(appName string, svc *Service) *LinkAuth {
	return (&LinkAuth{AppName: appName, Service: svc}).EnsureDefaults()
}

// NewFromConfig builds a LinkAuth from the session section of cfg
func NewFromConfig(cfg *Config, svc *Service, session *scs.SessionManager) *LinkAuth {
	cfg.EnsureDefaults()
	a := &LinkAuth{
		AppName:                 cfg.AppName,
		Service:                 svc,
		Session:                 session,
		CookieDomains:           cfg.Session.CookieDomains,
		JwtIssuer:               cfg.Session.JWTIssuer,
		JWTSecretKey:            cfg.Session.JWTSecretKey,
		SessionTimeoutInSeconds: cfg.Session.TimeoutSeconds,
		AddLoginRedirectURL:     cfg.Session.AddLoginRedirectURL,
		LoginRedirectURL:        cfg.Session.LoginRedirectURL,
		LoginPageURL:            cfg.Session.LoginPageURL,
	}
	return a.EnsureDefaults()
}

func (a *LinkAuth) EnsureDefaults() *LinkAuth {
	if a.AppName == "" {
		a.AppName = "LinkAuth"
	}
	if a.Session == nil {
		a.Session = scs.New()
	}
	if a.SessionTimeoutInSeconds <= 0 {
		a.SessionTimeoutInSeconds = 86400
	}
	if a.JwtIssuer == "" {
		a.JwtIssuer = fmt.Sprintf("%s-Issuer", a.AppName)
	}
	if a.AuthTokenSessionVar == "" {
		a.AuthTokenSessionVar = fmt.Sprintf("%sAuthToken", a.AppName)
	}
	if a.JWTSecretKey == "" {
		a.JWTSecretKey = strings.TrimSpace(os.Getenv("LINKAUTH_JWT_SECRET_KEY"))
		if a.JWTSecretKey == "" {
			a.JWTSecretKey = "MyTestJWTSecretKey123456"
		}
	}
	if a.Tokens == nil {
		a.Tokens = NewSessionTokens(a.JwtIssuer, a.JWTSecretKey)
	}
	if a.AddLoginRedirectURL == "" {
		a.AddLoginRedirectURL = "/profile"
	}
	if a.LoginRedirectURL == "" {
		a.LoginRedirectURL = "/"
	}
	if a.LoginPageURL == "" {
		a.LoginPageURL = "/login"
	}
	if a.Middleware.AuthTokenCookieName == "" {
		a.Middleware.AuthTokenCookieName = a.AuthTokenSessionVar
	}
	if a.Middleware.SessionGetter == nil {
		a.Middleware.SessionGetter = func(r *http.Request, param string) any {
			return a.Session.GetString(r.Context(), param)
		}
	}
	if a.Middleware.VerifyToken == nil {
		a.Middleware.VerifyToken = a.Tokens.VerifyAccountID
	}
	a.Middleware.EnsureReasonableDefaults()
	return a
}

// Handler returns the routes wrapped with session loading
func (a *LinkAuth) Handler() http.Handler {
	return a.Session.LoadAndSave(a.Router())
}

func (a *LinkAuth) Router() *mux.Router {
	if a.router == nil {
		a.router = mux.NewRouter()
		a.router.HandleFunc("/logout", a.onLogout)
		me := a.router.PathPrefix("/me").Subrouter()
		me.Use(a.Middleware.EnsureAccount)
		me.HandleFunc("", a.onGetProfile).Methods(http.MethodGet)
		me.HandleFunc("", a.onUpdateProfile).Methods(http.MethodPost, http.MethodPatch)
		me.HandleFunc("/openid/merge/skip", a.onSkipMerge).Methods(http.MethodPost)
	}
	return a.router
}

// MountFacebook registers the Facebook redirect, callback and cookie routes
// under prefix. fb must also be the FacebookClient of the registered
// FacebookAuthenticator.
func (a *LinkAuth) MountFacebook(prefix string, fb *fboauth.FacebookOAuth2) *LinkAuth {
	prefix = strings.TrimSuffix(prefix, "/")
	fb.HandleCode = func(code string, w http.ResponseWriter, r *http.Request) {
		a.CompleteLogin(w, r, ProviderFacebook, FacebookCode{Code: code})
	}
	fb.FailURL = a.LoginPageURL
	r := a.Router()
	r.HandleFunc(prefix+"/connect", func(w http.ResponseWriter, r *http.Request) {
		a.CompleteLogin(w, r, ProviderFacebook, FacebookCookies{Cookies: r.Cookies()})
	}).Methods(http.MethodGet, http.MethodPost)
	r.PathPrefix(prefix + "/").Handler(http.StripPrefix(prefix, fb.Handler()))
	log.Println("Added Facebook login at prefix: ", prefix)
	return a
}

// LoggedInAccount returns the account of the current session, if any
func (a *LinkAuth) LoggedInAccount(r *http.Request) *Account {
	accountID := a.Middleware.GetLoggedInAccountID(r)
	if accountID == "" {
		return nil
	}
	account, err := a.Service.LookupAccount(r.Context(), accountID)
	if err != nil {
		slog.Warn("failed to look up logged in account", "account_id", accountID, "error", err)
		return nil
	}
	return account
}

// CompleteLogin is called once a provider handshake produced a credential.
//
// With a logged in account the identity is linked to it (link mode) and the
// user is sent to AddLoginRedirectURL with add_login=true or false. Otherwise
// the resolved account is logged in and the user is sent back to the page
// that started the login. Provider side failures bounce to the login page;
// provisioning failures are a 500.
func (a *LinkAuth) CompleteLogin(w http.ResponseWriter, r *http.Request, provider Provider, cred Credential) {
	existing := a.LoggedInAccount(r)
	account, err := a.Service.Authenticate(r.Context(), provider, cred, existing)

	if existing != nil {
		added := err == nil
		if errors.Is(err, ErrAlreadyLinked) {
			slog.Info("add login refused, identity belongs to another account",
				"provider", provider, "account_id", existing.ID)
		}
		http.Redirect(w, r, withQuery(a.AddLoginRedirectURL, "add_login", fmt.Sprint(added)), http.StatusFound)
		return
	}

	if err != nil {
		if IsAuthenticationError(err) {
			http.Redirect(w, r, withQuery(a.LoginPageURL, "error", string(KindOf(err))), http.StatusFound)
			return
		}
		http.Error(w, "login failed", statusForError(err))
		return
	}

	a.setLoggedInAccount(account, provider, w, r)
	http.Redirect(w, r, a.popCallbackURL(w, r), http.StatusFound)
}

func (a *LinkAuth) popCallbackURL(w http.ResponseWriter, r *http.Request) string {
	callbackURL := a.LoginRedirectURL
	if c, _ := r.Cookie(fboauth.CallbackURLCookieName); c != nil && c.Value != "" {
		callbackURL = c.Value
	}
	if !isLocalRedirect(callbackURL) {
		callbackURL = a.LoginRedirectURL
	}
	http.SetCookie(w, &http.Cookie{
		Name:   fboauth.CallbackURLCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1, Expires: time.Now(),
	})
	return callbackURL
}

func (a *LinkAuth) onLogout(w http.ResponseWriter, r *http.Request) {
	a.setLoggedInAccount(nil, "", w, r)
	toUrl := r.URL.Query().Get("to")
	if !isLocalRedirect(toUrl) {
		fmt.Fprintf(w, "Logged Out")
		return
	}
	http.Redirect(w, r, toUrl, http.StatusFound)
}

// isLocalRedirect accepts only paths on this host. Browsers treat "//x" and
// "/\x" as protocol relative, so those are rejected along with any scheme.
func isLocalRedirect(target string) bool {
	if target == "" || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return false
	}
	u, err := url.Parse(target)
	return err == nil && u.Scheme == "" && u.Host == ""
}

type profileResponse struct {
	Account    *Account          `json:"account"`
	Identities []*IdentityRecord `json:"identities"`
}

func (a *LinkAuth) onGetProfile(w http.ResponseWriter, r *http.Request) {
	account := a.LoggedInAccount(r)
	if account == nil {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	identities, err := a.Service.Provisioner.LinkedIdentities(r.Context(), account.ID)
	if err != nil {
		slog.Error("failed to list identities", "account_id", account.ID, "error", err)
		http.Error(w, "failed to list identities", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{Account: account, Identities: identities})
}

func (a *LinkAuth) onUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var update struct {
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
		Email     *string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	accountID := a.Middleware.GetLoggedInAccountID(r)
	account, err := a.Service.UpdateProfile(r.Context(), accountID, ProfileUpdate{
		FirstName: update.FirstName,
		LastName:  update.LastName,
		Email:     update.Email,
	})
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// onSkipMerge clears the cross-domain merge flag on the account's OpenID identities
func (a *LinkAuth) onSkipMerge(w http.ResponseWriter, r *http.Request) {
	accountID := a.Middleware.GetLoggedInAccountID(r)
	identities, err := a.Service.Provisioner.LinkedIdentities(r.Context(), accountID)
	if err != nil {
		http.Error(w, "failed to list identities", http.StatusInternalServerError)
		return
	}
	cleared := 0
	for _, rec := range identities {
		if rec.Provider != ProviderOpenID || !rec.NeedsCrossDomainMerge {
			continue
		}
		if err := a.Service.Provisioner.SetCrossDomainMerge(r.Context(), rec.Provider, rec.ExternalID, false); err != nil {
			slog.Error("failed to clear merge flag", "identity_id", rec.ID, "error", err)
			http.Error(w, "failed to update identity", http.StatusInternalServerError)
			return
		}
		cleared++
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

// setLoggedInAccount sets (or, with a nil account, clears) the session and
// auth token cookies on every configured cookie domain
func (a *LinkAuth) setLoggedInAccount(account *Account, provider Provider, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if account == nil {
		if err := a.Session.Destroy(ctx); err != nil {
			slog.Warn("error clearing session", "err", err)
		}
	} else {
		if err := a.Session.RenewToken(ctx); err != nil {
			slog.Warn("error renewing session token", "err", err)
		}
		a.Session.Put(ctx, a.Middleware.AccountParamName, account.ID)
		a.Session.Put(ctx, sessionProviderKey, string(provider))
	}

	tokenString := ""
	if account != nil {
		var err error
		tokenString, err = a.Tokens.Issue(account, provider)
		if err != nil {
			slog.Info("error signing token", "err", err)
		}
		a.Session.Put(ctx, a.AuthTokenSessionVar, tokenString)
	}

	domains := a.CookieDomains
	if slices.Index(a.CookieDomains, "") < 0 { // default domain
		domains = append(domains, "")
	}
	for _, cookieDomain := range domains {
		http.SetCookie(w, &http.Cookie{
			Name:   fboauth.StateCookieName,
			Value:  "",
			MaxAge: -1, Expires: time.Now(),
			Domain: cookieDomain,
			Path:   "/",
		})
		if account == nil {
			http.SetCookie(w, &http.Cookie{
				Name:    a.AuthTokenSessionVar,
				Domain:  cookieDomain,
				Path:    "/",
				MaxAge:  -1,
				Expires: time.Now(),
			})
			continue
		}
		http.SetCookie(w, &http.Cookie{
			Name:     a.AuthTokenSessionVar,
			Value:    tokenString,
			Domain:   cookieDomain,
			Path:     "/",
			HttpOnly: true,
			Expires:  time.Now().Add(time.Second * time.Duration(a.SessionTimeoutInSeconds)), MaxAge: a.SessionTimeoutInSeconds,
		})
	}
}

func statusForError(err error) int {
	switch KindOf(err) {
	case KindAssertionInvalid:
		return http.StatusUnauthorized
	case KindProviderUnavailable:
		return http.StatusServiceUnavailable
	case KindAlreadyLinked:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func withQuery(base, key, value string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}
