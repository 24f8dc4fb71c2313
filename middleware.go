package linkauth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

type accountParamNameKey string

type Middleware struct {
	AuthTokenHeaderName string
	AuthTokenCookieName string
	AccountParamName    string
	CallbackURLParam    string
	SessionGetter       func(r *http.Request, param string) any
	GetRedirURL         func(r *http.Request) string
	VerifyToken         func(tokenString string) (accountID string, token any, err error)
}

// EnsureReasonableDefaults fills in unset names
func (a *Middleware) EnsureReasonableDefaults() {
	if a.AccountParamName == "" {
		a.AccountParamName = "loggedInAccountId"
	}
	if a.CallbackURLParam == "" {
		a.CallbackURLParam = "callbackURL"
	}
	if a.AuthTokenHeaderName == "" {
		a.AuthTokenHeaderName = "Authorization"
	}
}

// GetLoggedInAccountID returns the id of the logged in account from the
// request context, the session, or a bearer token, in that order
func (a *Middleware) GetLoggedInAccountID(r *http.Request) string {
	a.EnsureReasonableDefaults()
	if v, ok := r.Context().Value(accountParamNameKey(a.AccountParamName)).(string); ok && v != "" {
		return v
	}
	if id := a.sessionAccountID(r); id != "" {
		return id
	}

	if a.VerifyToken == nil {
		return ""
	}
	authTokens := r.Header.Values(a.AuthTokenHeaderName)
	for _, cookie := range r.CookiesNamed(a.AuthTokenCookieName) {
		if len(cookie.Value) > 0 {
			authTokens = append(authTokens, cookie.Value)
		}
	}
	for _, authToken := range authTokens {
		authToken = strings.TrimSpace(strings.TrimPrefix(authToken, "Bearer "))
		accountID, _, err := a.VerifyToken(authToken)
		if err == nil && accountID != "" {
			return accountID
		} else if err != nil {
			slog.Debug("error verifying token", "error", err)
		}
	}
	return ""
}

// ExtractAccount loads the logged in account id into the request context.
// It does not redirect when there is none; use EnsureAccount for that.
func (a *Middleware) ExtractAccount(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID := a.GetLoggedInAccountID(r)
		next.ServeHTTP(w, a.setLoggedInAccountID(accountID, r))
	})
}

// EnsureAccount is ExtractAccount that redirects to a login page (or
// fails with 401) when no account is logged in
func (a *Middleware) EnsureAccount(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID := a.GetLoggedInAccountID(r)
		if accountID != "" {
			next.ServeHTTP(w, a.setLoggedInAccountID(accountID, r))
			return
		}
		redirUrl := ""
		if a.GetRedirURL != nil {
			redirUrl = a.GetRedirURL(r)
		}
		if redirUrl == "" {
			http.Error(w, "Login Required", http.StatusUnauthorized)
			return
		}
		encodedUrl := strings.ReplaceAll(url.QueryEscape(r.URL.Path), "+", "%20")
		http.Redirect(w, r, fmt.Sprintf("%s?%s=%s", redirUrl, a.CallbackURLParam, encodedUrl), http.StatusFound)
	})
}

func (a *Middleware) sessionAccountID(r *http.Request) string {
	if a.SessionGetter == nil {
		return ""
	}
	id, _ := a.SessionGetter(r, a.AccountParamName).(string)
	return id
}

func (a *Middleware) setLoggedInAccountID(accountID string, r *http.Request) *http.Request {
	ctx := context.WithValue(r.Context(), accountParamNameKey(a.AccountParamName), accountID)
	return r.WithContext(ctx)
}
