package oauth2

import (
	"crypto/rand"
	"encoding/base64"
	"log"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const (
	StateCookieName       = "oauthstate"
	CallbackURLCookieName = "oauthCallbackURL"
)

// HandleCodeFunc receives the authorization code once the state check passed
type HandleCodeFunc func(code string, w http.ResponseWriter, r *http.Request)

func generateStateOauthCookie(w http.ResponseWriter) string {
	var expiration = time.Now().Add(30 * time.Minute)
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		log.Println("Error generating rand: ", err)
	}
	state := base64.URLEncoding.EncodeToString(b)
	cookie := http.Cookie{Name: StateCookieName, Value: state, Path: "/", Expires: expiration, HttpOnly: true}
	http.SetCookie(w, &cookie)
	return state
}

// checkStateCookie compares the state query param against the state cookie and
// clears the cookie on mismatch
func checkStateCookie(w http.ResponseWriter, r *http.Request) bool {
	oauthState, _ := r.Cookie(StateCookieName)
	if oauthState == nil || oauthState.Value == "" {
		return false
	}
	if r.FormValue("state") != oauthState.Value {
		http.SetCookie(w, &http.Cookie{
			Name:   StateCookieName,
			Path:   "/",
			MaxAge: -1,
		})
		return false
	}
	return true
}

func OauthRedirector(oauthConfig *oauth2.Config) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		// remember where to send the user once the login completes
		callbackURL := r.URL.Query().Get("callbackURL")
		if callbackURL != "" {
			http.SetCookie(w, &http.Cookie{
				Name:    CallbackURLCookieName,
				Value:   callbackURL,
				Path:    "/",
				Expires: time.Now().Add(24 * time.Hour),
				MaxAge:  120, // keep this short
			})
		}
		oauthState := generateStateOauthCookie(w)
		u := oauthConfig.AuthCodeURL(oauthState)
		http.Redirect(w, r, u, http.StatusFound)
	}
}
