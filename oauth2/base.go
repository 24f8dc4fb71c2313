package oauth2

import (
	"net/http"

	"golang.org/x/oauth2"
)

type BaseOAuth2 struct {
	ClientId     string
	ClientSecret string
	CallbackURL  string
	oauthConfig  oauth2.Config
	mux          *http.ServeMux
}

func NewBaseOAuth2(clientId string, clientSecret string, callbackUrl string, endpoint oauth2.Endpoint, scopes ...string) *BaseOAuth2 {
	out := &BaseOAuth2{
		ClientId:     clientId,
		ClientSecret: clientSecret,
		CallbackURL:  callbackUrl,
		mux:          http.NewServeMux(),
		oauthConfig: oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			RedirectURL:  callbackUrl,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
	}
	out.setupHandlers()
	return out
}

func (b *BaseOAuth2) setupHandlers() {
	b.mux.HandleFunc("/{$}", OauthRedirector(&b.oauthConfig))
}

// SetOAuthEndpoint overrides the provider endpoint, e.g. for tests
func (b *BaseOAuth2) SetOAuthEndpoint(endpoint oauth2.Endpoint) {
	b.oauthConfig.Endpoint = endpoint
}

func (b *BaseOAuth2) Handler() http.Handler {
	return b.mux
}

func (b *BaseOAuth2) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mux.ServeHTTP(w, r)
}
