package linkauth

import (
	"context"
	"net/http"
	"strings"

	fboauth "github.com/panyam/linkauth/oauth2"
)

// FacebookClient performs the Facebook handshake calls.
// *fboauth.FacebookOAuth2 satisfies it.
type FacebookClient interface {
	SessionFromCookies(cookies []*http.Cookie) (*fboauth.Session, error)
	Exchange(ctx context.Context, code string) (*fboauth.Session, error)
	FetchProfile(ctx context.Context, accessToken string) (*fboauth.Profile, error)
}

// FacebookCookies carries the request cookies set by the JS SDK
type FacebookCookies struct {
	Cookies []*http.Cookie
}

func (FacebookCookies) Provider() Provider { return ProviderFacebook }

// FacebookCode is an authorization code from the OAuth2 redirect flow
type FacebookCode struct {
	Code string
}

func (FacebookCode) Provider() Provider { return ProviderFacebook }

// FacebookSession is an access token obtained elsewhere, e.g. by a mobile client.
// UserID is optional; when set it must match the profile id.
type FacebookSession struct {
	UserID      string
	AccessToken string
}

func (FacebookSession) Provider() Provider { return ProviderFacebook }

type FacebookAuthenticator struct {
	baseAuthenticator
	Client FacebookClient
}

func NewFacebookAuthenticator(p *Provisioner, client FacebookClient) *FacebookAuthenticator {
	return &FacebookAuthenticator{
		baseAuthenticator: baseAuthenticator{
			provider:    ProviderFacebook,
			provisioner: p,
			policy:      ProvisionPolicy{SeedFromExternalID: true},
		},
		Client: client,
	}
}

func (f *FacebookAuthenticator) Authenticate(ctx context.Context, cred Credential, existing *Account) (*Account, error) {
	if f.Client == nil {
		return nil, providerUnavailable(ProviderFacebook, "no facebook client configured", nil)
	}
	session, err := f.session(ctx, cred)
	if err != nil {
		return nil, err
	}
	if session == nil || session.AccessToken == "" {
		return nil, assertionInvalid(ProviderFacebook, "missing access token")
	}

	profile, err := f.Client.FetchProfile(ctx, session.AccessToken)
	if err != nil {
		return nil, classifyProviderError(ProviderFacebook, "failed to fetch profile", err)
	}
	if profile == nil {
		return nil, assertionInvalid(ProviderFacebook, "empty profile")
	}
	id := strings.TrimSpace(profile.ID)
	if id == "" {
		return nil, assertionInvalid(ProviderFacebook, "profile has no id")
	}
	if session.UserID != "" && session.UserID != id {
		return nil, assertionInvalid(ProviderFacebook, "profile id does not match session user")
	}

	return f.provision(ctx, Assertion{
		ExternalID: id,
		Fields: AssertedFields{
			Email:     strings.TrimSpace(profile.Email),
			FirstName: strings.TrimSpace(profile.FirstName),
			LastName:  strings.TrimSpace(profile.LastName),
		},
	}, existing)
}

// session runs whichever sub-protocol cred belongs to
func (f *FacebookAuthenticator) session(ctx context.Context, cred Credential) (*fboauth.Session, error) {
	switch c := cred.(type) {
	case FacebookCookies:
		session, err := f.Client.SessionFromCookies(c.Cookies)
		if err != nil {
			return nil, &AuthError{Kind: KindAssertionInvalid, Provider: ProviderFacebook, Message: "invalid session cookie", Err: err}
		}
		return session, nil
	case FacebookCode:
		if c.Code == "" {
			return nil, assertionInvalid(ProviderFacebook, "missing authorization code")
		}
		session, err := f.Client.Exchange(ctx, c.Code)
		if err != nil {
			return nil, classifyProviderError(ProviderFacebook, "code exchange failed", err)
		}
		return session, nil
	case FacebookSession:
		return &fboauth.Session{UserID: c.UserID, AccessToken: c.AccessToken}, nil
	default:
		return nil, f.wrongCredential(cred)
	}
}
