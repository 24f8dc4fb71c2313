package linkauth

import (
	"context"
	"strings"
)

// LinkedInProfile is the verified profile a LinkedIn handshake yields
type LinkedInProfile struct {
	ID        string
	FirstName string
	LastName  string
}

func (LinkedInProfile) Provider() Provider { return ProviderLinkedIn }

// LinkedInAccessToken is an OAuth1 access token resolved through a LinkedInProfileSource
type LinkedInAccessToken struct {
	Token  string
	Secret string
}

func (LinkedInAccessToken) Provider() Provider { return ProviderLinkedIn }

type LinkedInProfileSource interface {
	MyProfile(ctx context.Context, token LinkedInAccessToken) (*LinkedInProfile, error)
}

type LinkedInAuthenticator struct {
	baseAuthenticator
	Profiles LinkedInProfileSource
}

func NewLinkedInAuthenticator(p *Provisioner, profiles LinkedInProfileSource) *LinkedInAuthenticator {
	return &LinkedInAuthenticator{
		baseAuthenticator: baseAuthenticator{
			provider:    ProviderLinkedIn,
			provisioner: p,
			policy:      ProvisionPolicy{SeedFromExternalID: true},
		},
		Profiles: profiles,
	}
}

func (l *LinkedInAuthenticator) Authenticate(ctx context.Context, cred Credential, existing *Account) (*Account, error) {
	var profile LinkedInProfile
	switch c := cred.(type) {
	case LinkedInProfile:
		profile = c
	case *LinkedInProfile:
		if c == nil {
			return nil, l.wrongCredential(cred)
		}
		profile = *c
	case LinkedInAccessToken:
		if l.Profiles == nil {
			return nil, assertionInvalid(ProviderLinkedIn, "no profile source configured for access tokens")
		}
		p, err := l.Profiles.MyProfile(ctx, c)
		if err != nil {
			return nil, classifyProviderError(ProviderLinkedIn, "failed to fetch profile", err)
		}
		if p == nil {
			return nil, assertionInvalid(ProviderLinkedIn, "empty profile")
		}
		profile = *p
	default:
		return nil, l.wrongCredential(cred)
	}

	id := strings.TrimSpace(profile.ID)
	if id == "" {
		return nil, assertionInvalid(ProviderLinkedIn, "missing profile id")
	}
	return l.provision(ctx, Assertion{
		ExternalID: id,
		Fields: AssertedFields{
			FirstName: strings.TrimSpace(profile.FirstName),
			LastName:  strings.TrimSpace(profile.LastName),
		},
	}, existing)
}
