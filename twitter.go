package linkauth

import (
	"context"
	"strings"
)

// TwitterProfile is the verified account info a Twitter handshake yields
type TwitterProfile struct {
	ScreenName string
	Name       string
}

func (TwitterProfile) Provider() Provider { return ProviderTwitter }

// TwitterAccessToken is an OAuth1 access token that still needs to be resolved
// to a profile through a TwitterProfileSource
type TwitterAccessToken struct {
	Token  string
	Secret string
}

func (TwitterAccessToken) Provider() Provider { return ProviderTwitter }

// TwitterProfileSource verifies an access token and returns its profile
type TwitterProfileSource interface {
	VerifyCredentials(ctx context.Context, token TwitterAccessToken) (*TwitterProfile, error)
}

type TwitterAuthenticator struct {
	baseAuthenticator

	// Profiles resolves TwitterAccessToken credentials. Optional.
	Profiles TwitterProfileSource
}

func NewTwitterAuthenticator(p *Provisioner, profiles TwitterProfileSource) *TwitterAuthenticator {
	return &TwitterAuthenticator{
		baseAuthenticator: baseAuthenticator{
			provider:    ProviderTwitter,
			provisioner: p,
			policy:      ProvisionPolicy{SeedFromExternalID: true},
		},
		Profiles: profiles,
	}
}

func (t *TwitterAuthenticator) Authenticate(ctx context.Context, cred Credential, existing *Account) (*Account, error) {
	var profile TwitterProfile
	switch c := cred.(type) {
	case TwitterProfile:
		profile = c
	case *TwitterProfile:
		if c == nil {
			return nil, t.wrongCredential(cred)
		}
		profile = *c
	case TwitterAccessToken:
		if t.Profiles == nil {
			return nil, assertionInvalid(ProviderTwitter, "no profile source configured for access tokens")
		}
		p, err := t.Profiles.VerifyCredentials(ctx, c)
		if err != nil {
			return nil, classifyProviderError(ProviderTwitter, "failed to verify credentials", err)
		}
		if p == nil {
			return nil, assertionInvalid(ProviderTwitter, "empty profile")
		}
		profile = *p
	default:
		return nil, t.wrongCredential(cred)
	}

	screenName := strings.TrimSpace(profile.ScreenName)
	if screenName == "" {
		return nil, assertionInvalid(ProviderTwitter, "missing screen name")
	}
	first, last := SplitName(profile.Name, screenName)
	return t.provision(ctx, Assertion{
		ExternalID: screenName,
		Fields: AssertedFields{
			Nickname:  screenName,
			FirstName: first,
			LastName:  last,
		},
	}, existing)
}

// SplitName splits a display name on its first whitespace run.
// "Jane Q Public" gives ("Jane", "Q Public") and "Cher" gives ("Cher", "").
// An empty name yields (fallback, "").
func SplitName(name, fallback string) (first, last string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return fallback, ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
