package linkauth

import (
	"context"
	"strings"
)

// DefaultGoogleEndpoint is the Google OpenID 2.0 discovery endpoint
const DefaultGoogleEndpoint = "https://www.google.com/accounts/o8/id"

// Attribute exchange type URIs accepted alongside the short alias keys
const (
	axEmail     = "http://axschema.org/contact/email"
	axNickname  = "http://axschema.org/namePerson/friendly"
	axFirstName = "http://axschema.org/namePerson/first"
	axLastName  = "http://axschema.org/namePerson/last"
	axFullName  = "http://axschema.org/namePerson"
)

// OpenIDResponse is a verified OpenID positive assertion
type OpenIDResponse struct {
	// Identifier is the claimed identifier URL
	Identifier string

	// Source labels the OpenID provider the user picked, e.g. "Google" or "Yahoo"
	Source string

	// SReg holds simple registration fields (nickname, email, fullname)
	SReg map[string]string

	// AX holds attribute exchange values keyed by alias or type URI
	AX map[string]string
}

func (OpenIDResponse) Provider() Provider { return ProviderOpenID }

type OpenIDAuthenticator struct {
	baseAuthenticator

	// GoogleEndpoints are identifier prefixes treated as Google
	GoogleEndpoints []string

	// SkipCrossDomainMerge disables flagging Google identities for consolidation
	SkipCrossDomainMerge bool
}

func NewOpenIDAuthenticator(p *Provisioner) *OpenIDAuthenticator {
	return &OpenIDAuthenticator{
		baseAuthenticator: baseAuthenticator{
			provider:    ProviderOpenID,
			provisioner: p,
			policy:      ProvisionPolicy{BackfillEmail: true},
		},
		GoogleEndpoints: []string{DefaultGoogleEndpoint},
	}
}

// WithBackfill turns the email backfill policy on or off
func (o *OpenIDAuthenticator) WithBackfill(enabled bool) *OpenIDAuthenticator {
	o.policy.BackfillEmail = enabled
	return o
}

func (o *OpenIDAuthenticator) Authenticate(ctx context.Context, cred Credential, existing *Account) (*Account, error) {
	var resp OpenIDResponse
	switch c := cred.(type) {
	case OpenIDResponse:
		resp = c
	case *OpenIDResponse:
		if c == nil {
			return nil, o.wrongCredential(cred)
		}
		resp = *c
	default:
		return nil, o.wrongCredential(cred)
	}

	identifier := strings.TrimSpace(resp.Identifier)
	if identifier == "" {
		return nil, assertionInvalid(ProviderOpenID, "missing claimed identifier")
	}
	source := resp.Source
	if source == "" {
		source = "OpenID"
	}

	return o.provision(ctx, Assertion{
		ExternalID:            identifier,
		Fields:                OpenIDFields(resp),
		Source:                source,
		NeedsCrossDomainMerge: !o.SkipCrossDomainMerge && o.IsGoogle(resp),
	}, existing)
}

// IsGoogle reports whether resp came from Google, by source label or identifier
func (o *OpenIDAuthenticator) IsGoogle(resp OpenIDResponse) bool {
	if strings.EqualFold(resp.Source, "google") {
		return true
	}
	for _, prefix := range o.GoogleEndpoints {
		if prefix != "" && strings.HasPrefix(resp.Identifier, prefix) {
			return true
		}
	}
	return false
}

// OpenIDFields extracts asserted fields. Simple registration wins over
// attribute exchange when it carries anything.
func OpenIDFields(resp OpenIDResponse) AssertedFields {
	var fields AssertedFields
	var fullName string
	if len(resp.SReg) > 0 {
		fields.Nickname = strings.TrimSpace(resp.SReg["nickname"])
		fields.Email = strings.TrimSpace(resp.SReg["email"])
		fullName = resp.SReg["fullname"]
	} else if len(resp.AX) > 0 {
		fields.Nickname = firstValue(resp.AX, "nickname", axNickname)
		fields.Email = firstValue(resp.AX, "email", axEmail)
		fields.FirstName = firstValue(resp.AX, "firstname", axFirstName)
		fields.LastName = firstValue(resp.AX, "lastname", axLastName)
		fullName = firstValue(resp.AX, "fullname", axFullName)
	}
	if fields.FirstName == "" && fields.LastName == "" && strings.TrimSpace(fullName) != "" {
		fields.FirstName, fields.LastName = SplitName(fullName, "")
	}
	return fields
}

func firstValue(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}
