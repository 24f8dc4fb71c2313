package linkauth

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Provider identifies an external identity system
type Provider string

const (
	ProviderOpenID   Provider = "openid"
	ProviderTwitter  Provider = "twitter"
	ProviderLinkedIn Provider = "linkedin"
	ProviderFacebook Provider = "facebook"
)

// Providers lists every supported provider in a stable order
var Providers = []Provider{ProviderOpenID, ProviderTwitter, ProviderLinkedIn, ProviderFacebook}

var providerPrefixes = map[Provider]string{
	ProviderOpenID:   "OI",
	ProviderTwitter:  "TW",
	ProviderLinkedIn: "LI",
	ProviderFacebook: "FB",
}

// Prefix returns the two letter code used when deriving usernames
func (p Provider) Prefix() string {
	return providerPrefixes[p]
}

// Valid reports whether p is one of the supported providers
func (p Provider) Valid() bool {
	_, ok := providerPrefixes[p]
	return ok
}

func (p Provider) String() string { return string(p) }

// ParseProvider converts a provider tag (case-insensitive) into a Provider
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown provider: %q", s)
	}
	return p, nil
}

// Account is a local user account. Accounts created through federated login
// have no usable password.
type Account struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasUsablePassword reports whether the account can be used with password auth
func (a *Account) HasUsablePassword() bool {
	return a.PasswordHash != ""
}

// CheckPassword verifies password against the stored hash.
// Always false for accounts without a usable password.
func (a *Account) CheckPassword(password string) bool {
	if !a.HasUsablePassword() {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) == nil
}

// DisplayName joins first and last name, falling back to the username
func (a *Account) DisplayName() string {
	name := strings.TrimSpace(a.FirstName + " " + a.LastName)
	if name == "" {
		return a.Username
	}
	return name
}

// IdentityRecord links one external identity to one Account.
// (Provider, ExternalID) is unique across all records.
type IdentityRecord struct {
	ID         string   `json:"id"`
	Provider   Provider `json:"provider"`
	ExternalID string   `json:"external_id"`
	AccountID  string   `json:"account_id"`
	Nickname   string   `json:"nickname,omitempty"`
	Email      string   `json:"email,omitempty"`

	// EmailVerified is true when Email was asserted by the provider and
	// false when it is a synthesized placeholder.
	EmailVerified bool `json:"email_verified"`

	// NeedsCrossDomainMerge marks Google OpenID identities pending consolidation
	NeedsCrossDomainMerge bool `json:"needs_cross_domain_merge"`

	// Source is the sub-provider label, e.g. "Google" or "Yahoo" for OpenID
	Source string `json:"source,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the provider scoped key of the record
func (r *IdentityRecord) Key() string {
	return IdentityKey(r.Provider, r.ExternalID)
}

// IdentityKey creates a consistent key from a provider and an external id
func IdentityKey(provider Provider, externalID string) string {
	return string(provider) + ":" + externalID
}

// AuditEntry records which provider produced which account link
type AuditEntry struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	Provider   Provider  `json:"provider"`
	IdentityID string    `json:"identity_id"`
	Source     string    `json:"source,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AssertedFields carries the profile data a provider handshake yielded
type AssertedFields struct {
	Nickname  string
	Email     string
	FirstName string
	LastName  string
}

// Assertion is a verified identity claim, normalized by an Authenticator
type Assertion struct {
	Provider   Provider
	ExternalID string
	Fields     AssertedFields
	Source     string

	// NeedsCrossDomainMerge is copied onto newly created records
	NeedsCrossDomainMerge bool
}
