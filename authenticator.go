package linkauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Credential is the output of a provider handshake, handed to the matching
// Authenticator. Each provider defines its own credential types.
type Credential interface {
	Provider() Provider
}

// Authenticator turns one provider's verified credential into an Account
type Authenticator interface {
	Provider() Provider

	// Authenticate resolves cred to an account. When existing is non-nil the
	// identity is linked to it instead of logging in another account.
	Authenticate(ctx context.Context, cred Credential, existing *Account) (*Account, error)

	// Lookup returns the account with the given id, or (nil, nil) if missing
	Lookup(ctx context.Context, accountID string) (*Account, error)
}

// baseAuthenticator holds what every provider variant shares
type baseAuthenticator struct {
	provider    Provider
	provisioner *Provisioner
	policy      ProvisionPolicy
}

func (b *baseAuthenticator) Provider() Provider { return b.provider }

func (b *baseAuthenticator) Lookup(ctx context.Context, accountID string) (*Account, error) {
	return lookupAccount(ctx, b.provisioner.Store, accountID)
}

func (b *baseAuthenticator) provision(ctx context.Context, assertion Assertion, existing *Account) (*Account, error) {
	assertion.Provider = b.provider
	return b.provisioner.ResolveOrCreate(ctx, ProvisionRequest{
		Assertion: assertion,
		Policy:    b.policy,
		LinkTo:    existing,
	})
}

func (b *baseAuthenticator) wrongCredential(cred Credential) error {
	return assertionInvalid(b.provider, "unsupported credential %T", cred)
}

func lookupAccount(ctx context.Context, store AccountStore, accountID string) (*Account, error) {
	if accountID == "" {
		return nil, nil
	}
	account, err := store.GetAccount(ctx, accountID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// Service dispatches authentication to the Authenticator registered for a
// provider and serves account lookups for session re-hydration.
type Service struct {
	Provisioner *Provisioner

	// Cache is optional. Lookups and successful authentications populate it.
	Cache  *AccountCache
	Logger *slog.Logger

	authenticators map[Provider]Authenticator
}

func NewService(provisioner *Provisioner) *Service {
	return &Service{
		Provisioner:    provisioner,
		Logger:         slog.Default(),
		authenticators: make(map[Provider]Authenticator),
	}
}

// Register adds or replaces the authenticator for its provider
func (s *Service) Register(a Authenticator) *Service {
	if s.authenticators == nil {
		s.authenticators = make(map[Provider]Authenticator)
	}
	s.authenticators[a.Provider()] = a
	return s
}

// Authenticator returns the authenticator registered for p
func (s *Service) Authenticator(p Provider) (Authenticator, bool) {
	a, ok := s.authenticators[p]
	return a, ok
}

// Authenticate resolves a credential for provider p.
// existing is the logged in account in link mode, nil otherwise.
func (s *Service) Authenticate(ctx context.Context, p Provider, cred Credential, existing *Account) (*Account, error) {
	a, ok := s.authenticators[p]
	if !ok {
		return nil, assertionInvalid(p, "no authenticator registered")
	}
	if cred == nil || cred.Provider() != p {
		return nil, assertionInvalid(p, "credential does not belong to provider")
	}

	account, err := a.Authenticate(ctx, cred, existing)
	if err != nil {
		s.logger().Warn("authentication failed", "provider", p, "kind", KindOf(err), "error", err)
		return nil, err
	}
	s.Cache.Put(account)
	return account, nil
}

// LookupAccount maps an account id to an Account. A missing id yields (nil, nil).
func (s *Service) LookupAccount(ctx context.Context, accountID string) (*Account, error) {
	if account, ok := s.Cache.Get(accountID); ok {
		return account, nil
	}
	account, err := lookupAccount(ctx, s.Provisioner.Store, accountID)
	if err != nil || account == nil {
		return nil, err
	}
	s.Cache.Put(account)
	return account, nil
}

// UpdateProfile updates an account's profile fields and refreshes the cache
func (s *Service) UpdateProfile(ctx context.Context, accountID string, update ProfileUpdate) (*Account, error) {
	account, err := s.Provisioner.UpdateProfile(ctx, accountID, update)
	if err != nil {
		s.Cache.Delete(accountID)
		return nil, err
	}
	s.Cache.Put(account)
	return account, nil
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
