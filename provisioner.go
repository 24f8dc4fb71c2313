package linkauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// PlaceholderEmailDomain is the domain of synthesized, unverified emails
const PlaceholderEmailDomain = "socialauth"

const (
	DefaultMaxRaceRetries      = 3
	DefaultMaxUsernameAttempts = 8
)

// PlaceholderEmail returns the synthesized email for a username
func PlaceholderEmail(username string) string {
	return username + "@" + PlaceholderEmailDomain
}

// ProvisionPolicy holds the per-provider switches an Authenticator passes along
type ProvisionPolicy struct {
	// BackfillEmail replaces a placeholder email on an existing record when a
	// later assertion carries a real one
	BackfillEmail bool

	// SeedFromExternalID derives the username from the external id when no
	// nickname was asserted. Without it the random base is used.
	SeedFromExternalID bool
}

// ProvisionRequest is the input of Provisioner.ResolveOrCreate
type ProvisionRequest struct {
	Assertion Assertion
	Policy    ProvisionPolicy

	// LinkTo is the already authenticated account in link ("add login") mode
	LinkTo *Account
}

// ProfileUpdate lists the account fields that may be attached after creation.
// Nil fields are left unchanged.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Email     *string
}

// Provisioner resolves verified assertions to accounts, creating the account,
// identity record and audit entry as one unit of work when needed.
type Provisioner struct {
	Store     Store
	Usernames *UsernameAllocator
	Metrics   *Metrics
	Logger    *slog.Logger
	Now       func() time.Time

	// MaxRaceRetries bounds how often a lost identity insert race is retried
	// as a lookup
	MaxRaceRetries int

	// MaxUsernameAttempts bounds username allocation retries on conflicts
	MaxUsernameAttempts int
}

func NewProvisioner(store Store) *Provisioner {
	return (&Provisioner{Store: store}).EnsureDefaults()
}

// EnsureDefaults fills in unset fields
func (p *Provisioner) EnsureDefaults() *Provisioner {
	if p.Usernames == nil {
		p.Usernames = NewUsernameAllocator(p.Store)
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.MaxRaceRetries <= 0 {
		p.MaxRaceRetries = DefaultMaxRaceRetries
	}
	if p.MaxUsernameAttempts <= 0 {
		p.MaxUsernameAttempts = DefaultMaxUsernameAttempts
	}
	return p
}

// ResolveOrCreate returns the account linked to the asserted identity,
// creating or linking one when the identity is new.
//
// Errors are always *AuthError: AssertionInvalid for unusable input,
// AlreadyLinked in link mode when the identity belongs to another account,
// UsernameExhausted when no username could be allocated, and Provisioning for
// any storage failure. A lost insert race is retried internally as a lookup.
func (p *Provisioner) ResolveOrCreate(ctx context.Context, req ProvisionRequest) (*Account, error) {
	p.EnsureDefaults()
	a := req.Assertion
	if !a.Provider.Valid() {
		return nil, assertionInvalid(a.Provider, "unknown provider")
	}
	if strings.TrimSpace(a.ExternalID) == "" {
		return nil, assertionInvalid(a.Provider, "missing external id")
	}

	for attempt := 0; ; attempt++ {
		record, err := p.Store.FindIdentity(ctx, a.Provider, a.ExternalID)
		if err == nil {
			return p.resolveExisting(ctx, req, record)
		}
		if !errors.Is(err, ErrNotFound) {
			p.Metrics.observe(a.Provider, OutcomeFailed)
			return nil, provisioningFailed(a.Provider, "identity lookup failed", err)
		}

		account, err := p.createLinked(ctx, req)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, ErrIdentityExists) {
			p.Metrics.observe(a.Provider, OutcomeFailed)
			return nil, err
		}
		if attempt >= p.MaxRaceRetries {
			p.Metrics.observe(a.Provider, OutcomeFailed)
			return nil, provisioningFailed(a.Provider, "identity insert kept conflicting", err)
		}
		p.Metrics.raceRetry(a.Provider)
		p.Logger.Debug("lost identity insert race, retrying lookup",
			"provider", a.Provider, "attempt", attempt+1)
	}
}

func (p *Provisioner) resolveExisting(ctx context.Context, req ProvisionRequest, record *IdentityRecord) (*Account, error) {
	a := req.Assertion
	if req.LinkTo != nil && record.AccountID != req.LinkTo.ID {
		p.Metrics.observe(a.Provider, OutcomeConflict)
		p.Logger.Warn("identity already linked to another account",
			"provider", a.Provider, "account_id", req.LinkTo.ID)
		return nil, &AuthError{
			Kind:     KindAlreadyLinked,
			Provider: a.Provider,
			Message:  "identity is linked to another account",
		}
	}

	account, err := p.Store.GetAccount(ctx, record.AccountID)
	if err != nil {
		p.Metrics.observe(a.Provider, OutcomeFailed)
		return nil, provisioningFailed(a.Provider, "linked account lookup failed", err)
	}

	if req.Policy.BackfillEmail && !record.EmailVerified && a.Fields.Email != "" {
		record.Email = a.Fields.Email
		record.EmailVerified = true
		record.UpdatedAt = p.Now()
		if err := p.Store.UpdateIdentity(ctx, record); err != nil {
			p.Metrics.observe(a.Provider, OutcomeFailed)
			return nil, provisioningFailed(a.Provider, "email backfill failed", err)
		}
		p.Metrics.backfill(a.Provider)
		p.Logger.Info("backfilled identity email", "provider", a.Provider, "identity_id", record.ID)
	}

	p.Metrics.observe(a.Provider, OutcomeResolved)
	return account, nil
}

// createLinked creates the record (and the account unless in link mode).
// A lost insert race is returned as ErrIdentityExists so the caller can retry.
func (p *Provisioner) createLinked(ctx context.Context, req ProvisionRequest) (*Account, error) {
	a := req.Assertion

	if req.LinkTo != nil {
		target, err := p.Store.GetAccount(ctx, req.LinkTo.ID)
		if err != nil {
			return nil, provisioningFailed(a.Provider, "link target lookup failed", err)
		}
		err = p.Store.RunInTransaction(ctx, func(tx Store) error {
			return p.writeLink(ctx, tx, req, target)
		})
		if err != nil {
			return nil, p.txError(a.Provider, err)
		}
		p.Metrics.observe(a.Provider, OutcomeLinked)
		p.Logger.Info("linked identity to existing account",
			"provider", a.Provider, "account_id", target.ID)
		return target, nil
	}

	seed := a.Fields.Nickname
	if seed == "" && req.Policy.SeedFromExternalID {
		seed = a.ExternalID
	}
	for attempt := 0; attempt < p.MaxUsernameAttempts; attempt++ {
		username, err := p.Usernames.AllocateAttempt(ctx, a.Provider, seed, attempt)
		if err != nil {
			return nil, provisioningFailed(a.Provider, "username allocation failed", err)
		}
		account := p.newAccount(username, a.Fields)
		err = p.Store.RunInTransaction(ctx, func(tx Store) error {
			if err := tx.CreateAccount(ctx, account); err != nil {
				return err
			}
			return p.writeLink(ctx, tx, req, account)
		})
		switch {
		case err == nil:
			p.Metrics.observe(a.Provider, OutcomeCreated)
			p.Logger.Info("created account for new identity",
				"provider", a.Provider, "account_id", account.ID, "username", account.Username)
			return account, nil
		case errors.Is(err, ErrUsernameTaken):
			p.Logger.Debug("username taken, reallocating", "username", username, "attempt", attempt+1)
		default:
			return nil, p.txError(a.Provider, err)
		}
	}
	return nil, &AuthError{
		Kind:     KindUsernameExhausted,
		Provider: a.Provider,
		Message:  fmt.Sprintf("no free username after %d attempts", p.MaxUsernameAttempts),
	}
}

func (p *Provisioner) txError(provider Provider, err error) error {
	if errors.Is(err, ErrIdentityExists) {
		return err
	}
	return provisioningFailed(provider, "transaction failed", err)
}

func (p *Provisioner) newAccount(username string, fields AssertedFields) *Account {
	now := p.Now()
	email := strings.TrimSpace(fields.Email)
	if email == "" {
		email = PlaceholderEmail(username)
	}
	return &Account{
		ID:        NewID(),
		Username:  username,
		Email:     email,
		FirstName: fields.FirstName,
		LastName:  fields.LastName,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// writeLink inserts the identity record and its audit entry through tx
func (p *Provisioner) writeLink(ctx context.Context, tx Store, req ProvisionRequest, account *Account) error {
	a := req.Assertion
	now := p.Now()
	email := strings.TrimSpace(a.Fields.Email)
	record := &IdentityRecord{
		ID:                    NewID(),
		Provider:              a.Provider,
		ExternalID:            a.ExternalID,
		AccountID:             account.ID,
		Nickname:              a.Fields.Nickname,
		Email:                 email,
		EmailVerified:         email != "",
		NeedsCrossDomainMerge: a.NeedsCrossDomainMerge,
		Source:                a.Source,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if record.Email == "" {
		record.Email = PlaceholderEmail(account.Username)
	}
	if err := tx.InsertIdentity(ctx, record); err != nil {
		return err
	}

	entry := &AuditEntry{
		ID:         NewAuditID(),
		AccountID:  account.ID,
		Provider:   a.Provider,
		IdentityID: record.ID,
		Source:     a.Source,
		CreatedAt:  now,
	}
	if err := tx.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// SetCrossDomainMerge sets or clears the merge flag of an identity record
func (p *Provisioner) SetCrossDomainMerge(ctx context.Context, provider Provider, externalID string, needed bool) error {
	p.EnsureDefaults()
	record, err := p.Store.FindIdentity(ctx, provider, externalID)
	if err != nil {
		return fmt.Errorf("failed to find identity: %w", err)
	}
	if record.NeedsCrossDomainMerge == needed {
		return nil
	}
	record.NeedsCrossDomainMerge = needed
	record.UpdatedAt = p.Now()
	if err := p.Store.UpdateIdentity(ctx, record); err != nil {
		return fmt.Errorf("failed to update identity: %w", err)
	}
	return nil
}

// UpdateProfile attaches profile fields to an account
func (p *Provisioner) UpdateProfile(ctx context.Context, accountID string, update ProfileUpdate) (*Account, error) {
	p.EnsureDefaults()
	account, err := p.Store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if update.FirstName != nil {
		account.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		account.LastName = *update.LastName
	}
	if update.Email != nil {
		email := strings.TrimSpace(*update.Email)
		if email == "" {
			return nil, fmt.Errorf("email cannot be empty")
		}
		account.Email = email
	}
	account.UpdatedAt = p.Now()
	if err := p.Store.UpdateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return account, nil
}

// LinkedIdentities returns the identity records owned by an account
func (p *Provisioner) LinkedIdentities(ctx context.Context, accountID string) ([]*IdentityRecord, error) {
	return p.Store.ListAccountIdentities(ctx, accountID)
}

// AuditTrail returns the link history of an account, oldest first
func (p *Provisioner) AuditTrail(ctx context.Context, accountID string) ([]*AuditEntry, error) {
	return p.Store.ListAudit(ctx, accountID)
}
