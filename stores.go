package linkauth

import (
	"context"
	"errors"
)

// Storage sentinel errors. Store implementations wrap or return these so that
// callers can use errors.Is.
var (
	// ErrNotFound is returned when an account or identity record does not exist
	ErrNotFound = errors.New("not found")

	// ErrIdentityExists is returned by InsertIdentity when (provider, external id)
	// is already linked
	ErrIdentityExists = errors.New("identity already linked")

	// ErrUsernameTaken is returned by CreateAccount when the username is in use
	ErrUsernameTaken = errors.New("username already taken")
)

// AccountStore manages local accounts
type AccountStore interface {
	// CreateAccount inserts a new account. Returns ErrUsernameTaken if the
	// username is already assigned.
	CreateAccount(ctx context.Context, account *Account) error

	// GetAccount retrieves an account by id. Returns ErrNotFound if missing.
	GetAccount(ctx context.Context, accountID string) (*Account, error)

	// UpdateAccount saves profile changes to an existing account
	UpdateAccount(ctx context.Context, account *Account) error

	// CountUsernamesWithPrefix counts accounts whose username starts with prefix
	CountUsernamesWithPrefix(ctx context.Context, prefix string) (int, error)
}

// IdentityRecordStore manages the (provider, external id) -> account mapping
type IdentityRecordStore interface {
	// FindIdentity looks up a record. Returns ErrNotFound if missing.
	FindIdentity(ctx context.Context, provider Provider, externalID string) (*IdentityRecord, error)

	// InsertIdentity inserts a record if absent. Returns ErrIdentityExists if
	// (provider, external id) is already present.
	InsertIdentity(ctx context.Context, record *IdentityRecord) error

	// UpdateIdentity saves the mutable fields (email, email verified, merge flag)
	UpdateIdentity(ctx context.Context, record *IdentityRecord) error

	// ListAccountIdentities returns all records owned by an account
	ListAccountIdentities(ctx context.Context, accountID string) ([]*IdentityRecord, error)
}

// AuditStore is an append-only log of account links
type AuditStore interface {
	AppendAudit(ctx context.Context, entry *AuditEntry) error

	// ListAudit returns the entries of an account, oldest first
	ListAudit(ctx context.Context, accountID string) ([]*AuditEntry, error)
}

// Store combines the stores the provisioner needs and adds a unit of work.
//
// RunInTransaction runs fn against a transactional view of the store. If fn
// returns an error nothing written through tx is kept and the error is
// returned unchanged, so sentinel errors survive.
type Store interface {
	AccountStore
	IdentityRecordStore
	AuditStore

	RunInTransaction(ctx context.Context, fn func(tx Store) error) error
}
