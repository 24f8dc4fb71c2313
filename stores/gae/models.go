//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"
	la "github.com/panyam/linkauth"
)

// AccountEntity is the Datastore entity for accounts
type AccountEntity struct {
	Key          *datastore.Key `datastore:"__key__"`
	Username     string         `datastore:"username"`
	Email        string         `datastore:"email"`
	FirstName    string         `datastore:"first_name,noindex"`
	LastName     string         `datastore:"last_name,noindex"`
	PasswordHash string         `datastore:"password_hash,noindex"`
	CreatedAt    time.Time      `datastore:"created_at"`
	UpdatedAt    time.Time      `datastore:"updated_at"`
}

func (e *AccountEntity) ToAccount() *la.Account {
	return &la.Account{
		ID:           e.Key.Name,
		Username:     e.Username,
		Email:        e.Email,
		FirstName:    e.FirstName,
		LastName:     e.LastName,
		PasswordHash: e.PasswordHash,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func AccountToEntity(a *la.Account, key *datastore.Key) *AccountEntity {
	return &AccountEntity{
		Key:          key,
		Username:     a.Username,
		Email:        a.Email,
		FirstName:    a.FirstName,
		LastName:     a.LastName,
		PasswordHash: a.PasswordHash,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

// UsernameEntity reserves a username.
// Key format: the username itself
type UsernameEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	AccountID string         `datastore:"account_id"`
	CreatedAt time.Time      `datastore:"created_at,noindex"`
}

// IdentityEntity is the Datastore entity for identity records.
// Key format: Provider + ":" + ExternalID
type IdentityEntity struct {
	Key                   *datastore.Key `datastore:"__key__"`
	ID                    string         `datastore:"id"`
	Provider              string         `datastore:"provider"`
	ExternalID            string         `datastore:"external_id"`
	AccountID             string         `datastore:"account_id"`
	Nickname              string         `datastore:"nickname,noindex"`
	Email                 string         `datastore:"email"`
	EmailVerified         bool           `datastore:"email_verified"`
	NeedsCrossDomainMerge bool           `datastore:"needs_cross_domain_merge"`
	Source                string         `datastore:"source,noindex"`
	CreatedAt             time.Time      `datastore:"created_at"`
	UpdatedAt             time.Time      `datastore:"updated_at"`
}

func (e *IdentityEntity) ToIdentityRecord() *la.IdentityRecord {
	return &la.IdentityRecord{
		ID:                    e.ID,
		Provider:              la.Provider(e.Provider),
		ExternalID:            e.ExternalID,
		AccountID:             e.AccountID,
		Nickname:              e.Nickname,
		Email:                 e.Email,
		EmailVerified:         e.EmailVerified,
		NeedsCrossDomainMerge: e.NeedsCrossDomainMerge,
		Source:                e.Source,
		CreatedAt:             e.CreatedAt,
		UpdatedAt:             e.UpdatedAt,
	}
}

func IdentityRecordToEntity(r *la.IdentityRecord, key *datastore.Key) *IdentityEntity {
	return &IdentityEntity{
		Key:                   key,
		ID:                    r.ID,
		Provider:              string(r.Provider),
		ExternalID:            r.ExternalID,
		AccountID:             r.AccountID,
		Nickname:              r.Nickname,
		Email:                 r.Email,
		EmailVerified:         r.EmailVerified,
		NeedsCrossDomainMerge: r.NeedsCrossDomainMerge,
		Source:                r.Source,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

// AuditEntity is the Datastore entity for the link audit trail
type AuditEntity struct {
	Key        *datastore.Key `datastore:"__key__"`
	AccountID  string         `datastore:"account_id"`
	Provider   string         `datastore:"provider"`
	IdentityID string         `datastore:"identity_id,noindex"`
	Source     string         `datastore:"source,noindex"`
	CreatedAt  time.Time      `datastore:"created_at"`
}

func (e *AuditEntity) ToAuditEntry() *la.AuditEntry {
	return &la.AuditEntry{
		ID:         e.Key.Name,
		AccountID:  e.AccountID,
		Provider:   la.Provider(e.Provider),
		IdentityID: e.IdentityID,
		Source:     e.Source,
		CreatedAt:  e.CreatedAt,
	}
}

func AuditEntryToEntity(entry *la.AuditEntry, key *datastore.Key) *AuditEntity {
	return &AuditEntity{
		Key:        key,
		AccountID:  entry.AccountID,
		Provider:   string(entry.Provider),
		IdentityID: entry.IdentityID,
		Source:     entry.Source,
		CreatedAt:  entry.CreatedAt,
	}
}
