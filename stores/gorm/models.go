//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	la "github.com/panyam/linkauth"
)

// AccountModel is the GORM model for accounts
type AccountModel struct {
	ID           string    `gorm:"primaryKey;size:64"`
	Username     string    `gorm:"size:150;uniqueIndex"`
	Email        string    `gorm:"size:255"`
	FirstName    string    `gorm:"size:64"`
	LastName     string    `gorm:"size:64"`
	PasswordHash string    `gorm:"size:255"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (AccountModel) TableName() string {
	return "accounts"
}

func (m *AccountModel) ToAccount() *la.Account {
	return &la.Account{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		FirstName:    m.FirstName,
		LastName:     m.LastName,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func AccountToModel(a *la.Account) *AccountModel {
	return &AccountModel{
		ID:           a.ID,
		Username:     a.Username,
		Email:        a.Email,
		FirstName:    a.FirstName,
		LastName:     a.LastName,
		PasswordHash: a.PasswordHash,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

// IdentityModel is the GORM model for identity records.
// (provider, external_id) is unique.
type IdentityModel struct {
	ID                    string    `gorm:"primaryKey;size:64"`
	Provider              string    `gorm:"size:16;uniqueIndex:idx_identity_provider_external"`
	ExternalID            string    `gorm:"size:512;uniqueIndex:idx_identity_provider_external"`
	AccountID             string    `gorm:"size:64;index"`
	Nickname              string    `gorm:"size:255"`
	Email                 string    `gorm:"size:255"`
	EmailVerified         bool      `gorm:"default:false"`
	NeedsCrossDomainMerge bool      `gorm:"default:false"`
	Source                string    `gorm:"size:32"`
	CreatedAt             time.Time `gorm:"autoCreateTime"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime"`
}

func (IdentityModel) TableName() string {
	return "identity_records"
}

func (m *IdentityModel) ToIdentityRecord() *la.IdentityRecord {
	return &la.IdentityRecord{
		ID:                    m.ID,
		Provider:              la.Provider(m.Provider),
		ExternalID:            m.ExternalID,
		AccountID:             m.AccountID,
		Nickname:              m.Nickname,
		Email:                 m.Email,
		EmailVerified:         m.EmailVerified,
		NeedsCrossDomainMerge: m.NeedsCrossDomainMerge,
		Source:                m.Source,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

func IdentityRecordToModel(r *la.IdentityRecord) *IdentityModel {
	return &IdentityModel{
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

// AuditModel is the GORM model for the link audit trail
type AuditModel struct {
	ID         string    `gorm:"primaryKey;size:64"`
	AccountID  string    `gorm:"size:64;index:idx_audit_account_created"`
	Provider   string    `gorm:"size:16"`
	IdentityID string    `gorm:"size:64"`
	Source     string    `gorm:"size:32"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index:idx_audit_account_created"`
}

func (AuditModel) TableName() string {
	return "link_audit"
}

func (m *AuditModel) ToAuditEntry() *la.AuditEntry {
	return &la.AuditEntry{
		ID:         m.ID,
		AccountID:  m.AccountID,
		Provider:   la.Provider(m.Provider),
		IdentityID: m.IdentityID,
		Source:     m.Source,
		CreatedAt:  m.CreatedAt,
	}
}

func AuditEntryToModel(e *la.AuditEntry) *AuditModel {
	return &AuditModel{
		ID:         e.ID,
		AccountID:  e.AccountID,
		Provider:   string(e.Provider),
		IdentityID: e.IdentityID,
		Source:     e.Source,
		CreatedAt:  e.CreatedAt,
	}
}
