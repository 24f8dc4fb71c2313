//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	la "github.com/panyam/linkauth"
)

// AutoMigrate runs database migrations for all linkauth tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AccountModel{},
		&IdentityModel{},
		&AuditModel{},
	)
}

// Store implements la.Store using GORM
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// RunInTransaction runs fn inside a database transaction. Nested calls join
// the outer transaction through GORM's savepoints.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx la.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// =============================================================================
// Accounts
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, account *la.Account) error {
	if err := s.db.WithContext(ctx).Create(AccountToModel(account)).Error; err != nil {
		if isUniqueViolation(err) {
			return la.ErrUsernameTaken
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*la.Account, error) {
	var model AccountModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, la.ErrNotFound
		}
		return nil, err
	}
	return model.ToAccount(), nil
}

func (s *Store) UpdateAccount(ctx context.Context, account *la.Account) error {
	result := s.db.WithContext(ctx).Model(&AccountModel{}).
		Where("id = ?", account.ID).
		Updates(map[string]any{
			"email":         account.Email,
			"first_name":    account.FirstName,
			"last_name":     account.LastName,
			"password_hash": account.PasswordHash,
			"updated_at":    account.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update account: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return la.ErrNotFound
	}
	return nil
}

func (s *Store) CountUsernamesWithPrefix(ctx context.Context, prefix string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&AccountModel{}).
		Where("username LIKE ? ESCAPE '\\'", EscapeLike(prefix)+"%").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count usernames: %w", err)
	}
	return int(count), nil
}

// =============================================================================
// Identity records
// =============================================================================

func (s *Store) FindIdentity(ctx context.Context, provider la.Provider, externalID string) (*la.IdentityRecord, error) {
	var model IdentityModel
	err := s.db.WithContext(ctx).
		First(&model, "provider = ? AND external_id = ?", string(provider), externalID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, la.ErrNotFound
		}
		return nil, err
	}
	return model.ToIdentityRecord(), nil
}

func (s *Store) InsertIdentity(ctx context.Context, record *la.IdentityRecord) error {
	if err := s.db.WithContext(ctx).Create(IdentityRecordToModel(record)).Error; err != nil {
		if isUniqueViolation(err) {
			return la.ErrIdentityExists
		}
		return fmt.Errorf("failed to insert identity: %w", err)
	}
	return nil
}

func (s *Store) UpdateIdentity(ctx context.Context, record *la.IdentityRecord) error {
	result := s.db.WithContext(ctx).Model(&IdentityModel{}).
		Where("provider = ? AND external_id = ? AND account_id = ?", string(record.Provider), record.ExternalID, record.AccountID).
		Updates(map[string]any{
			"nickname":                 record.Nickname,
			"email":                    record.Email,
			"email_verified":           record.EmailVerified,
			"needs_cross_domain_merge": record.NeedsCrossDomainMerge,
			"updated_at":               record.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update identity: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return la.ErrNotFound
	}
	return nil
}

func (s *Store) ListAccountIdentities(ctx context.Context, accountID string) ([]*la.IdentityRecord, error) {
	var models []IdentityModel
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	records := make([]*la.IdentityRecord, len(models))
	for i := range models {
		records[i] = models[i].ToIdentityRecord()
	}
	return records, nil
}

// =============================================================================
// Audit
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry *la.AuditEntry) error {
	if err := s.db.WithContext(ctx).Create(AuditEntryToModel(entry)).Error; err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, accountID string) ([]*la.AuditEntry, error) {
	var models []AuditModel
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	entries := make([]*la.AuditEntry, len(models))
	for i := range models {
		entries[i] = models[i].ToAuditEntry()
	}
	return entries, nil
}

// =============================================================================
// Helpers
// =============================================================================

// EscapeLike escapes the LIKE wildcards in s using backslash
func EscapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// Dialects without error translation, e.g. sqlite
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key")
}
