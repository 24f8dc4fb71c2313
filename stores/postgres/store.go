package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	la "github.com/panyam/linkauth"
)

// Constraint names from the migrations. Unique violations are mapped to
// sentinel errors by name.
const (
	usernameConstraint = "accounts_username_key"
	identityConstraint = "identity_records_provider_external_key"
)

// Store implements la.Store on PostgreSQL with sqlx
type Store struct {
	db *sqlx.DB

	// q is db, or the open transaction inside RunInTransaction
	q  sqlx.ExtContext
	tx *sqlx.Tx
}

// NewStore creates a PostgreSQL store
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, q: db}
}

type accountRow struct {
	ID           string       `db:"id"`
	Username     string       `db:"username"`
	Email        string       `db:"email"`
	FirstName    string       `db:"first_name"`
	LastName     string       `db:"last_name"`
	PasswordHash string       `db:"password_hash"`
	CreatedAt    sql.NullTime `db:"created_at"`
	UpdatedAt    sql.NullTime `db:"updated_at"`
}

func (r *accountRow) toAccount() *la.Account {
	return &la.Account{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.Time,
		UpdatedAt:    r.UpdatedAt.Time,
	}
}

type identityRow struct {
	ID                    string       `db:"id"`
	Provider              string       `db:"provider"`
	ExternalID            string       `db:"external_id"`
	AccountID             string       `db:"account_id"`
	Nickname              string       `db:"nickname"`
	Email                 string       `db:"email"`
	EmailVerified         bool         `db:"email_verified"`
	NeedsCrossDomainMerge bool         `db:"needs_cross_domain_merge"`
	Source                string       `db:"source"`
	CreatedAt             sql.NullTime `db:"created_at"`
	UpdatedAt             sql.NullTime `db:"updated_at"`
}

func (r *identityRow) toRecord() *la.IdentityRecord {
	return &la.IdentityRecord{
		ID:                    r.ID,
		Provider:              la.Provider(r.Provider),
		ExternalID:            r.ExternalID,
		AccountID:             r.AccountID,
		Nickname:              r.Nickname,
		Email:                 r.Email,
		EmailVerified:         r.EmailVerified,
		NeedsCrossDomainMerge: r.NeedsCrossDomainMerge,
		Source:                r.Source,
		CreatedAt:             r.CreatedAt.Time,
		UpdatedAt:             r.UpdatedAt.Time,
	}
}

type auditRow struct {
	ID         string       `db:"id"`
	AccountID  string       `db:"account_id"`
	Provider   string       `db:"provider"`
	IdentityID string       `db:"identity_id"`
	Source     string       `db:"source"`
	CreatedAt  sql.NullTime `db:"created_at"`
}

func (r *auditRow) toEntry() *la.AuditEntry {
	return &la.AuditEntry{
		ID:         r.ID,
		AccountID:  r.AccountID,
		Provider:   la.Provider(r.Provider),
		IdentityID: r.IdentityID,
		Source:     r.Source,
		CreatedAt:  r.CreatedAt.Time,
	}
}

// RunInTransaction runs fn inside a database transaction. A store that is
// already in a transaction passes itself to fn.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx la.Store) error) (err error) {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Store{db: s.db, q: tx, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err, identityConstraint) {
			return la.ErrIdentityExists
		}
		if isUniqueViolation(err, usernameConstraint) {
			return la.ErrUsernameTaken
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// Accounts
// =============================================================================

const accountColumns = `id, username, email, first_name, last_name, password_hash, created_at, updated_at`

func (s *Store) CreateAccount(ctx context.Context, account *la.Account) error {
	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.q.ExecContext(ctx, query,
		account.ID,
		account.Username,
		account.Email,
		account.FirstName,
		account.LastName,
		account.PasswordHash,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, usernameConstraint) {
			return la.ErrUsernameTaken
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*la.Account, error) {
	var row accountRow
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	if err := sqlx.GetContext(ctx, s.q, &row, query, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, la.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return row.toAccount(), nil
}

func (s *Store) UpdateAccount(ctx context.Context, account *la.Account) error {
	query := `
		UPDATE accounts
		SET email = $1,
		    first_name = $2,
		    last_name = $3,
		    password_hash = $4,
		    updated_at = $5
		WHERE id = $6
	`
	result, err := s.q.ExecContext(ctx, query,
		account.Email,
		account.FirstName,
		account.LastName,
		account.PasswordHash,
		account.UpdatedAt,
		account.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return expectRow(result)
}

func (s *Store) CountUsernamesWithPrefix(ctx context.Context, prefix string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM accounts WHERE username LIKE $1 ESCAPE '\'`
	if err := sqlx.GetContext(ctx, s.q, &count, query, escapeLike(prefix)+"%"); err != nil {
		return 0, fmt.Errorf("failed to count usernames: %w", err)
	}
	return count, nil
}

// =============================================================================
// Identity records
// =============================================================================

const identityColumns = `id, provider, external_id, account_id, nickname, email, email_verified,
	needs_cross_domain_merge, source, created_at, updated_at`

func (s *Store) FindIdentity(ctx context.Context, provider la.Provider, externalID string) (*la.IdentityRecord, error) {
	var row identityRow
	query := `SELECT ` + identityColumns + ` FROM identity_records WHERE provider = $1 AND external_id = $2`
	if err := sqlx.GetContext(ctx, s.q, &row, query, string(provider), externalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, la.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	return row.toRecord(), nil
}

func (s *Store) InsertIdentity(ctx context.Context, record *la.IdentityRecord) error {
	query := `
		INSERT INTO identity_records (` + identityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.q.ExecContext(ctx, query,
		record.ID,
		string(record.Provider),
		record.ExternalID,
		record.AccountID,
		record.Nickname,
		record.Email,
		record.EmailVerified,
		record.NeedsCrossDomainMerge,
		record.Source,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, identityConstraint) {
			return la.ErrIdentityExists
		}
		return fmt.Errorf("failed to insert identity: %w", err)
	}
	return nil
}

func (s *Store) UpdateIdentity(ctx context.Context, record *la.IdentityRecord) error {
	query := `
		UPDATE identity_records
		SET nickname = $1,
		    email = $2,
		    email_verified = $3,
		    needs_cross_domain_merge = $4,
		    updated_at = $5
		WHERE provider = $6 AND external_id = $7 AND account_id = $8
	`
	result, err := s.q.ExecContext(ctx, query,
		record.Nickname,
		record.Email,
		record.EmailVerified,
		record.NeedsCrossDomainMerge,
		record.UpdatedAt,
		string(record.Provider),
		record.ExternalID,
		record.AccountID,
	)
	if err != nil {
		return fmt.Errorf("failed to update identity: %w", err)
	}
	return expectRow(result)
}

func (s *Store) ListAccountIdentities(ctx context.Context, accountID string) ([]*la.IdentityRecord, error) {
	var rows []identityRow
	query := `SELECT ` + identityColumns + ` FROM identity_records WHERE account_id = $1 ORDER BY created_at ASC`
	if err := sqlx.SelectContext(ctx, s.q, &rows, query, accountID); err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	records := make([]*la.IdentityRecord, len(rows))
	for i := range rows {
		records[i] = rows[i].toRecord()
	}
	return records, nil
}

// =============================================================================
// Audit
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry *la.AuditEntry) error {
	query := `
		INSERT INTO link_audit (id, account_id, provider, identity_id, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.q.ExecContext(ctx, query,
		entry.ID,
		entry.AccountID,
		string(entry.Provider),
		entry.IdentityID,
		entry.Source,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, accountID string) ([]*la.AuditEntry, error) {
	var rows []auditRow
	query := `
		SELECT id, account_id, provider, identity_id, source, created_at
		FROM link_audit
		WHERE account_id = $1
		ORDER BY created_at ASC, id ASC
	`
	if err := sqlx.SelectContext(ctx, s.q, &rows, query, accountID); err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	entries := make([]*la.AuditEntry, len(rows))
	for i := range rows {
		entries[i] = rows[i].toEntry()
	}
	return entries, nil
}

// =============================================================================
// Helpers
// =============================================================================

func expectRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return la.ErrNotFound
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// isUniqueViolation reports a 23505 error on the named constraint
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && pqErr.Constraint == constraint
}
