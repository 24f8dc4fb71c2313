package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	la "github.com/panyam/linkauth"
)

// fsUsername reserves a username for an account
type fsUsername struct {
	Username  string `json:"username"`
	AccountID string `json:"account_id"`
}

// FSStore implements linkauth.Store using filesystem storage.
//
// # Purpose
//
// A dependency free backend for development, tests and single node
// deployments. Each account, identity record, username reservation and
// audit entry is a separate JSON file.
//
// # File Structure
//
//	{StoragePath}/
//	├── accounts/
//	│   └── {base64url(account id)}.json
//	├── usernames/
//	│   └── {base64url(username)}.json       # {"username": "OI-alice", "account_id": "..."}
//	├── identities/
//	│   └── {base64url(provider:external id)}.json
//	└── audit/
//	    └── {base64url(account id)}/
//	        └── {base64url(entry id)}.json
//
// # Concurrency Model
//
// Username and identity files are created with an exclusive hard link, so
// uniqueness holds even across processes sharing the directory. Within a
// process all operations are serialized by a mutex and RunInTransaction
// keeps an undo journal: when fn fails every file written through the
// transaction is restored to its previous content or removed.
//
// # Setup
//
//	store := fs.NewFSStore("/var/data/linkauth")
//	provisioner := linkauth.NewProvisioner(store)
type FSStore struct {
	StoragePath string

	mu sync.Mutex
}

// NewFSStore creates a new filesystem-backed Store
func NewFSStore(storagePath string) *FSStore {
	return &FSStore{StoragePath: storagePath}
}

// EnsureLayout creates the top level directories of a store rooted at storagePath
func EnsureLayout(storagePath string) error {
	for _, dir := range []string{"accounts", "usernames", "identities", "audit"} {
		if err := os.MkdirAll(filepath.Join(storagePath, dir), 0755); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}
	return nil
}

// journal remembers the previous content of every path written in a
// transaction. A nil entry means the path did not exist.
type journal struct {
	order    []string
	previous map[string][]byte
}

func (j *journal) touch(path string) {
	if j == nil {
		return
	}
	if _, ok := j.previous[path]; ok {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		data = nil
	}
	j.previous[path] = data
	j.order = append(j.order, path)
}

func (j *journal) rollback() error {
	var errs []error
	for i := len(j.order) - 1; i >= 0; i-- {
		path := j.order[i]
		if data := j.previous[path]; data != nil {
			if err := writeAtomicFile(path, data); err != nil {
				errs = append(errs, err)
			}
		} else if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// view performs the actual file operations. The owning FSStore holds the
// lock while a view is in use.
type view struct {
	root    string
	journal *journal
}

// tx is the Store handed to RunInTransaction callbacks
type tx struct {
	view
}

func (s *FSStore) view() view { return view{root: s.StoragePath} }

func (s *FSStore) CreateAccount(ctx context.Context, account *la.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.view()
	return v.createAccount(account)
}

func (s *FSStore) GetAccount(ctx context.Context, accountID string) (*la.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.view()
	return v.getAccount(accountID)
}

func (s *FSStore) UpdateAccount(ctx context.Context, account *la.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.view()
	return v.updateAccount(account)
}

func (s *FSStore) CountUsernamesWithPrefix(ctx context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.view()
	return v.countUsernamesWithPrefix(prefix)
}

func (s *FSStore) FindIdentity(ctx context.Context, provider la.Provider, externalID string) (*la.IdentityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.view()
	return v.findIdentity(provider, externalID)
}

func (s *FSStore) InsertIdentity(ctx context.Context, record *la.IdentityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.view()
	return v.insertIdentity(record)
}

func (s *FSStore) UpdateIdentity(ctx context.Context, record *la.IdentityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.view()
	return v.updateIdentity(record)
}

func (s *FSStore) ListAccountIdentities(ctx context.Context, accountID string) ([]*la.IdentityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.view()
	return v.listAccountIdentities(accountID)
}

func (s *FSStore) AppendAudit(ctx context.Context, entry *la.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.view()
	return v.appendAudit(entry)
}

func (s *FSStore) ListAudit(ctx context.Context, accountID string) ([]*la.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.view()
	return v.listAudit(accountID)
}

// RunInTransaction runs fn with the store locked. Writes made through tx are
// undone if fn returns an error.
func (s *FSStore) RunInTransaction(ctx context.Context, fn func(tx la.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{view: view{
		root:    s.StoragePath,
		journal: &journal{previous: map[string][]byte{}},
	}}
	if err := fn(t); err != nil {
		if rbErr := t.journal.rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}
	return nil
}

func (t *tx) CreateAccount(ctx context.Context, account *la.Account) error {
	return t.createAccount(account)
}

func (t *tx) GetAccount(ctx context.Context, accountID string) (*la.Account, error) {
	return t.getAccount(accountID)
}

func (t *tx) UpdateAccount(ctx context.Context, account *la.Account) error {
	return t.updateAccount(account)
}

func (t *tx) CountUsernamesWithPrefix(ctx context.Context, prefix string) (int, error) {
	return t.countUsernamesWithPrefix(prefix)
}

func (t *tx) FindIdentity(ctx context.Context, provider la.Provider, externalID string) (*la.IdentityRecord, error) {
	return t.findIdentity(provider, externalID)
}

func (t *tx) InsertIdentity(ctx context.Context, record *la.IdentityRecord) error {
	return t.insertIdentity(record)
}

func (t *tx) UpdateIdentity(ctx context.Context, record *la.IdentityRecord) error {
	return t.updateIdentity(record)
}

func (t *tx) ListAccountIdentities(ctx context.Context, accountID string) ([]*la.IdentityRecord, error) {
	return t.listAccountIdentities(accountID)
}

func (t *tx) AppendAudit(ctx context.Context, entry *la.AuditEntry) error {
	return t.appendAudit(entry)
}

func (t *tx) ListAudit(ctx context.Context, accountID string) ([]*la.AuditEntry, error) {
	return t.listAudit(accountID)
}

// RunInTransaction on a transaction joins it
func (t *tx) RunInTransaction(ctx context.Context, fn func(tx la.Store) error) error {
	return fn(t)
}

// =============================================================================
// Paths
// =============================================================================

func (v *view) accountPath(accountID string) string {
	return filepath.Join(v.root, "accounts", fileKey(accountID)+".json")
}

func (v *view) usernamePath(username string) string {
	return filepath.Join(v.root, "usernames", fileKey(username)+".json")
}

func (v *view) identityPath(provider la.Provider, externalID string) string {
	return filepath.Join(v.root, "identities", fileKey(la.IdentityKey(provider, externalID))+".json")
}

func (v *view) auditDir(accountID string) string {
	return filepath.Join(v.root, "audit", fileKey(accountID))
}

// =============================================================================
// Accounts
// =============================================================================

func (v *view) createAccount(account *la.Account) error {
	if account.ID == "" || account.Username == "" {
		return fmt.Errorf("account id and username are required")
	}
	if _, err := os.Stat(v.accountPath(account.ID)); err == nil {
		return fmt.Errorf("account already exists: %s", account.ID)
	}

	reservation, err := json.Marshal(&fsUsername{Username: account.Username, AccountID: account.ID})
	if err != nil {
		return fmt.Errorf("failed to marshal username: %w", err)
	}
	usernamePath := v.usernamePath(account.Username)
	if err := createExclusiveFile(usernamePath, reservation); err != nil {
		if errors.Is(err, errFileExists) {
			return la.ErrUsernameTaken
		}
		return fmt.Errorf("failed to reserve username: %w", err)
	}
	v.journal.touchCreated(usernamePath)

	if err := v.writeAccount(account); err != nil {
		if v.journal == nil {
			os.Remove(usernamePath)
		}
		return err
	}
	return nil
}

func (v *view) getAccount(accountID string) (*la.Account, error) {
	var account accountFile
	if err := readJSON(v.accountPath(accountID), &account); err != nil {
		if os.IsNotExist(err) {
			return nil, la.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read account: %w", err)
	}
	return account.toAccount(), nil
}

func (v *view) updateAccount(account *la.Account) error {
	existing, err := v.getAccount(account.ID)
	if err != nil {
		return err
	}
	if existing.Username != account.Username {
		return fmt.Errorf("username of account %s cannot change", account.ID)
	}
	return v.writeAccount(account)
}

func (v *view) writeAccount(account *la.Account) error {
	data, err := json.MarshalIndent(newAccountFile(account), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	path := v.accountPath(account.ID)
	v.journal.touch(path)
	if err := writeAtomicFile(path, data); err != nil {
		return fmt.Errorf("failed to write account: %w", err)
	}
	return nil
}

func (v *view) countUsernamesWithPrefix(prefix string) (int, error) {
	entries, err := os.ReadDir(filepath.Join(v.root, "usernames"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read usernames directory: %w", err)
	}
	count := 0
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".json")
		if !ok || entry.IsDir() {
			continue
		}
		if username, ok := decodeFileKey(name); ok && strings.HasPrefix(username, prefix) {
			count++
		}
	}
	return count, nil
}

// accountFile is the on-disk form of an account. Account hides its password
// hash from JSON so it is carried here explicitly.
type accountFile struct {
	la.Account
	PasswordHash string `json:"password_hash,omitempty"`
}

func newAccountFile(account *la.Account) *accountFile {
	return &accountFile{Account: *account, PasswordHash: account.PasswordHash}
}

func (f *accountFile) toAccount() *la.Account {
	account := f.Account
	account.PasswordHash = f.PasswordHash
	return &account
}

// =============================================================================
// Identity records
// =============================================================================

func (v *view) findIdentity(provider la.Provider, externalID string) (*la.IdentityRecord, error) {
	var record la.IdentityRecord
	if err := readJSON(v.identityPath(provider, externalID), &record); err != nil {
		if os.IsNotExist(err) {
			return nil, la.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read identity: %w", err)
	}
	return &record, nil
}

func (v *view) insertIdentity(record *la.IdentityRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}
	path := v.identityPath(record.Provider, record.ExternalID)
	if err := createExclusiveFile(path, data); err != nil {
		if errors.Is(err, errFileExists) {
			return la.ErrIdentityExists
		}
		return fmt.Errorf("failed to write identity: %w", err)
	}
	v.journal.touchCreated(path)
	return nil
}

func (v *view) updateIdentity(record *la.IdentityRecord) error {
	existing, err := v.findIdentity(record.Provider, record.ExternalID)
	if err != nil {
		return err
	}
	if existing.AccountID != record.AccountID {
		return fmt.Errorf("identity %s cannot move to another account", record.Key())
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}
	path := v.identityPath(record.Provider, record.ExternalID)
	v.journal.touch(path)
	if err := writeAtomicFile(path, data); err != nil {
		return fmt.Errorf("failed to write identity: %w", err)
	}
	return nil
}

func (v *view) listAccountIdentities(accountID string) ([]*la.IdentityRecord, error) {
	dir := filepath.Join(v.root, "identities")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read identities directory: %w", err)
	}

	var records []*la.IdentityRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var record la.IdentityRecord
		if err := readJSON(filepath.Join(dir, entry.Name()), &record); err != nil {
			continue // skip invalid or concurrently removed files
		}
		if record.AccountID == accountID {
			records = append(records, &record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// =============================================================================
// Audit
// =============================================================================

func (v *view) appendAudit(entry *la.AuditEntry) error {
	if entry.ID == "" || entry.AccountID == "" {
		return fmt.Errorf("audit entry id and account id are required")
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	path := filepath.Join(v.auditDir(entry.AccountID), fileKey(entry.ID)+".json")
	if err := createExclusiveFile(path, data); err != nil {
		if errors.Is(err, errFileExists) {
			return fmt.Errorf("audit entry already exists: %s", entry.ID)
		}
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	v.journal.touchCreated(path)
	return nil
}

func (v *view) listAudit(accountID string) ([]*la.AuditEntry, error) {
	dir := v.auditDir(accountID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read audit directory: %w", err)
	}

	var out []*la.AuditEntry
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var entry la.AuditEntry
		if err := readJSON(filepath.Join(dir, e.Name()), &entry); err != nil {
			return nil, err
		}
		out = append(out, &entry)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// touchCreated records a path that this transaction created
func (j *journal) touchCreated(path string) {
	if j == nil {
		return
	}
	if _, ok := j.previous[path]; ok {
		return
	}
	j.previous[path] = nil
	j.order = append(j.order, path)
}
