//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	la "github.com/panyam/linkauth"
)

// Kind constants for Datastore entities
const (
	KindAccount  = "Account"
	KindUsername = "Username"
	KindIdentity = "Identity"
	KindAudit    = "LinkAudit"
)

// Store implements la.Store using Google Cloud Datastore
type Store struct {
	client    *datastore.Client
	namespace string
}

// NewStore creates a new Datastore-backed Store
func NewStore(client *datastore.Client, namespace string) *Store {
	return &Store{
		client:    client,
		namespace: namespace,
	}
}

func (s *Store) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *Store) identityKey(provider la.Provider, externalID string) *datastore.Key {
	return s.namespacedKey(KindIdentity, la.IdentityKey(provider, externalID))
}

// RunInTransaction runs fn in a Datastore transaction. Reads through tx see
// the state at the start of the transaction; queries run outside it.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx la.Store) error) error {
	return s.run(ctx, func(t *txStore) error { return fn(t) })
}

// run executes a single mutation in its own transaction
func (s *Store) run(ctx context.Context, fn func(t *txStore) error) error {
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		return fn(&txStore{Store: s, tx: tx})
	})
	return err
}

// ============================================================================
// Accounts
// ============================================================================

func (s *Store) CreateAccount(ctx context.Context, account *la.Account) error {
	return s.run(ctx, func(t *txStore) error { return t.CreateAccount(ctx, account) })
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*la.Account, error) {
	var entity AccountEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindAccount, accountID), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, la.ErrNotFound
		}
		return nil, err
	}
	return entity.ToAccount(), nil
}

func (s *Store) UpdateAccount(ctx context.Context, account *la.Account) error {
	return s.run(ctx, func(t *txStore) error { return t.UpdateAccount(ctx, account) })
}

// CountUsernamesWithPrefix counts Username keys in [prefix, prefix+U+FFFD)
func (s *Store) CountUsernamesWithPrefix(ctx context.Context, prefix string) (int, error) {
	q := datastore.NewQuery(KindUsername).
		Namespace(s.namespace).
		FilterField("__key__", ">=", s.namespacedKey(KindUsername, prefix)).
		FilterField("__key__", "<", s.namespacedKey(KindUsername, prefix+"\ufffd")).
		KeysOnly()

	count := 0
	it := s.client.Run(ctx, q)
	for {
		_, err := it.Next(nil)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to count usernames: %w", err)
		}
		count++
	}
	return count, nil
}

// ============================================================================
// Identity records
// ============================================================================

func (s *Store) FindIdentity(ctx context.Context, provider la.Provider, externalID string) (*la.IdentityRecord, error) {
	var entity IdentityEntity
	if err := s.client.Get(ctx, s.identityKey(provider, externalID), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, la.ErrNotFound
		}
		return nil, err
	}
	return entity.ToIdentityRecord(), nil
}

func (s *Store) InsertIdentity(ctx context.Context, record *la.IdentityRecord) error {
	return s.run(ctx, func(t *txStore) error { return t.InsertIdentity(ctx, record) })
}

func (s *Store) UpdateIdentity(ctx context.Context, record *la.IdentityRecord) error {
	return s.run(ctx, func(t *txStore) error { return t.UpdateIdentity(ctx, record) })
}

func (s *Store) ListAccountIdentities(ctx context.Context, accountID string) ([]*la.IdentityRecord, error) {
	q := datastore.NewQuery(KindIdentity).
		Namespace(s.namespace).
		FilterField("account_id", "=", accountID)

	var records []*la.IdentityRecord
	it := s.client.Run(ctx, q)
	for {
		var entity IdentityEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		records = append(records, entity.ToIdentityRecord())
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// ============================================================================
// Audit
// ============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry *la.AuditEntry) error {
	key := s.namespacedKey(KindAudit, entry.ID)
	if _, err := s.client.Put(ctx, key, AuditEntryToEntity(entry, key)); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListAudit sorts in memory so no composite index is needed
func (s *Store) ListAudit(ctx context.Context, accountID string) ([]*la.AuditEntry, error) {
	q := datastore.NewQuery(KindAudit).
		Namespace(s.namespace).
		FilterField("account_id", "=", accountID)

	var entries []*la.AuditEntry
	it := s.client.Run(ctx, q)
	for {
		var entity AuditEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, entity.ToAuditEntry())
	}
	sortAudit(entries)
	return entries, nil
}

func sortAudit(entries []*la.AuditEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}

// ============================================================================
// Transactional view
// ============================================================================

// txStore routes key reads and all writes through a Datastore transaction.
// Queries are not transactional and go to the embedded Store.
type txStore struct {
	*Store
	tx *datastore.Transaction
}

func (t *txStore) RunInTransaction(ctx context.Context, fn func(tx la.Store) error) error {
	return fn(t)
}

func (t *txStore) CreateAccount(ctx context.Context, account *la.Account) error {
	if account.ID == "" || account.Username == "" {
		return fmt.Errorf("account id and username are required")
	}
	usernameKey := t.namespacedKey(KindUsername, account.Username)
	var existing UsernameEntity
	err := t.tx.Get(usernameKey, &existing)
	if err == nil {
		return la.ErrUsernameTaken
	}
	if !errors.Is(err, datastore.ErrNoSuchEntity) {
		return err
	}

	reservation := &UsernameEntity{Key: usernameKey, AccountID: account.ID, CreatedAt: time.Now()}
	if _, err := t.tx.Put(usernameKey, reservation); err != nil {
		return err
	}
	accountKey := t.namespacedKey(KindAccount, account.ID)
	if _, err := t.tx.Put(accountKey, AccountToEntity(account, accountKey)); err != nil {
		return err
	}
	return nil
}

func (t *txStore) GetAccount(ctx context.Context, accountID string) (*la.Account, error) {
	var entity AccountEntity
	if err := t.tx.Get(t.namespacedKey(KindAccount, accountID), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, la.ErrNotFound
		}
		return nil, err
	}
	return entity.ToAccount(), nil
}

func (t *txStore) UpdateAccount(ctx context.Context, account *la.Account) error {
	key := t.namespacedKey(KindAccount, account.ID)
	var entity AccountEntity
	if err := t.tx.Get(key, &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return la.ErrNotFound
		}
		return err
	}
	entity.Email = account.Email
	entity.FirstName = account.FirstName
	entity.LastName = account.LastName
	entity.PasswordHash = account.PasswordHash
	entity.UpdatedAt = account.UpdatedAt
	_, err := t.tx.Put(key, &entity)
	return err
}

func (t *txStore) FindIdentity(ctx context.Context, provider la.Provider, externalID string) (*la.IdentityRecord, error) {
	var entity IdentityEntity
	if err := t.tx.Get(t.identityKey(provider, externalID), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, la.ErrNotFound
		}
		return nil, err
	}
	return entity.ToIdentityRecord(), nil
}

func (t *txStore) InsertIdentity(ctx context.Context, record *la.IdentityRecord) error {
	key := t.identityKey(record.Provider, record.ExternalID)
	var existing IdentityEntity
	err := t.tx.Get(key, &existing)
	if err == nil {
		return la.ErrIdentityExists
	}
	if !errors.Is(err, datastore.ErrNoSuchEntity) {
		return err
	}
	_, err = t.tx.Put(key, IdentityRecordToEntity(record, key))
	return err
}

func (t *txStore) UpdateIdentity(ctx context.Context, record *la.IdentityRecord) error {
	key := t.identityKey(record.Provider, record.ExternalID)
	var entity IdentityEntity
	if err := t.tx.Get(key, &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return la.ErrNotFound
		}
		return err
	}
	if entity.AccountID != record.AccountID {
		return fmt.Errorf("identity %s cannot move to another account", record.Key())
	}
	entity.Nickname = record.Nickname
	entity.Email = record.Email
	entity.EmailVerified = record.EmailVerified
	entity.NeedsCrossDomainMerge = record.NeedsCrossDomainMerge
	entity.UpdatedAt = record.UpdatedAt
	_, err := t.tx.Put(key, &entity)
	return err
}

func (t *txStore) AppendAudit(ctx context.Context, entry *la.AuditEntry) error {
	key := t.namespacedKey(KindAudit, entry.ID)
	_, err := t.tx.Put(key, AuditEntryToEntity(entry, key))
	return err
}
