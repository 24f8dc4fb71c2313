// Package client calls the linkauth profile endpoints with a stored session
// token. It includes credential storage and an HTTP client that attaches the
// token to every request.
package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	la "github.com/panyam/linkauth"
)

// ServerCredential holds the session token issued by a single server
type ServerCredential struct {
	Token     string      `json:"token"`
	AccountID string      `json:"account_id"`
	Username  string      `json:"username,omitempty"`
	Provider  la.Provider `json:"provider,omitempty"`
	ExpiresAt time.Time   `json:"expires_at"`
	CreatedAt time.Time   `json:"created_at"`
}

// IsExpired returns true if the token has expired. Tokens without an
// expiry never expire.
func (c *ServerCredential) IsExpired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

// CredentialFromToken reads the claims of a session token without verifying
// its signature. The server verifies; the client only needs the subject and
// expiry.
func CredentialFromToken(token string) (*ServerCredential, error) {
	claims := &la.SessionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("session token has no subject")
	}
	cred := &ServerCredential{
		Token:     token,
		AccountID: claims.Subject,
		Username:  claims.Username,
		Provider:  claims.Provider,
		CreatedAt: time.Now(),
	}
	if claims.ExpiresAt != nil {
		cred.ExpiresAt = claims.ExpiresAt.Time
	}
	return cred, nil
}

// CredentialStore defines the interface for storing and retrieving credentials
type CredentialStore interface {
	// GetCredential retrieves a credential for a server URL
	// Returns nil, nil if no credential exists for the server
	GetCredential(serverURL string) (*ServerCredential, error)

	SetCredential(serverURL string, cred *ServerCredential) error
	RemoveCredential(serverURL string) error

	// ListServers returns all server URLs with stored credentials
	ListServers() ([]string, error)

	// Save persists any pending changes (for stores that batch writes)
	Save() error
}

// FileCredentialStore keeps credentials in a single JSON file, e.g.
// ~/.config/linkauth/credentials.json. Changes are written on Save.
type FileCredentialStore struct {
	Path string

	mu          sync.Mutex
	loaded      bool
	credentials map[string]*ServerCredential
}

func NewFileCredentialStore(path string) *FileCredentialStore {
	return &FileCredentialStore{Path: path}
}

// NewMemoryCredentialStore returns a store that never touches disk
func NewMemoryCredentialStore() *FileCredentialStore {
	return &FileCredentialStore{loaded: true, credentials: map[string]*ServerCredential{}}
}

func (s *FileCredentialStore) load() error {
	if s.loaded {
		return nil
	}
	s.credentials = map[string]*ServerCredential{}
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}
	if err := json.Unmarshal(data, &s.credentials); err != nil {
		return fmt.Errorf("failed to parse credentials: %w", err)
	}
	s.loaded = true
	return nil
}

func (s *FileCredentialStore) GetCredential(serverURL string) (*ServerCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	return s.credentials[serverURL], nil
}

func (s *FileCredentialStore) SetCredential(serverURL string, cred *ServerCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	s.credentials[serverURL] = cred
	return nil
}

func (s *FileCredentialStore) RemoveCredential(serverURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	delete(s.credentials, serverURL)
	return nil
}

func (s *FileCredentialStore) ListServers() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	servers := make([]string, 0, len(s.credentials))
	for server := range s.credentials {
		servers = append(servers, server)
	}
	sort.Strings(servers)
	return servers, nil
}

// Save writes the credentials with 0600 permissions. A memory store ignores it.
func (s *FileCredentialStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Path == "" || !s.loaded {
		return nil
	}
	data, err := json.MarshalIndent(s.credentials, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return os.Rename(tmp, s.Path)
}
