package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	la "github.com/panyam/linkauth"
)

// Profile is the body of GET /me
type Profile struct {
	Account    *la.Account          `json:"account"`
	Identities []*la.IdentityRecord `json:"identities"`
}

// ProfileFields are the editable account fields. Nil fields are left unchanged.
type ProfileFields struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Email     *string `json:"email,omitempty"`
}

// APIError is a non 2xx response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// ErrNotLoggedIn is returned when no usable token is stored for the server
var ErrNotLoggedIn = errors.New("not logged in")

// Client is an HTTP client for one linkauth server
type Client struct {
	mu            sync.Mutex
	serverURL     string
	store         CredentialStore
	httpClient    *http.Client
	baseTransport http.RoundTripper
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient copies timeout, redirect policy and cookie jar from client.
// Its transport is wrapped with token handling.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			c.baseTransport = client.Transport
		}
		c.httpClient.Timeout = client.Timeout
		c.httpClient.CheckRedirect = client.CheckRedirect
		c.httpClient.Jar = client.Jar
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.baseTransport = transport
	}
}

func NewClient(serverURL string, store CredentialStore, opts ...ClientOption) *Client {
	// Credentials are keyed by scheme and host
	u, err := url.Parse(serverURL)
	if err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}

	c := &Client{
		serverURL:     serverURL,
		store:         store,
		httpClient:    &http.Client{},
		baseTransport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Transport = &tokenTransport{client: c, base: c.baseTransport}
	return c
}

// HTTPClient returns the underlying HTTP client with token handling
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *Client) ServerURL() string {
	return c.serverURL
}

// SetToken stores a session token obtained from a browser login
func (c *Client) SetToken(token string) (*ServerCredential, error) {
	cred, err := CredentialFromToken(strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	return cred, nil
}

// Token returns the stored token, or "" if there is none or it has expired
func (c *Client) Token() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil {
		return "", err
	}
	if cred == nil || cred.IsExpired() {
		return "", nil
	}
	return cred.Token, nil
}

// IsLoggedIn returns true if there is a non-expired credential
func (c *Client) IsLoggedIn() bool {
	token, err := c.Token()
	return err == nil && token != ""
}

// forget drops the credential after the server rejected it
func (c *Client) forget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.RemoveCredential(c.serverURL); err == nil {
		c.store.Save()
	}
}

// Me fetches the account and its linked identities
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var profile Profile
	if err := c.do(ctx, http.MethodGet, "/me", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (c *Client) UpdateProfile(ctx context.Context, fields ProfileFields) (*la.Account, error) {
	var account la.Account
	if err := c.do(ctx, http.MethodPatch, "/me", fields, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// SkipMerge clears the cross-domain merge flag of the account's OpenID
// identities and returns how many were cleared
func (c *Client) SkipMerge(ctx context.Context) (int, error) {
	var result struct {
		Cleared int `json:"cleared"`
	}
	if err := c.do(ctx, http.MethodPost, "/me/openid/merge/skip", nil, &result); err != nil {
		return 0, err
	}
	return result.Cleared, nil
}

// Logout ends the server session and removes the stored credential
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodGet, "/logout", nil, nil)
	c.mu.Lock()
	defer c.mu.Unlock()
	if rmErr := c.store.RemoveCredential(c.serverURL); rmErr != nil {
		return rmErr
	}
	if saveErr := c.store.Save(); saveErr != nil {
		return saveErr
	}
	if errors.Is(err, ErrNotLoggedIn) {
		return nil
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	token, err := c.Token()
	if err != nil {
		return err
	}
	if token == "" {
		return ErrNotLoggedIn
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}

// tokenTransport adds the bearer token and forgets it when the server
// answers 401
type tokenTransport struct {
	client *Client
	base   http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.client.Token()
	if err != nil {
		return nil, err
	}
	if token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		t.client.forget()
	}
	return resp, nil
}
