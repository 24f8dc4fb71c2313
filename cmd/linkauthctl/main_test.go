package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	la "github.com/panyam/linkauth"
)

// run executes the CLI against an fs store rooted in dir
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LINKAUTH_STORAGE_BACKEND", "fs")
	t.Setenv("LINKAUTH_STORAGE_PATH", dir)
	t.Setenv("LINKAUTH_JWT_SECRET_KEY", "test-secret")
	t.Chdir(t.TempDir())

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_InspectsLinkedAccount(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	_, err := run(t, dir, "migrate")
	require.NoError(t, err)

	cfg := (&la.Config{Storage: la.StorageConfig{Backend: la.BackendFS, Path: dir}}).EnsureDefaults()
	b, err := openBackend(context.Background(), cfg)
	require.NoError(t, err)
	p, err := la.NewProvisionerFromConfig(cfg, b.store, nil)
	require.NoError(t, err)
	svc := la.NewServiceFromConfig(cfg, p, nil, nil, nil)

	ctx := context.Background()
	googleID := "https://www.google.com/accounts/o8/id?id=erin"
	account, err := svc.Authenticate(ctx, la.ProviderOpenID, la.OpenIDResponse{Identifier: googleID, Source: "Google"}, nil)
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, la.ProviderTwitter, la.TwitterProfile{ScreenName: "erin"}, account)
	require.NoError(t, err)

	out, err := run(t, dir, "account", "show", account.ID)
	require.NoError(t, err)
	var shown la.Account
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, account.Username, shown.Username)

	out, err = run(t, dir, "identities", "list", account.ID)
	require.NoError(t, err)
	var records []la.IdentityRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 2)
	assert.True(t, records[0].NeedsCrossDomainMerge)

	out, err = run(t, dir, "audit", "list", account.ID)
	require.NoError(t, err)
	var entries []la.AuditEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.Len(t, entries, 2)

	_, err = run(t, dir, "merge", "clear", "openid", googleID)
	require.NoError(t, err)
	record, err := b.store.FindIdentity(ctx, la.ProviderOpenID, googleID)
	require.NoError(t, err)
	assert.False(t, record.NeedsCrossDomainMerge)
}

func TestCLI_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, dir, "account", "show", "missing")
	assert.ErrorIs(t, err, la.ErrNotFound)

	_, err = run(t, dir, "merge", "clear", "myspace", "x")
	assert.ErrorContains(t, err, "unknown provider")

	_, err = run(t, dir, "identities", "list")
	assert.Error(t, err)
}
