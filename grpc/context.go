// Package grpc carries the logged in account between HTTP handlers and gRPC
// services via metadata, and re-hydrates it on the server side.
package grpc

import (
	"context"

	"github.com/panyam/linkauth"
	"google.golang.org/grpc/metadata"
)

const (
	// DefaultMetadataKeyAccountID is the gRPC metadata key for the authenticated account id
	DefaultMetadataKeyAccountID = "x-account-id"

	// DefaultMetadataKeySwitchAccount overrides the account id (testing only)
	DefaultMetadataKeySwitchAccount = "x-switch-account"

	// DefaultMetadataKeyAuthorization carries a "Bearer <session token>"
	DefaultMetadataKeyAuthorization = "authorization"
)

// Config holds the metadata key configuration for auth context.
type Config struct {
	MetadataKeyAccountID     string
	MetadataKeySwitchAccount string
	MetadataKeyAuthorization string

	// EnableSwitchAuth lets the switch key override the account id.
	// Should only be enabled in development/testing environments.
	EnableSwitchAuth bool
}

func DefaultConfig() *Config {
	return &Config{
		MetadataKeyAccountID:     DefaultMetadataKeyAccountID,
		MetadataKeySwitchAccount: DefaultMetadataKeySwitchAccount,
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAccountID == "" {
		c.MetadataKeyAccountID = DefaultMetadataKeyAccountID
	}
	if c.MetadataKeySwitchAccount == "" {
		c.MetadataKeySwitchAccount = DefaultMetadataKeySwitchAccount
	}
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
}

// AccountIDFromContext extracts the account id from incoming metadata.
// Returns "" if there is none.
func AccountIDFromContext(ctx context.Context) string {
	return AccountIDFromContextWithConfig(ctx, nil)
}

func AccountIDFromContextWithConfig(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if config.EnableSwitchAuth {
		if values := md.Get(config.MetadataKeySwitchAccount); len(values) > 0 && values[0] != "" {
			return values[0]
		}
	}
	if values := md.Get(config.MetadataKeyAccountID); len(values) > 0 {
		return values[0]
	}
	return ""
}

// AccountIDToOutgoingContext adds the account id to outgoing metadata
func AccountIDToOutgoingContext(ctx context.Context, accountID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyAccountID, accountID)
}

// TokenToOutgoingContext adds a session token as a bearer authorization
func TokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyAuthorization, "Bearer "+token)
}

// SwitchAccountToOutgoingContext only has an effect when the server enables switch auth
func SwitchAccountToOutgoingContext(ctx context.Context, accountID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeySwitchAccount, accountID)
}

type accountKey struct{}

// AccountFromContext returns the account the interceptor loaded, or nil
func AccountFromContext(ctx context.Context) *linkauth.Account {
	account, _ := ctx.Value(accountKey{}).(*linkauth.Account)
	return account
}

// ContextWithAccount stores account for AccountFromContext
func ContextWithAccount(ctx context.Context, account *linkauth.Account) context.Context {
	return context.WithValue(ctx, accountKey{}, account)
}
