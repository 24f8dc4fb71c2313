package grpc

import (
	"context"
	"log/slog"
	"strings"

	"github.com/panyam/linkauth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// AccountLookup re-hydrates an account id. *linkauth.Service satisfies it.
type AccountLookup interface {
	LookupAccount(ctx context.Context, accountID string) (*linkauth.Account, error)
}

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	*Config

	// RequireAuth rejects requests without a resolvable account
	RequireAuth bool

	// PublicMethods don't require auth. Keys are full method names like
	// "/package.Service/Method".
	PublicMethods map[string]bool

	// Lookup loads the account into the context. Optional; without it only
	// the id is checked.
	Lookup AccountLookup

	// VerifyToken validates bearer tokens, e.g. (*linkauth.SessionTokens).VerifyAccountID.
	// When set, only a verified bearer token identifies the caller and the
	// account id metadata key is ignored. Without it the authorization key is
	// ignored and the account id key is taken as is, so the edge proxy must
	// strip it from untrusted requests.
	VerifyToken func(token string) (accountID string, claims any, err error)
}

// DefaultInterceptorConfig returns a config that requires auth for all methods.
func DefaultInterceptorConfig() *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig()
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig() *InterceptorConfig {
	config := DefaultInterceptorConfig()
	config.RequireAuth = false
	return config
}

func (config *InterceptorConfig) ensureDefaults() *InterceptorConfig {
	if config == nil {
		config = DefaultInterceptorConfig()
	}
	if config.Config == nil {
		config.Config = DefaultConfig()
	}
	config.Config.EnsureDefaults()
	return config
}

// UnaryAuthInterceptor resolves the caller's account and stores it in the context
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config = config.ensureDefaults()
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := authenticate(ctx, config, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor is UnaryAuthInterceptor for streams
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config = config.ensureDefaults()
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authenticate(ss.Context(), config, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

func authenticate(ctx context.Context, config *InterceptorConfig, method string) (context.Context, error) {
	required := config.RequireAuth && !config.PublicMethods[method]

	accountID := extractAccountID(ctx, config)
	if accountID != "" && config.Lookup != nil {
		account, err := config.Lookup.LookupAccount(ctx, accountID)
		if err != nil {
			slog.Error("account lookup failed", "account_id", accountID, "error", err)
			return nil, status.Error(codes.Internal, "account lookup failed")
		}
		if account == nil {
			// stale id, the account no longer exists
			accountID = ""
		} else {
			ctx = ContextWithAccount(ctx, account)
		}
	}

	if required && accountID == "" {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	return ctx, nil
}

// extractAccountID returns the id of a verified bearer token when tokens are
// verified, and the trusted account id metadata otherwise
func extractAccountID(ctx context.Context, config *InterceptorConfig) string {
	if config.VerifyToken == nil {
		return AccountIDFromContextWithConfig(ctx, config.Config)
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, value := range md.Get(config.Config.MetadataKeyAuthorization) {
		token := strings.TrimSpace(strings.TrimPrefix(value, "Bearer "))
		if token == "" {
			continue
		}
		if id, _, err := config.VerifyToken(token); err == nil && id != "" {
			return id
		}
	}
	return ""
}
