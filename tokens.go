package linkauth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default session token lifetime
const TokenExpirySession = 1 * time.Hour

// SessionTokens signs and verifies the HS256 session tokens handed out after
// a successful login. The subject is the account id.
type SessionTokens struct {
	Issuer    string
	SecretKey string
	Expiry    time.Duration
	Now       func() time.Time
}

// SessionClaims are the claims carried by a session token
type SessionClaims struct {
	Username string `json:"username,omitempty"`

	// Provider is the provider the session was established with
	Provider Provider `json:"provider,omitempty"`
	jwt.RegisteredClaims
}

func NewSessionTokens(issuer, secretKey string) *SessionTokens {
	return &SessionTokens{Issuer: issuer, SecretKey: secretKey, Expiry: TokenExpirySession}
}

func (s *SessionTokens) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Issue creates a signed token for account
func (s *SessionTokens) Issue(account *Account, provider Provider) (string, error) {
	if account == nil || account.ID == "" {
		return "", fmt.Errorf("account is required")
	}
	if s.SecretKey == "" {
		return "", fmt.Errorf("no jwt secret key configured")
	}
	expiry := s.Expiry
	if expiry <= 0 {
		expiry = TokenExpirySession
	}
	now := s.now()
	claims := SessionClaims{
		Username: account.Username,
		Provider: provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			Issuer:    s.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.SecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// Verify checks the signature, issuer and expiry and returns the claims
func (s *SessionTokens) Verify(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return []byte(s.SecretKey), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("subject not found")
	}
	return claims, nil
}

// VerifyAccountID matches the Middleware.VerifyToken signature
func (s *SessionTokens) VerifyAccountID(tokenString string) (string, any, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		return "", nil, err
	}
	return claims.Subject, claims, nil
}
