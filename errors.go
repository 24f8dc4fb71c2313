package linkauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/oauth2"

	fboauth "github.com/panyam/linkauth/oauth2"
)

// ErrorKind classifies why an authentication attempt failed
type ErrorKind string

const (
	// KindAssertionInvalid: the provider asserted data that cannot be used
	KindAssertionInvalid ErrorKind = "assertion_invalid"

	// KindProviderUnavailable: the handshake or a profile call failed or timed out
	KindProviderUnavailable ErrorKind = "provider_unavailable"

	// KindProvisioning: the storage unit of work failed
	KindProvisioning ErrorKind = "provisioning_failed"

	// KindAlreadyLinked: link mode found the identity on a different account
	KindAlreadyLinked ErrorKind = "already_linked"

	// KindUsernameExhausted: every username candidate collided
	KindUsernameExhausted ErrorKind = "username_exhausted"
)

// Sentinels for errors.Is. They match any AuthError of the same kind.
var (
	ErrAssertionInvalid    = &AuthError{Kind: KindAssertionInvalid}
	ErrProviderUnavailable = &AuthError{Kind: KindProviderUnavailable}
	ErrProvisioning        = &AuthError{Kind: KindProvisioning}
	ErrAlreadyLinked       = &AuthError{Kind: KindAlreadyLinked}
	ErrUsernameExhausted   = &AuthError{Kind: KindUsernameExhausted}
)

// AuthError is returned by every Authenticator and by the Provisioner
type AuthError struct {
	Kind     ErrorKind
	Provider Provider
	Message  string
	Err      error
}

func (e *AuthError) Error() string {
	msg := string(e.Kind)
	if e.Provider != "" {
		msg = fmt.Sprintf("%s: %s", e.Provider, msg)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches another AuthError with the same kind
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// IsAuthentication reports whether the failure happened on the provider side
// rather than during provisioning
func (e *AuthError) IsAuthentication() bool {
	return e.Kind == KindAssertionInvalid || e.Kind == KindProviderUnavailable
}

// KindOf returns the ErrorKind of err, or "" if err is not an AuthError
func KindOf(err error) ErrorKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsAuthenticationError reports whether err is a provider side AuthError
func IsAuthenticationError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.IsAuthentication()
}

func assertionInvalid(p Provider, format string, args ...any) *AuthError {
	return &AuthError{Kind: KindAssertionInvalid, Provider: p, Message: fmt.Sprintf(format, args...)}
}

func providerUnavailable(p Provider, message string, err error) *AuthError {
	return &AuthError{Kind: KindProviderUnavailable, Provider: p, Message: message, Err: err}
}

func provisioningFailed(p Provider, message string, err error) *AuthError {
	return &AuthError{Kind: KindProvisioning, Provider: p, Message: message, Err: err}
}

// classifyProviderError maps an error returned by a handshake collaborator
// onto AssertionInvalid or ProviderUnavailable.
func classifyProviderError(p Provider, message string, err error) *AuthError {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return providerUnavailable(p, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return providerUnavailable(p, message, err)
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		code := retrieveErr.Response.StatusCode
		if code >= http.StatusBadRequest && code < http.StatusInternalServerError {
			return &AuthError{Kind: KindAssertionInvalid, Provider: p, Message: message, Err: err}
		}
	}
	// Graph answers a bad or forged token with a 4xx OAuthException
	var graphErr *fboauth.GraphError
	if errors.As(err, &graphErr) && graphErr.StatusCode >= http.StatusBadRequest && graphErr.StatusCode < http.StatusInternalServerError {
		return &AuthError{Kind: KindAssertionInvalid, Provider: p, Message: message, Err: err}
	}
	return providerUnavailable(p, message, err)
}
