package connector

import (
	"fmt"
	"strings"

	"moff.io/use-wallet/pkg/errors"
)

// EIP-1193 provider error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901
	// CodeUnrecognizedChain is returned by wallet_switchEthereumChain for unknown chains.
	CodeUnrecognizedChain = 4902
)

var (
	ErrProviderNotFound = errors.New("no wallet provider found")
	ErrNotEmbedded      = errors.New("not embedded in a safe app context")
	ErrUserRejected     = errors.New("user rejected the request")
	// ErrRedirected is the cause when activation handed the user over to another app.
	ErrRedirected  = errors.New("redirected to the wallet app")
	ErrNoAccounts  = errors.New("wallet returned no accounts")
	ErrNotActive   = errors.New("connector is not active")
	ErrUnsupported = errors.New("not supported by this connector")
)

// ProviderError is a JSON-RPC error reported by a wallet.
type ProviderError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

func (e *ProviderError) ErrorCode() int { return e.Code }

// ActivationError is a connector-specific failure to establish a session. Redirect is
// set when the user has to continue in another app.
type ActivationError struct {
	ID       ID
	Cause    error
	Redirect string
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("activate %s: %v", e.ID, e.Cause)
}

func (e *ActivationError) Unwrap() error { return e.Cause }

func (e *ActivationError) ConnectorID() string { return e.ID.String() }

// NewActivationError wraps cause unless it already is an activation error.
func NewActivationError(id ID, cause error) error {
	var ae *ActivationError
	if errors.As(cause, &ae) {
		return cause
	}
	return &ActivationError{ID: id, Cause: cause}
}

// NewRedirectError is an activation failure that sends the user to url.
func NewRedirectError(id ID, cause error, url string) error {
	return &ActivationError{ID: id, Cause: cause, Redirect: url}
}

// RedirectURL returns the url an activation failure sends the user to.
func RedirectURL(err error) (string, bool) {
	var ae *ActivationError
	if errors.As(err, &ae) && ae.Redirect != "" {
		return ae.Redirect, true
	}
	return "", false
}

// TransientChainError is a recoverable RPC condition, answered by re-activating the
// same connector once.
type TransientChainError struct {
	Cause error
}

func (e *TransientChainError) Error() string {
	return "transient chain error: " + e.Cause.Error()
}

func (e *TransientChainError) Unwrap() error { return e.Cause }

type coded interface {
	ErrorCode() int
}

// ErrorCode returns the JSON-RPC code carried anywhere in err's chain.
func ErrorCode(err error) (int, bool) {
	var c coded
	if errors.As(err, &c) {
		return c.ErrorCode(), true
	}
	return 0, false
}

func IsUserRejected(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	code, ok := ErrorCode(err)
	return ok && code == CodeUserRejected
}

// IsTransient reports whether err means the chain connection dropped rather than
// anything the user did.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientChainError
	if errors.As(err, &te) {
		return true
	}
	if code, ok := ErrorCode(err); ok && code == CodeChainDisconnected {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "chain disconnected")
}

// IsUnrecognizedChain matches the wallet answer to switching to a chain it does not know.
// Some mobile wallets wrap it in an internal error carrying the original message.
func IsUnrecognizedChain(err error) bool {
	if code, ok := ErrorCode(err); ok && code == CodeUnrecognizedChain {
		return true
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unrecognized chain")
}
