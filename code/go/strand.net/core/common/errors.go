package common

import (
	"fmt"

	"github.com/0chain/errors"
)

// Error kinds surfaced by the SDK. Callers match them with errors.Is; the
// codes double as the "code" field of gateway error envelopes. Wrap a kind
// with errors.Throw(kind, detail) to attach context without losing the code.
var (
	// ErrInvalidConfig - the caller supplied unusable parameters (bad
	// redundancy, missing secret, malformed gateway URL).
	ErrInvalidConfig = errors.New("invalid_config", "invalid configuration")

	// ErrGatewayUnreachable - the gateway could not be reached or kept
	// answering with server errors after retries.
	ErrGatewayUnreachable = errors.New("gateway_unreachable", "gateway not reachable")

	// ErrGatewayRequest - the gateway answered with a client error. The
	// status and body are carried verbatim in the detail.
	ErrGatewayRequest = errors.New("gateway_request_failed", "gateway rejected the request")

	// Approval states reported while the application registration is not
	// yet usable.
	ErrApprovalPending  = errors.New("approval_pending", "application approval pending")
	ErrApprovalRejected = errors.New("approval_rejected", "application approval rejected")
	ErrApprovalExpired  = errors.New("approval_expired", "application approval expired")

	// ErrUnknownHost - a dial was requested for a public key that is not in
	// the current host set.
	ErrUnknownHost = errors.New("unknown_host", "host not in the active set")

	// ErrHostUnreachable - transport-level connect failure.
	ErrHostUnreachable = errors.New("host_unreachable", "host not reachable")

	// ErrHandshakeFailed - the transport connected but the application
	// handshake did not complete or the host identity did not verify.
	ErrHandshakeFailed = errors.New("handshake_failed", "host handshake failed")

	// ErrVersionMismatch - the host speaks an unsupported protocol version.
	ErrVersionMismatch = errors.New("version_mismatch", "unsupported host protocol version")

	// ErrInsufficientHosts - not enough distinct usable hosts to place or
	// re-place every shard of a slab.
	ErrInsufficientHosts = errors.New("insufficient_hosts", "not enough distinct hosts")

	// ErrUnrecoverable - fewer than the minimum shards of some slab could
	// be fetched and verified.
	ErrUnrecoverable = errors.New("unrecoverable", "too few shards to recover slab")

	// ErrIntegrityFailure - recomputed content root does not match the
	// recorded one.
	ErrIntegrityFailure = errors.New("integrity_failure", "content root mismatch")

	// ErrCancelled - the operation was aborted by the caller's context.
	ErrCancelled = errors.New("cancelled", "operation cancelled")

	// ErrIO - reading the source or writing the destination failed.
	ErrIO = errors.New("io_error", "local i/o failure")
)

/*Error type for a new application error */
type Error struct {
	Code       string `json:"code,omitempty"`
	Msg        string `json:"error"`
	StatusCode int    `json:"-"`
}

func (err *Error) Error() string {
	return fmt.Sprintf("%s: %s", err.Code, err.Msg)
}

/*NewError - create a new error */
func NewError(code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

/*NewErrorf - create a new error with format */
func NewErrorf(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

/*InvalidRequest - create error messages that are needed when validating request input */
func InvalidRequest(msg string) error {
	return NewError("invalid_request", fmt.Sprintf("Invalid request (%v)", msg))
}
