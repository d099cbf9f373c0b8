// Package errs defines the engine's error taxonomy (design §7). Each kind
// is a sentinel wrapped with context via fmt.Errorf("%w", ...) so callers
// can branch with errors.Is while logs still carry the detail.
package errs

import "errors"

// Kind classifies an error for propagation-policy purposes.
type Kind string

const (
	KindTransientNetwork    Kind = "transient_network"
	KindRateLimited         Kind = "rate_limited"
	KindAuthentication      Kind = "authentication"
	KindOrderRejected       Kind = "order_rejected"
	KindReconciliation      Kind = "reconciliation_failure"
	KindInvariantViolation  Kind = "invariant_violation"
	KindDataShape           Kind = "data_shape"
	KindConfig              Kind = "config_error"
	KindNotSupported        Kind = "not_supported"
)

// Sentinel errors, one per taxonomy kind. Wrap with fmt.Errorf("...: %w", Err...)
// to attach context while keeping errors.Is matching intact.
var (
	ErrTransientNetwork   = errors.New("transient network error")
	ErrRateLimited        = errors.New("rate limited")
	ErrAuthentication     = errors.New("authentication error")
	ErrOrderRejected      = errors.New("order rejected")
	ErrReconciliation     = errors.New("reconciliation failure")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrDataShape          = errors.New("malformed data")
	ErrConfig             = errors.New("config error")
	ErrNotSupported       = errors.New("not supported by this adapter")
)

// kindOf is the reverse lookup used by Kind(err).
var kindOf = map[error]Kind{
	ErrTransientNetwork:   KindTransientNetwork,
	ErrRateLimited:        KindRateLimited,
	ErrAuthentication:     KindAuthentication,
	ErrOrderRejected:      KindOrderRejected,
	ErrReconciliation:     KindReconciliation,
	ErrInvariantViolation: KindInvariantViolation,
	ErrDataShape:          KindDataShape,
	ErrConfig:             KindConfig,
	ErrNotSupported:       KindNotSupported,
}

// ClassifyKind returns the taxonomy kind of err, walking its wrap chain.
// Returns "" if err does not match any sentinel in this package.
func ClassifyKind(err error) Kind {
	for sentinel, kind := range kindOf {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return ""
}
