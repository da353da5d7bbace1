package services

import "errors"

// Claim-path error kinds. All five are returned synchronously to the
// caller of Claim; scheduled jobs log failures instead of surfacing them.
var (
	// ErrQuotaExhausted means the referrer already holds the full quota for
	// the quarter. Allocation treats it as a no-op success (zero new passes),
	// so it only escapes when an allocation race loses twice.
	ErrQuotaExhausted = errors.New("pass quota exhausted for quarter")

	// ErrPassNotFound covers unknown codes.
	ErrPassNotFound = errors.New("pass not found")

	// ErrPassExpired is discovered lazily at claim time as well as by the
	// sweeper; the lookup transitions the pass as a side effect.
	ErrPassExpired = errors.New("pass expired")

	// ErrPassAlreadyClaimed means another recipient won the race.
	ErrPassAlreadyClaimed = errors.New("pass already claimed")

	// ErrPassRevoked covers manually revoked passes.
	ErrPassRevoked = errors.New("pass revoked")

	// ErrExternalService wraps billing/notification failures. Retryable;
	// internal state is never corrupted by it.
	ErrExternalService = errors.New("external service failure")
)
