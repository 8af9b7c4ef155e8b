package memory

import "github.com/m-mizutani/goerr/v2"

// Error taxonomy for the memory engine. Callers branch with errors.Is.
//
// Configuration errors are raised at construction time only; the engine
// refuses to run half-configured. Provider and persistence errors carry the
// failing operation's context as goerr values.
var (
	// ErrConfiguration indicates a fatal constructor-time misconfiguration:
	// missing embedder, missing dimension, unsupported storage backend.
	ErrConfiguration = goerr.New("configuration error")

	// ErrValidation indicates caller-correctable bad input, such as an
	// embedding with the wrong dimension or a missing required field.
	ErrValidation = goerr.New("validation error")

	// ErrProvider indicates an upstream embedding/concept/response
	// dependency failed. Retryable by the caller.
	ErrProvider = goerr.New("provider error")

	// ErrProviderTimeout indicates a provider call exceeded its deadline.
	// Distinct from ErrProvider so callers can apply backoff policies.
	ErrProviderTimeout = goerr.New("provider timeout")

	// ErrContentTooLarge indicates combined text over the in-memory
	// processing ceiling. Expected in steady state; triggers the deferred
	// storage path rather than failing the call.
	ErrContentTooLarge = goerr.New("content too large")

	// ErrPersistence indicates a durable read/write failed. Any in-memory
	// mutation paired with the failed write has been rolled back before
	// this error is returned.
	ErrPersistence = goerr.New("persistence error")
)
