package model

import "errors"

// Error taxonomy shared by every component. Call sites wrap these with
// context, e.g. fmt.Errorf("%w: negative duration", ErrValidation), so
// callers classify with errors.Is.
var (
	// ErrConfiguration is fatal and aborts a run before any dispatch.
	ErrConfiguration = errors.New("configuration error")

	// ErrHistoryStore marks unreadable or corrupt persisted history. It is
	// recovered locally by starting from an empty store.
	ErrHistoryStore = errors.New("history store error")

	// ErrServerUnavailable marks an endpoint that can no longer take work.
	ErrServerUnavailable = errors.New("server unavailable")

	// ErrRunnerExecution marks an infrastructure failure while running a
	// single test (crash, timeout, connection drop). It is not a test failure.
	ErrRunnerExecution = errors.New("runner execution error")

	// ErrValidation marks input rejected at a component boundary.
	ErrValidation = errors.New("validation error")
)
