package ai

import (
	"errors"
	"fmt"
)

var (
	ErrMissingAPIKey    = errors.New("missing API key")
	ErrUnknownProvider  = errors.New("unknown provider")
	ErrUnknownBackend   = errors.New("unknown backend preference")
	ErrStreamConsumed   = errors.New("stream already consumed")
	ErrStreamIncomplete = errors.New("stream ended before the backend signalled completion")
)

// InitializationError reports that a session could not be created because
// its backend is unusable.
type InitializationError struct {
	Backend  Preference
	Provider string
	Reason   string
	Err      error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("%s backend %q unavailable (%s): %v", e.Backend, e.Provider, e.Reason, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

func initError(pref Preference, provider string, err error) *InitializationError {
	return &InitializationError{
		Backend:  pref,
		Provider: provider,
		Reason:   ClassifyErrorReason(err),
		Err:      err,
	}
}
