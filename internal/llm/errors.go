package llm

import (
	"context"
	"errors"

	"github.com/jackzampolin/guideshelf/internal/providers"
)

var (
	// ErrRateLimited means the collaborator refused the call for quota reasons.
	ErrRateLimited = errors.New("rate limited")
	// ErrTimeout means the round trip exceeded the call timeout.
	ErrTimeout = errors.New("timeout")
	// ErrInvalidResponseSchema means the response was not the structured
	// document the caller asked for. It is never retried or repaired.
	ErrInvalidResponseSchema = errors.New("invalid response schema")
	// ErrUnavailable covers connection failures and 5xx answers.
	ErrUnavailable = errors.New("collaborator unavailable")
	// ErrNoClient is returned when no LLM provider is configured.
	ErrNoClient = errors.New("no LLM client configured")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnavailable)
}

// classify maps a client error onto the port taxonomy. callCtx is the
// per-attempt context; parent is the caller's.
func classify(err error, callCtx, parent context.Context) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: ErrTimeout, Err: err}
	}

	var perr *providers.ProviderError
	if errors.As(err, &perr) {
		switch perr.Type {
		case providers.ErrorTypeRateLimited:
			return &Error{Kind: ErrRateLimited, Err: err}
		case providers.ErrorTypeTimeout:
			return &Error{Kind: ErrTimeout, Err: err}
		case providers.ErrorTypeUnavailable:
			return &Error{Kind: ErrUnavailable, Err: err}
		case providers.ErrorTypeEmptyResponse:
			return &Error{Kind: ErrInvalidResponseSchema, Err: err}
		}
	}
	return err
}

// Error pairs a taxonomy sentinel with the underlying cause.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

// Is lets errors.Is match both the sentinel and the cause chain.
func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }
