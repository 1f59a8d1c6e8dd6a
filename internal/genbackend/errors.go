package genbackend

import (
	"errors"
	"fmt"

	"github.com/cesardomingos/imagenius/internal/retry"
)

// ErrorKind classifies backend failures so callers can branch on a tag
// instead of matching status-code strings.
type ErrorKind string

const (
	KindUnauthenticated ErrorKind = "unauthenticated"
	KindInvalid         ErrorKind = "invalid"
	KindRateLimited     ErrorKind = "rate_limited"
	KindOverloaded      ErrorKind = "overloaded"
	KindServer          ErrorKind = "server"
)

// APIError is a classified failure from the generation backend.
type APIError struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("generation backend: %s (status=%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("generation backend: %s: %s", e.Kind, e.Message)
}

// Retryable reports whether a failure of this kind is transient.
func (e *APIError) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindOverloaded
}

// Classify maps an error to a retry decision: rate limits back off from the
// short base, overload from the long base, everything else fails immediately.
func Classify(err error) retry.Decision {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return retry.Stop
	}
	switch apiErr.Kind {
	case KindRateLimited:
		return retry.Retry
	case KindOverloaded:
		return retry.RetrySlow
	default:
		return retry.Stop
	}
}

// KindFromStatus maps an HTTP status to an ErrorKind. Overload-style messages
// on other statuses are handled separately by the caller.
func KindFromStatus(status int) ErrorKind {
	switch status {
	case 400:
		return KindInvalid
	case 401:
		return KindUnauthenticated
	case 429:
		return KindRateLimited
	case 503:
		return KindOverloaded
	default:
		return KindServer
	}
}
