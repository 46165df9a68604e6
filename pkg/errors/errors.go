// Package errors defines the stable error kinds surfaced by the RPC core and
// small helpers for wrapping and logging them. Cluster policies and filters
// branch on the kind of an error, never on its text.
package errors

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Error kinds. Every error leaving the core wraps exactly one of these; use
// errors.Is (or KindOf) to classify.
var (
	// ErrTimeout is returned when a response or queue deadline expired.
	ErrTimeout = errors.New("timeout")
	// ErrNetwork is returned when a connection was lost, a write failed or
	// the codec detected a broken stream.
	ErrNetwork = errors.New("network error")
	// ErrSerialization is returned when a body failed to encode or decode.
	ErrSerialization = errors.New("serialization error")
	// ErrBiz carries an error thrown by the remote service implementation.
	ErrBiz = errors.New("business error")
	// ErrUnknown is returned when the peer reported a server error with no
	// further detail.
	ErrUnknown = errors.New("unknown error")
	// ErrForbidden is returned when no provider is available or every
	// invoker was filtered out by routing.
	ErrForbidden = errors.New("forbidden")
	// ErrLimitExceeded is returned when a thread pool or rate filter
	// rejected the invocation.
	ErrLimitExceeded = errors.New("limit exceeded")
	// ErrDestroyed is returned by invokers after Destroy.
	ErrDestroyed = errors.New("invoker destroyed")
	// ErrCancelled is returned by futures completed via Cancel.
	ErrCancelled = errors.New("cancelled")
	// ErrNoExtension is returned by the extension plane when a name does
	// not resolve.
	ErrNoExtension = errors.New("no such extension")
)

var kinds = []error{
	ErrTimeout, ErrNetwork, ErrSerialization, ErrBiz, ErrForbidden,
	ErrLimitExceeded, ErrDestroyed, ErrCancelled, ErrNoExtension, ErrUnknown,
}

// KindOf returns the kind sentinel wrapped by err, or ErrUnknown.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrUnknown
}

// Timeoutf builds a timeout error with formatted detail.
func Timeoutf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrTimeout, fmt.Sprintf(format, args...))
}

// Networkf builds a network error with formatted detail.
func Networkf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNetwork, fmt.Sprintf(format, args...))
}

// Serializationf builds a serialization error with formatted detail.
func Serializationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrSerialization, fmt.Sprintf(format, args...))
}

// Bizf builds a business error preserving the remote payload verbatim.
func Bizf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrBiz, fmt.Sprintf(format, args...))
}

// Forbiddenf builds a forbidden error with formatted detail.
func Forbiddenf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// Limitf builds a limit-exceeded error with formatted detail.
func Limitf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrLimitExceeded, fmt.Sprintf(format, args...))
}

// New creates a new error with the given message.
func New(msg string) error {
	return errors.New(msg)
}

// Wrap wraps an error with additional context, preserving its kind.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// LogWithError logs the error with context and returns a wrapped error. Use
// this for standardized error logging across the framework.
func LogWithError(ctx context.Context, log *zap.Logger, msg string, err error, fields ...zap.Field) error {
	if log != nil {
		if ctx != nil {
			if reqID, ok := ctx.Value(requestIDKey).(string); ok && reqID != "" {
				fields = append(fields, zap.String("request_id", reqID))
			}
		}
		log.Error(msg, append(fields, zap.Error(err))...)
	}
	return Wrap(err, msg)
}

type contextKey string

// requestIDKey matches the key used by the access-log filter when it stamps a
// request id on the context.
const requestIDKey = contextKey("request_id")

// WithRequestID tags ctx with a request id picked up by LogWithError.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}
