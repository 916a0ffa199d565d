package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

var (
	// ErrNotConnected is returned when a command needs a ready session.
	ErrNotConnected = errors.New("not connected")
	// ErrSessionTimeout is returned when the session does not answer
	// within the configured deadline.
	ErrSessionTimeout = errors.New("session timeout")
)

// SessionError wraps a failure reported by the session for operation Op.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

type errorResponse struct {
	Error string `json:"error"`
}

// classify maps an error to its HTTP status and client-facing message.
func classify(err error) (int, string) {
	var se *SessionError
	var he *echo.HTTPError
	switch {
	case errors.Is(err, ErrNotConnected):
		return http.StatusBadRequest, "Not connected"
	case errors.Is(err, ErrSessionTimeout):
		return http.StatusGatewayTimeout, "Session timeout"
	case errors.As(err, &se):
		return http.StatusInternalServerError, se.Err.Error()
	case errors.As(err, &he):
		return he.Code, fmt.Sprint(he.Message)
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

// bounded runs fn with a deadline of d. Session failures come back as
// *SessionError; an expired deadline as ErrSessionTimeout, even if fn
// ignores its context.
func bounded[T any](ctx context.Context, d time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err == nil {
			return r.v, nil
		}
		if errors.Is(r.err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ErrSessionTimeout
		}
		if errors.Is(r.err, ErrNotConnected) {
			return zero, r.err
		}
		return zero, &SessionError{Op: op, Err: r.err}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ErrSessionTimeout
		}
		return zero, &SessionError{Op: op, Err: ctx.Err()}
	}
}
