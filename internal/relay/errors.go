package relay

import (
	"context"
	"errors"
	"fmt"
)

// Reason classifies a relay failure.
type Reason string

const (
	ReasonTimeout     Reason = "timeout"
	ReasonUnreachable Reason = "upstream-unreachable"
	ReasonUpstream    Reason = "upstream-error"
	ReasonInternal    Reason = "internal"
)

// Error 是 relay 边界上的失败，携带分类原因；
// 上游状态码非 2xx 时 Status 保存原始状态码。
type Error struct {
	Reason Reason
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("relay: %s (status %d)", e.Reason, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("relay: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("relay: %s", e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Label is the wire form of the reason, e.g. "upstream-error:502".
func (e *Error) Label() string {
	if e.Reason == ReasonUpstream && e.Status > 0 {
		return fmt.Sprintf("%s:%d", e.Reason, e.Status)
	}
	return string(e.Reason)
}

// classify wraps a transport error with the matching reason. Context
// cancellation (client disconnect) passes through so callers can tell it
// apart from a deadline.
func classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Reason: ReasonTimeout, Err: err}
	case errors.Is(err, context.Canceled):
		return err
	default:
		return &Error{Reason: ReasonUnreachable, Err: err}
	}
}
