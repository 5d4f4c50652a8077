package errors

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic turns a recovered value into a fatal INTERNAL_ERROR carrying
// the goroutine stack. It returns nil when nothing was recovered.
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}

	cause, ok := r.(error)
	if !ok {
		cause = fmt.Errorf("panic: %v", r)
	}

	return ErrInternal.
		WithCause(cause).
		WithDetail("panic", true).
		WithDetail("stack_trace", string(debug.Stack())).
		AsFatal()
}
