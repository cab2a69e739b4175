// Package simerr defines the error taxonomy of the simulation kernel.
//
// Validation errors (orders and cancels) are local: they are reported to the
// submitting agent and the run continues. Configuration, dispatch and
// scheduling errors are structural and abort the run.
package simerr

import (
	"errors"
	"fmt"
)

// Kind sentinels; every typed error below matches exactly one of them with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrOrderInvalid  = errors.New("order validation error")
	ErrCancelInvalid = errors.New("cancel validation error")
	ErrEventDispatch = errors.New("event dispatch error")
	ErrScheduling    = errors.New("scheduling invariant violation")
)

// ConfigurationError reports a missing or invalid field, or an unknown registered name.
type ConfigurationError struct {
	Path string // dotted location in the configuration, may be empty
	Err  error
}

func (e *ConfigurationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%v: %v", ErrConfiguration, e.Err)
	}
	return fmt.Sprintf("%v: %s: %v", ErrConfiguration, e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() []error { return []error{ErrConfiguration, e.Err} }

// Config builds a ConfigurationError for path.
func Config(path string, format string, args ...any) error {
	return &ConfigurationError{Path: path, Err: fmt.Errorf(format, args...)}
}

// OrderValidationError reports a rejected order submission.
type OrderValidationError struct {
	MarketID int
	AgentID  int
	Reason   string
}

func (e *OrderValidationError) Error() string {
	return fmt.Sprintf("%v: market %d agent %d: %s", ErrOrderInvalid, e.MarketID, e.AgentID, e.Reason)
}

func (e *OrderValidationError) Unwrap() error { return ErrOrderInvalid }

// CancelValidationError reports a rejected cancel.
type CancelValidationError struct {
	MarketID int
	AgentID  int
	OrderID  int64
	Reason   string
}

func (e *CancelValidationError) Error() string {
	return fmt.Sprintf("%v: market %d agent %d order %d: %s", ErrCancelInvalid, e.MarketID, e.AgentID, e.OrderID, e.Reason)
}

func (e *CancelValidationError) Unwrap() error { return ErrCancelInvalid }

// EventDispatchError wraps a failure raised by an event handler or by one of its effects.
type EventDispatchError struct {
	Event string
	Hook  string
	Step  int64
	Err   error
}

func (e *EventDispatchError) Error() string {
	return fmt.Sprintf("%v: event %q at %s (step %d): %v", ErrEventDispatch, e.Event, e.Hook, e.Step, e.Err)
}

func (e *EventDispatchError) Unwrap() []error { return []error{ErrEventDispatch, e.Err} }

// SchedulingInvariantViolation indicates a kernel bug: an illegal lifecycle transition.
type SchedulingInvariantViolation struct {
	Op  string
	Msg string
}

func (e *SchedulingInvariantViolation) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrScheduling, e.Op, e.Msg)
}

func (e *SchedulingInvariantViolation) Unwrap() error { return ErrScheduling }

// Scheduling builds a SchedulingInvariantViolation.
func Scheduling(op string, format string, args ...any) error {
	return &SchedulingInvariantViolation{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err must abort a run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrOrderInvalid) && !errors.Is(err, ErrCancelInvalid)
}
