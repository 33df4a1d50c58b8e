package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrTransientBroker   = errors.New("broker unavailable")
	ErrReconciliation    = errors.New("reconciliation failed")
)

type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ValidationError marks input that can never succeed, such as a malformed
// event. It is dropped, not retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type TransitionError struct {
	From GameStatus
	To   GameStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot change game status from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
