package service

import (
	"errors"
	"fmt"

	"github.com/Wafaqih/rekbernexo/internal/store"
)

// ErrorKind classifies why a command was rejected
type ErrorKind string

const (
	KindNotFound     ErrorKind = "NOT_FOUND"
	KindUnauthorized ErrorKind = "UNAUTHORIZED"
	KindInvalidState ErrorKind = "INVALID_STATE"
	KindAlreadyDone  ErrorKind = "ALREADY_DONE"
	KindValidation   ErrorKind = "VALIDATION"
	KindTransient    ErrorKind = "TRANSIENT"
)

// CommandError is the typed rejection every command returns. Status carries
// the deal's current status for INVALID_STATE and ALREADY_DONE.
type CommandError struct {
	Kind    ErrorKind
	Message string
	Status  string
	Cause   error
}

func (e *CommandError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CommandError) Unwrap() error {
	return e.Cause
}

// KindOf returns the kind of a CommandError, or TRANSIENT for anything else
func KindOf(err error) ErrorKind {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindTransient
}

func notFound(what string) *CommandError {
	return &CommandError{Kind: KindNotFound, Message: what + " not found"}
}

func unauthorized() *CommandError {
	return &CommandError{Kind: KindUnauthorized, Message: "you are not allowed to do this"}
}

func invalidState(status, message string) *CommandError {
	return &CommandError{Kind: KindInvalidState, Message: message, Status: status}
}

func alreadyDone(status, message string) *CommandError {
	return &CommandError{Kind: KindAlreadyDone, Message: message, Status: status}
}

func validation(format string, args ...interface{}) *CommandError {
	return &CommandError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func transient(err error) *CommandError {
	return &CommandError{Kind: KindTransient, Message: "temporary failure, please try again", Cause: err}
}

// asCommandError maps store and unexpected errors onto the taxonomy
func asCommandError(err error, what string) *CommandError {
	var ce *CommandError
	switch {
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, store.ErrNotFound):
		return notFound(what)
	default:
		return transient(err)
	}
}
