package errors

import (
	goErrors "errors"
	"fmt"
)

// New returns an error with the given message.
func New(msg string) error {
	return goErrors.New(msg)
}

// Is and As are re-exported so that callers don't need to import both this
// package and the standard library errors package.
var (
	Is = goErrors.Is
	As = goErrors.As
)

type contextError struct {
	context string
	err     error
}

func (err contextError) Error() string {
	return fmt.Sprintf("%s: %s", err.context, err.err)
}

func (err contextError) Unwrap() error {
	return err.err
}

// WithContext annotates `err` with a short description of what was being
// done when it occurred. The original error can be retrieved with RootCause.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return contextError{context, err}
}

// RootCause strips the context added by WithContext and returns the
// underlying error.
func RootCause(err error) error {
	for {
		ctxErr, ok := err.(contextError)
		if !ok {
			return err
		}
		err = ctxErr.err
	}
}

// Friendly is implemented by errors that carry a message meant to be shown
// to the user as-is, without the chain of contexts leading up to it.
type Friendly interface {
	FriendlyMessage() string
}

// FriendlyError is an error whose message is meant to be read by the user.
type FriendlyError struct {
	msg string
}

// NewFriendlyError creates a FriendlyError from a format string.
func NewFriendlyError(template string, args ...interface{}) error {
	return FriendlyError{fmt.Sprintf(template, args...)}
}

func (err FriendlyError) Error() string {
	return err.msg
}

// FriendlyMessage returns the message that should be shown to the user.
func (err FriendlyError) FriendlyMessage() string {
	return err.msg
}

// GetFriendlyMessage returns the user-facing message for `err` if anything
// in its chain implements Friendly.
func GetFriendlyMessage(err error) (string, bool) {
	var friendly Friendly
	if goErrors.As(err, &friendly) {
		return friendly.FriendlyMessage(), true
	}
	return "", false
}
