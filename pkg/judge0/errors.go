package judge0

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures talking to the execution service.
type ErrorKind string

const (
	KindServiceUnavailable ErrorKind = "service_unavailable"
	KindBadRequest         ErrorKind = "bad_request"
	KindNoToken            ErrorKind = "no_token"
	KindTimeout            ErrorKind = "timeout"
)

// Sentinels usable with errors.Is against any *Error of the same kind.
var (
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable, Message: "execution service unavailable"}
	ErrBadRequest         = &Error{Kind: KindBadRequest, Message: "submission rejected"}
	ErrNoToken            = &Error{Kind: KindNoToken, Message: "no token received"}
	ErrPollExhausted      = &Error{Kind: KindTimeout, Message: "results not ready after polling"}
)

// Error is a structured failure carrying a human readable message.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

func newError(kind ErrorKind, message string, status int, err error) *Error {
	return &Error{Kind: kind, Message: message, StatusCode: status, Err: err}
}

// KindOf returns the kind of a judge0 error, or an empty kind.
func KindOf(err error) ErrorKind {
	var judgeErr *Error
	if errors.As(err, &judgeErr) {
		return judgeErr.Kind
	}
	return ""
}
