// Package fault defines the error kinds every core operation reports.
//
// Components convert subprocess and filesystem errors into a *Error at their
// own boundary, so callers can branch on the kind with errors.Is against the
// sentinel values below or with KindOf.
package fault

import (
	"errors"
	"fmt"
)

type Kind string

const (
	InputMissing        Kind = "input_missing"
	NotFound            Kind = "not_found"
	InvalidArgument     Kind = "invalid_argument"
	LaunchError         Kind = "launch_error"
	UpstreamUnreachable Kind = "upstream_unreachable"
	NoContent           Kind = "no_content"
	EmptyPlaylist       Kind = "empty_playlist"
	NotTransmitting     Kind = "not_transmitting"
	AlreadyTransmitting Kind = "already_transmitting"
	StillTransmitting   Kind = "still_transmitting"
	PartialFailure      Kind = "partial_failure"
	EncodeFailure       Kind = "encode_failure"
	Cancelled           Kind = "cancelled"
)

// Error carries a kind plus a human-readable detail.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind wrapping err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Sentinels for errors.Is.
var (
	ErrInputMissing        = &Error{Kind: InputMissing}
	ErrNotFound            = &Error{Kind: NotFound}
	ErrInvalidArgument     = &Error{Kind: InvalidArgument}
	ErrLaunch              = &Error{Kind: LaunchError}
	ErrUpstreamUnreachable = &Error{Kind: UpstreamUnreachable}
	ErrNoContent           = &Error{Kind: NoContent}
	ErrEmptyPlaylist       = &Error{Kind: EmptyPlaylist}
	ErrNotTransmitting     = &Error{Kind: NotTransmitting}
	ErrAlreadyTransmitting = &Error{Kind: AlreadyTransmitting}
	ErrStillTransmitting   = &Error{Kind: StillTransmitting}
	ErrPartialFailure      = &Error{Kind: PartialFailure}
	ErrEncodeFailure       = &Error{Kind: EncodeFailure}
	ErrCancelled           = &Error{Kind: Cancelled}
)
