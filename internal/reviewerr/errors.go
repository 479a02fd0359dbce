// Package reviewerr holds the failure taxonomy shared by every review stage.
package reviewerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Stage names one step of a review run
type Stage string

const (
	StageInput    Stage = "input"
	StageFetch    Stage = "fetch"
	StageCheckout Stage = "checkout"
	StageAnalyze  Stage = "analyze"
	StageExtract  Stage = "extract"
	StagePublish  Stage = "publish"
)

// Kind classifies a failure within its stage
type Kind string

const (
	KindInvalidTarget Kind = "invalid-target"
	KindTransient     Kind = "transient"
	KindIncomplete    Kind = "incomplete"
	KindRejected      Kind = "rejected"
	KindTimeout       Kind = "timeout"
	KindUnavailable   Kind = "unavailable"
	KindUnparseable   Kind = "unparseable"
	KindPartial       Kind = "partial"
)

var (
	ErrInvalidTarget = errors.New("invalid target")
	ErrTransient     = errors.New("transient failure")
	ErrIncomplete    = errors.New("incomplete data")
	ErrRejected      = errors.New("rejected")
	ErrTimeout       = errors.New("timeout")
	ErrUnavailable   = errors.New("unavailable")
	ErrUnparseable   = errors.New("unparseable reply")
	ErrPartial       = errors.New("partial publish")
)

var kindSentinels = map[Kind]error{
	KindInvalidTarget: ErrInvalidTarget,
	KindTransient:     ErrTransient,
	KindIncomplete:    ErrIncomplete,
	KindRejected:      ErrRejected,
	KindTimeout:       ErrTimeout,
	KindUnavailable:   ErrUnavailable,
	KindUnparseable:   ErrUnparseable,
	KindPartial:       ErrPartial,
}

// Error is a classified stage failure.
// Detail carries the raw diagnostic (HTTP status line, reply excerpt).
type Error struct {
	Stage  Stage
	Kind   Kind
	Reason string
	Detail string
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinel so callers can use errors.Is(err, ErrTransient)
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// Retryable reports whether the orchestrator may retry the stage
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransient, KindTimeout, KindUnavailable:
		return true
	default:
		return false
	}
}

// New builds a classified error
func New(stage Stage, kind Kind, reason string, err error) *Error {
	return &Error{Stage: stage, Kind: kind, Reason: reason, Err: err}
}

// InvalidTarget reports input that cannot resolve to one PR/MR
func InvalidTarget(format string, args ...any) *Error {
	return &Error{Stage: StageInput, Kind: KindInvalidTarget, Reason: fmt.Sprintf(format, args...)}
}

// As extracts the classified error from err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err or an empty kind when unclassified
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err is a classified retryable failure
func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable()
	}
	return false
}

// FromStatus classifies an HTTP status returned by a hosting API.
// Rate limits and server errors are transient, auth and validation errors are rejections.
func FromStatus(stage Stage, status int, err error) *Error {
	e := &Error{Stage: stage, Status: status, Err: err, Detail: fmt.Sprintf("HTTP %d %s", status, http.StatusText(status))}
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		e.Kind = KindTransient
		e.Reason = "server returned " + http.StatusText(status)
	default:
		e.Kind = KindRejected
		e.Reason = "request rejected with " + http.StatusText(status)
	}
	return e
}

// FromTransport classifies an error that never produced an HTTP response
func FromTransport(stage Stage, err error) *Error {
	if errors.Is(err, context.Canceled) {
		return &Error{Stage: stage, Kind: KindRejected, Reason: "cancelled", Err: err}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Stage: stage, Kind: KindTransient, Reason: "timeout", Err: err}
	}
	return &Error{Stage: stage, Kind: KindTransient, Reason: "network error", Err: err}
}
