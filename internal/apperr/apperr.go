// Package apperr defines the error taxonomy shared by the presence engine,
// the realtime hub and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that must react to it
type Kind string

const (
	KindAgentNotFound     Kind = "agent_not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindNoActivePause     Kind = "no_active_pause"
	KindConflict          Kind = "conflict"
	KindUnauthorized      Kind = "unauthorized"
	KindCacheUnavailable  Kind = "cache_unavailable"
	KindStoreUnavailable  Kind = "store_unavailable"
	KindUnknownMessage    Kind = "unknown_message"
	KindValidation        Kind = "validation"
	KindInternal          Kind = "internal"
)

// Sentinels for errors.Is. Every *Error matches the sentinel of its Kind.
var (
	ErrAgentNotFound     = &Error{Kind: KindAgentNotFound, Msg: "agent not found"}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Msg: "invalid transition"}
	ErrNoActivePause     = &Error{Kind: KindNoActivePause, Msg: "no active pause"}
	ErrConflict          = &Error{Kind: KindConflict, Msg: "another action is already in progress for this agent"}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized, Msg: "unauthorized"}
	ErrCacheUnavailable  = &Error{Kind: KindCacheUnavailable, Msg: "metrics cache unavailable"}
	ErrStoreUnavailable  = &Error{Kind: KindStoreUnavailable, Msg: "durable store unavailable"}
	ErrUnknownMessage    = &Error{Kind: KindUnknownMessage, Msg: "unknown message"}
	ErrValidation        = &Error{Kind: KindValidation, Msg: "validation failed"}
)

// Error is a classified error
type Error struct {
	Kind    Kind
	Op      string
	AgentID string
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.AgentID != "" {
		msg = fmt.Sprintf("%s (agent %s)", msg, e.AgentID)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether the caller may retry the same request
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindConflict, KindStoreUnavailable, KindCacheUnavailable:
		return true
	}
	return false
}

// New creates a classified error
func New(kind Kind, op, agentID, msg string) *Error {
	return &Error{Kind: kind, Op: op, AgentID: agentID, Msg: msg}
}

// Wrap classifies an underlying error
func Wrap(kind Kind, op, agentID string, err error) *Error {
	return &Error{Kind: kind, Op: op, AgentID: agentID, Err: err}
}

// KindOf returns the Kind of err, or KindInternal for unclassified errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
