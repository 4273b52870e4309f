// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers and steps can decide how to react
// without inspecting error strings.
type ErrorKind string

const (
	// KindNotFound means the entity does not exist. Surfaced to the caller.
	KindNotFound ErrorKind = "not_found"
	// KindPrecondition means the current state does not permit the operation.
	KindPrecondition ErrorKind = "precondition_violated"
	// KindExternal means an indexer, torrent client, encoder or transport
	// failed. Step-local: recorded on the item and retried or rotated.
	KindExternal ErrorKind = "external_unavailable"
	// KindAwaitingInput means there is nothing to act on yet (no releases,
	// or none of acceptable quality). Not a failure.
	KindAwaitingInput ErrorKind = "awaiting_input"
	// KindMisconfiguration means the operator must act (no default template,
	// no encoders, no profile for a target).
	KindMisconfiguration ErrorKind = "fatal_misconfiguration"
	// KindCancelled marks cooperative cancellation. Not logged as an error.
	KindCancelled ErrorKind = "cancelled"
)

// Error carries a kind alongside the wrapped cause.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return e.Msg + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E constructs a classified error.
func E(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Ef constructs a classified error with formatting.
func Ef(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error.
func Wrap(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the classification of err, or "" when unclassified.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func IsNotFound(err error) bool       { return KindOf(err) == KindNotFound }
func IsPrecondition(err error) bool   { return KindOf(err) == KindPrecondition }
func IsExternal(err error) bool       { return KindOf(err) == KindExternal }
func IsAwaitingInput(err error) bool  { return KindOf(err) == KindAwaitingInput }
func IsMisconfigured(err error) bool  { return KindOf(err) == KindMisconfiguration }
func IsCancelledError(err error) bool { return KindOf(err) == KindCancelled }
