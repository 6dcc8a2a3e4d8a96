// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested session or message does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a duplicate session name on create or rename.
var ErrConflict = errors.New("conflict: session name already in use")

// ErrBusy indicates a chat turn is already in flight for the session.
var ErrBusy = errors.New("busy: turn already in flight")

// ErrResourceExhausted indicates the session ceiling has been reached.
var ErrResourceExhausted = errors.New("resource exhausted: session limit reached")

// ErrProcessFailure indicates the underlying terminal session or agent
// process died unexpectedly.
var ErrProcessFailure = errors.New("process failure")
