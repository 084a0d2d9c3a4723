package stt

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrQueueOverflow marks an audio frame dropped on a full queue. It is
	// counted, never returned to the caller.
	ErrQueueOverflow  = errors.New("stt audio queue full")
	ErrAlreadyStarted = errors.New("stt bridge already started")
	ErrStopped        = errors.New("stt bridge stopped")
)

// ParseError is a single provider message that could not be parsed.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse provider message: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ProviderConnectionError is a failure of the provider connection itself.
// It ends the call.
type ProviderConnectionError struct {
	Provider string
	Op       string // connect, send, recv
	Err      error
}

func (e *ProviderConnectionError) Error() string {
	return fmt.Sprintf("stt provider %s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderConnectionError) Unwrap() error { return e.Err }

// JoinTimeoutError reports a worker that did not stop in time and was abandoned.
type JoinTimeoutError struct {
	Provider string
	Timeout  time.Duration
}

func (e *JoinTimeoutError) Error() string {
	return fmt.Sprintf("stt provider %s worker did not stop within %s", e.Provider, e.Timeout)
}
