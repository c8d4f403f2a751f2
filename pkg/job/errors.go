package job

import (
	"context"
	"errors"
	"fmt"
)

// Class is the retry classification of a pipeline error.
type Class int

const (
	// ClassRetryable consumes one unit of retry budget and re-enqueues.
	ClassRetryable Class = iota
	// ClassTerminal writes failed immediately without consuming retry budget.
	ClassTerminal
	// ClassTimeout is the soft deadline: terminal for the attempt.
	ClassTimeout
	// ClassCancelled means the attempt context was cancelled from outside.
	ClassCancelled
)

// ValidationError rejects a source document before expensive work. Never
// retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// StorageError covers network or object-storage failures during fetch or
// upload. Retryable.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e *StorageError) Unwrap() error { return e.Err }

type FetchKind string

const (
	FetchUnsafe      FetchKind = "unsafe"
	FetchUnreachable FetchKind = "unreachable"
	FetchNotFound    FetchKind = "not_found"
)

// FetchError is a single failed fetch attempt against one target.
type FetchError struct {
	Kind FetchKind
	Ref  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s (%s): %v", e.Ref, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s (%s)", e.Ref, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// EngineError means the translation engine reported a runtime failure, or
// finished without producing the requested output variant. Retryable.
type EngineError struct {
	Msg string
	Err error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("translation engine: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("translation engine: %s", e.Msg)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Classify maps an error to its retry class. Anything unrecognized is treated
// as retryable under the same budget as classified transient errors; keeping
// the mapping in one place lets that policy be tightened without touching the
// executor.
func Classify(err error) Class {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ClassTerminal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ClassCancelled
	}
	return ClassRetryable
}
