package domain

import (
	"errors"
	"fmt"
)

// ErrSkippedEnvelope marks an envelope whose record type is not recognized.
// It is dropped, counted and logged, never emitted and never fatal.
var ErrSkippedEnvelope = errors.New("skipped envelope")

// ErrInvalidPattern is returned when a filter pattern does not compile.
var ErrInvalidPattern = errors.New("invalid filter pattern")

// ErrInvalidActionType is returned for names outside the action taxonomy.
type ErrInvalidActionType struct {
	Value string
}

func (e ErrInvalidActionType) Error() string {
	return fmt.Sprintf("invalid action type %q (valid: post, quote, repost, reply, like, other)", e.Value)
}

// StopReason reports why a run ended.
type StopReason string

const (
	StopNone        StopReason = ""
	StopExhausted   StopReason = "exhausted"
	StopMaxItems    StopReason = "max_items"
	StopCutoff      StopReason = "cutoff"
	StopBoundary    StopReason = "boundary"
	StopInterrupted StopReason = "interrupted"
	StopFailed      StopReason = "failed"
)
