package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for expected failure modes
var (
	ErrFileNotFound      = errors.New("file not found")
	ErrAudioUnreadable   = errors.New("audio unreadable")
	ErrAudioTooShort     = errors.New("audio too short")
	ErrAudioTooLong      = errors.New("audio exceeds duration limit")
	ErrFileTooLarge      = errors.New("file exceeds size limit")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrToolNotInstalled  = errors.New("required tool not installed")
)

// Stage identifies where in the pipeline a failure occurred.
type Stage string

const (
	StageValidation      Stage = "validation"
	StageFeatures        Stage = "feature_extraction"
	StageInference       Stage = "inference"
	StageEventExtraction Stage = "event_extraction"
	StageEncoding        Stage = "midi_encoding"
)

// StageError represents a failure in a pipeline stage. Validation-stage
// errors are fatal; every later stage is recoverable via the demo fallback.
type StageError struct {
	Stage Stage
	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// IsRecoverable returns true if the fallback artifact should be produced.
func (e *StageError) IsRecoverable() bool {
	return e.Stage != StageValidation
}

// NewStageError wraps a cause with the stage it occurred in.
func NewStageError(stage Stage, cause error) *StageError {
	return &StageError{Stage: stage, Cause: cause}
}
