package jpegconv

import (
	"errors"
	"fmt"
)

// Fatal errors abort the run before any candidate is processed.
var (
	ErrPathNotFound    = errors.New("path not found")
	ErrColorSpaceSetup = errors.New("color space setup failed")
)

// Per-candidate errors fail one file and let the batch continue.
var (
	ErrDecode           = errors.New("decode failed")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrEncode           = errors.New("encode failed")
)

// Stage is a step of the per-candidate state machine.
type Stage string

// Candidate states, in processing order.
const (
	StagePending    Stage = "pending"
	StagePlanning   Stage = "planning"
	StageDecoding   Stage = "decoding"
	StageResampling Stage = "resampling"
	StageEncoding   Stage = "encoding"
	StageDone       Stage = "done"
)

// StageError describes a candidate failure at a specific stage.
type StageError struct {
	Stage Stage
	Path  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must terminate the whole run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPathNotFound) || errors.Is(err, ErrColorSpaceSetup)
}

func decodeError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDecode, fmt.Sprintf(format, args...))
}
