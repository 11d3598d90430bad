// Package common - Error classes and detection types shared by every pipeline stage.
package common

import "github.com/pkg/errors"

// Error classes raised by the detection pipeline. Stages wrap them with context using
// errors.Wrap so callers can still match the class with errors.Is.
var (
	// ErrInvalidImage reports an unreadable, empty or malformed input image.
	ErrInvalidImage = errors.New("invalid image")
	// ErrInferenceFailure reports a failed model invocation or malformed model output.
	ErrInferenceFailure = errors.New("inference failure")
	// ErrInferenceTimeout reports a model invocation that exceeded its deadline.
	ErrInferenceTimeout = errors.New("inference timeout")
	// ErrInternalConsistency reports out-of-range or non-finite values produced inside the
	// pipeline. It always indicates a bug and is fatal to the request.
	ErrInternalConsistency = errors.New("internal consistency error")
)
