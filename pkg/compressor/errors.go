package compressor

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineInit means the engine could not be allocated or opened.
	// It is fatal for a recording attempt.
	ErrEngineInit = errors.New("unable to initialize the compression engine")

	// ErrSessionDead is returned for every submission after the engine
	// reported an irrecoverable failure.
	ErrSessionDead = errors.New("compression session is dead")

	ErrSessionClosed       = errors.New("compression session is closed")
	ErrSessionNotStarted   = errors.New("compression session is not started")
	ErrInvalidTimestamp    = errors.New("frame timestamp is less than the previous one")
	ErrInvalidDuration     = errors.New("frame duration must be positive")
	ErrInvalidFrame        = errors.New("invalid frame")
	ErrPropertyUnsupported = errors.New("property is not supported by the engine")

	// ErrNoOutput is returned by Engine.ReceiveSample when the engine needs
	// more input to produce a sample.
	ErrNoOutput = errors.New("no output is available yet")
)

// PropertyError is a non-fatal failure to apply a single property.
type PropertyError struct {
	Property Property
	Value    any
	Err      error
}

func (e *PropertyError) Error() string {
	return fmt.Sprintf("unable to set property %s to %v: %v", e.Property, e.Value, e.Err)
}

func (e *PropertyError) Unwrap() error {
	return e.Err
}

// FatalError marks an engine failure after which the engine is unusable.
type FatalError struct {
	Err error
}

func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal engine error: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
