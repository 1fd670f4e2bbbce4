package ffrecord

import (
	"errors"
)

var (
	// ErrStopped is returned by every call after Stop.
	ErrStopped = errors.New("the recording is stopped")

	// ErrRecordingFailed wraps the first irrecoverable failure of a recording.
	ErrRecordingFailed = errors.New("recording stopped unexpectedly")
)
