package container

import "errors"

var (
	// ErrFileCreate means the output could not be created: the path is not
	// writable or the container type is unsupported.
	ErrFileCreate = errors.New("unable to create the output file")

	// ErrWriterClosed is returned on appends after Close and on a second Close.
	ErrWriterClosed = errors.New("the writer is closed")

	ErrNonMonotonicTimestamp = errors.New("non-monotonic timestamp")
	ErrUnknownTrack          = errors.New("the track is not declared")
	ErrWrite                 = errors.New("unable to write to the container")
)
