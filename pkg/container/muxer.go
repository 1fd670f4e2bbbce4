package container

import (
	"context"

	"github.com/xaionaro-go/ffrecord/pkg/ffrecord/types"
)

// Params describes the output of a Writer.
type Params struct {
	Path      string
	Container types.Container
	// Video and Audio are format hints; nil means the track is not declared.
	Video    *types.TrackFormat
	Audio    *types.TrackFormat
	RealTime bool
}

// Muxer performs the actual container I/O. A Writer never calls a Muxer
// concurrently.
type Muxer interface {
	AddTrack(ctx context.Context, format types.TrackFormat) error
	WriteHeader(ctx context.Context) error
	WriteSample(ctx context.Context, sample *types.Sample) error
	WriteTrailer(ctx context.Context) error
	Close(ctx context.Context) error

	// Abort closes the muxer and removes the output file.
	Abort(ctx context.Context) error
}

type MuxerFactory interface {
	// NewMuxer creates the output file.
	NewMuxer(ctx context.Context, params Params) (Muxer, error)
}
