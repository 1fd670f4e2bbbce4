package compressor

import (
	"context"
	"time"

	"github.com/xaionaro-go/ffrecord/pkg/ffrecord/types"
)

// Engine is a stateful video compression engine. After the session is started
// the engine is touched only from a single goroutine, so implementations do
// not need to be thread-safe.
type Engine interface {
	// SetProperty applies a single property before Open. It returns an error
	// wrapping ErrPropertyUnsupported if the engine cannot honor the property.
	SetProperty(ctx context.Context, prop Property, value any) error

	// Open finalizes the configuration. The returned property errors are
	// non-fatal: they describe properties the engine silently ignored.
	Open(ctx context.Context) ([]*PropertyError, error)

	// SendFrame submits a raw frame. Errors wrapped with Fatal make the
	// engine unusable; other errors mean only this frame is lost.
	SendFrame(
		ctx context.Context,
		frame *types.VideoFrame,
		pts time.Duration,
		duration time.Duration,
		props types.FrameProperties,
	) error

	// ReceiveSample returns ErrNoOutput if more input is required, and
	// io.EOF if the engine is flushed and has nothing left.
	ReceiveSample(ctx context.Context) (*types.Sample, error)

	// Flush signals that no more frames will be sent.
	Flush(ctx context.Context) error

	Close(ctx context.Context) error
}

type EngineFactory interface {
	NewEngine(ctx context.Context, cfg types.EncoderConfig) (Engine, error)
}
