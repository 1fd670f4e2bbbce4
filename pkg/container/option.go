package container

import (
	"context"
	"time"

	"github.com/xaionaro-go/ffrecord/pkg/ffrecord/types"
)

type Config struct {
	// MaxInterleaveDelta is the maximal timestamp span buffered for a track
	// while waiting for the other track. Once exceeded, the buffered samples
	// are written without waiting.
	MaxInterleaveDelta time.Duration

	// OnSampleWritten is called after a sample is handed to the muxer.
	OnSampleWritten func(ctx context.Context, sample *types.Sample)
}

func DefaultConfig() Config {
	return Config{
		MaxInterleaveDelta: 10 * time.Second,
	}
}

type Option interface {
	apply(*Config)
}

type Options []Option

func (opts Options) apply(cfg *Config) {
	for _, opt := range opts {
		opt.apply(cfg)
	}
}

func (opts Options) Config() Config {
	cfg := DefaultConfig()
	opts.apply(&cfg)
	return cfg
}

type OptionMaxInterleaveDelta time.Duration

func (o OptionMaxInterleaveDelta) apply(cfg *Config) {
	cfg.MaxInterleaveDelta = time.Duration(o)
}

type OptionOnSampleWritten func(ctx context.Context, sample *types.Sample)

func (o OptionOnSampleWritten) apply(cfg *Config) {
	cfg.OnSampleWritten = o
}
