package compressor

import "context"

// Config is a configuration of a Session (not of the compression itself,
// see types.EncoderConfig).
type Config struct {
	// SubmissionQueueSize is the amount of frames that could be submitted
	// before Encode starts blocking.
	SubmissionQueueSize int

	// CompletionQueueSize is the amount of completions buffered before
	// the engine goroutine starts blocking.
	CompletionQueueSize int

	// OnPropertyWarning is called for every property that failed to apply.
	OnPropertyWarning func(ctx context.Context, err *PropertyError)
}

func DefaultConfig() Config {
	return Config{
		SubmissionQueueSize: 8,
		CompletionQueueSize: 64,
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

type OptionSubmissionQueueSize int

func (o OptionSubmissionQueueSize) apply(cfg *Config) {
	cfg.SubmissionQueueSize = int(o)
}

type OptionCompletionQueueSize int

func (o OptionCompletionQueueSize) apply(cfg *Config) {
	cfg.CompletionQueueSize = int(o)
}

type OptionOnPropertyWarning func(ctx context.Context, err *PropertyError)

func (o OptionOnPropertyWarning) apply(cfg *Config) {
	cfg.OnPropertyWarning = o
}
