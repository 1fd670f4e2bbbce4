package ffrecord

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xaionaro-go/ffrecord/pkg/compressor"
	"github.com/xaionaro-go/ffrecord/pkg/container"
)

type Config struct {
	EngineFactory compressor.EngineFactory
	MuxerFactory  container.MuxerFactory

	CompletionQueueSize int
	MaxInterleaveDelta  time.Duration

	// MetricsRegisterer is where the recording counters are registered;
	// nil means the counters are not exported.
	MetricsRegisterer prometheus.Registerer

	// Events receives the pipeline events; nil means a private dispatcher.
	Events *Events
}

func DefaultConfig() Config {
	return Config{
		CompletionQueueSize: compressor.DefaultConfig().CompletionQueueSize,
		MaxInterleaveDelta:  container.DefaultConfig().MaxInterleaveDelta,
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

type OptionEngineFactory struct {
	compressor.EngineFactory
}

func (o OptionEngineFactory) apply(cfg *Config) {
	cfg.EngineFactory = o.EngineFactory
}

type OptionMuxerFactory struct {
	container.MuxerFactory
}

func (o OptionMuxerFactory) apply(cfg *Config) {
	cfg.MuxerFactory = o.MuxerFactory
}

type OptionCompletionQueueSize int

func (o OptionCompletionQueueSize) apply(cfg *Config) {
	cfg.CompletionQueueSize = int(o)
}

type OptionMaxInterleaveDelta time.Duration

func (o OptionMaxInterleaveDelta) apply(cfg *Config) {
	cfg.MaxInterleaveDelta = time.Duration(o)
}

type OptionMetricsRegisterer struct {
	prometheus.Registerer
}

func (o OptionMetricsRegisterer) apply(cfg *Config) {
	cfg.MetricsRegisterer = o.Registerer
}

type OptionEvents struct {
	*Events
}

func (o OptionEvents) apply(cfg *Config) {
	cfg.Events = o.Events
}
