// Package ffrecord turns raw captured video frames and ready audio samples
// into a single MP4/MOV file.
package ffrecord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/ffrecord/pkg/compressor"
	"github.com/xaionaro-go/ffrecord/pkg/container"
	"github.com/xaionaro-go/ffrecord/pkg/ffrecord/types"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xsync"
)

// Encoder is a single recording: a compression session feeding a
// container writer. It is safe for concurrent use.
type Encoder struct {
	EncoderConfig types.EncoderConfig
	Config        Config
	Session       *compressor.Session
	Writer        *container.Writer
	Events        *Events

	metrics      *metrics
	consumerDone chan struct{}

	locker  xsync.Mutex
	stopped bool

	failOnce sync.Once
	failErr  error
	failedCh chan struct{}
}

type Stats struct {
	FramesSubmitted uint64
	FramesFailed    uint64
	Tracks          map[types.TrackKind]container.TrackStats
}

// Initialize validates the configuration, starts the compression session
// and creates the output file. On failure nothing is left running or on disk.
func Initialize(
	ctx context.Context,
	cfg types.EncoderConfig,
	opts ...Option,
) (_ret *Encoder, _err error) {
	logger.Debugf(ctx, "Initialize(ctx, '%s')", cfg.Path)
	defer func() { logger.Debugf(ctx, "/Initialize(ctx, '%s'): %v", cfg.Path, _err) }()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Clone()

	c := Options(opts).Config()
	if c.EngineFactory == nil {
		return nil, fmt.Errorf("the engine factory is not set")
	}
	if c.MuxerFactory == nil {
		return nil, fmt.Errorf("the muxer factory is not set")
	}
	if c.Events == nil {
		c.Events = NewEvents()
	}

	m, err := newMetrics(c.MetricsRegisterer)
	if err != nil {
		return nil, err
	}

	e := &Encoder{
		EncoderConfig: cfg,
		Config:        c,
		Events:        c.Events,
		metrics:       m,
		consumerDone:  make(chan struct{}),
		failedCh:      make(chan struct{}),
	}

	sess, err := compressor.Create(ctx, c.EngineFactory, cfg,
		compressor.OptionCompletionQueueSize(c.CompletionQueueSize),
		compressor.OptionOnPropertyWarning(e.onPropertyWarning),
	)
	if err != nil {
		return nil, err
	}
	if _, err := sess.Configure(ctx); err != nil {
		return nil, errors.Join(err, sess.Close(ctx))
	}
	if err := sess.Start(ctx); err != nil {
		return nil, errors.Join(err, sess.Close(ctx))
	}

	w, err := container.Open(ctx, c.MuxerFactory, container.Params{
		Path:      cfg.Path,
		Container: cfg.Container,
		Video:     cfg.VideoFormatHint(),
		Audio:     cfg.AudioFormatHint(),
		RealTime:  cfg.RealTime,
	},
		container.OptionMaxInterleaveDelta(c.MaxInterleaveDelta),
		container.OptionOnSampleWritten(e.onSampleWritten),
	)
	if err != nil {
		return nil, errors.Join(err, sess.Close(ctx))
	}

	e.Session = sess
	e.Writer = w
	observability.Go(context.WithoutCancel(ctx), e.consumeCompletions)
	return e, nil
}

func (e *Encoder) onPropertyWarning(ctx context.Context, propErr *compressor.PropertyError) {
	e.metrics.propertyWarnings.Inc()
	publish(e.Events, PropertyWarningEvent{
		Property: propErr.Property,
		Value:    propErr.Value,
		Err:      propErr.Err,
	})
}

func (e *Encoder) onSampleWritten(ctx context.Context, sample *types.Sample) {
	track := sample.Kind.String()
	e.metrics.samplesWritten.WithLabelValues(track).Inc()
	e.metrics.bytesWritten.WithLabelValues(track).Add(float64(len(sample.Data)))
}

func (e *Encoder) frameDropped(
	ctx context.Context,
	kind types.TrackKind,
	pts time.Duration,
	err error,
) {
	logger.Warnf(ctx, "dropped a %s frame at %v: %v", kind, pts, err)
	if kind == types.TrackKindVideo {
		e.metrics.framesFailed.Inc()
	}
	publish(e.Events, FrameDroppedEvent{Kind: kind, PTS: pts, Err: err})
}

func (e *Encoder) fail(ctx context.Context, err error) {
	e.failOnce.Do(func() {
		logger.Errorf(ctx, "the recording of '%s' failed: %v", e.EncoderConfig.Path, err)
		e.failErr = fmt.Errorf("%w: %w", ErrRecordingFailed, err)
		close(e.failedCh)
		publish(e.Events, RecordingFailedEvent{
			Path: e.EncoderConfig.Path,
			Err:  e.failErr,
		})
	})
}

// Failed is closed once the recording fails irrecoverably.
func (e *Encoder) Failed() <-chan struct{} {
	return e.failedCh
}

// Err returns the irrecoverable failure of the recording, if any.
func (e *Encoder) Err() error {
	select {
	case <-e.failedCh:
		return e.failErr
	default:
		return nil
	}
}

func (e *Encoder) consumeCompletions(ctx context.Context) {
	logger.Debugf(ctx, "consumeCompletions")
	defer func() { logger.Debugf(ctx, "/consumeCompletions") }()
	defer close(e.consumerDone)

	for c := range e.Session.Completions() {
		if c.Err != nil {
			if errors.Is(c.Err, compressor.ErrSessionDead) {
				e.fail(ctx, c.Err)
				continue
			}
			e.frameDropped(ctx, types.TrackKindVideo, c.FramePTS, c.Err)
			continue
		}

		err := e.Writer.AppendVideo(ctx, c.Sample)
		switch {
		case err == nil:
		case errors.Is(err, container.ErrNonMonotonicTimestamp):
			e.frameDropped(ctx, types.TrackKindVideo, c.Sample.PTS, err)
		case errors.Is(err, container.ErrWriterClosed):
			logger.Debugf(ctx, "the writer is closed, discarding %s", c.Sample)
		default:
			e.fail(ctx, err)
		}
	}
}

func (e *Encoder) checkSubmittable(ctx context.Context) error {
	if xsync.DoR1(ctx, &e.locker, func() bool { return e.stopped }) {
		return ErrStopped
	}
	return e.Err()
}

// SubmitVideoFrame hands a raw frame to the compression session and
// returns without waiting for the output.
func (e *Encoder) SubmitVideoFrame(
	ctx context.Context,
	frame *types.VideoFrame,
	pts time.Duration,
	duration time.Duration,
	props types.FrameProperties,
) (_err error) {
	logger.Tracef(ctx, "SubmitVideoFrame(ctx, %v, %v)", pts, duration)
	defer func() { logger.Tracef(ctx, "/SubmitVideoFrame(ctx, %v, %v): %v", pts, duration, _err) }()

	if err := e.checkSubmittable(ctx); err != nil {
		return err
	}

	err := e.Session.Encode(ctx, frame, pts, duration, props)
	switch {
	case err == nil:
		e.metrics.framesSubmitted.Inc()
		return nil
	case errors.Is(err, compressor.ErrSessionClosed):
		return ErrStopped
	case errors.Is(err, compressor.ErrSessionDead):
		e.fail(ctx, err)
		return e.failErr
	}
	return err
}

// SubmitAudioBuffer writes an already encoded (or PCM) audio sample.
func (e *Encoder) SubmitAudioBuffer(
	ctx context.Context,
	sample *types.Sample,
) (_err error) {
	logger.Tracef(ctx, "SubmitAudioBuffer(ctx, %s)", sample)
	defer func() { logger.Tracef(ctx, "/SubmitAudioBuffer(ctx, %s): %v", sample, _err) }()

	if err := e.checkSubmittable(ctx); err != nil {
		return err
	}

	err := e.Writer.AppendAudio(ctx, sample)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, container.ErrWriterClosed):
		return ErrStopped
	case errors.Is(err, container.ErrWrite):
		e.fail(ctx, err)
		return e.failErr
	case errors.Is(err, container.ErrNonMonotonicTimestamp):
		e.frameDropped(ctx, types.TrackKindAudio, sample.PTS, err)
	}
	return err
}

// Stop flushes every submitted frame, finalizes the file and releases the
// engine. The cancellation of ctx is ignored: a partially stopped recording
// would leave the file unfinalized and the engine allocated.
// The returned error includes the failure of the recording, if any.
func (e *Encoder) Stop(
	ctx context.Context,
) (_err error) {
	logger.Debugf(ctx, "Stop")
	defer func() { logger.Debugf(ctx, "/Stop: %v", _err) }()

	alreadyStopped := xsync.DoR1(ctx, &e.locker, func() bool {
		if e.stopped {
			return true
		}
		e.stopped = true
		return false
	})
	if alreadyStopped {
		return ErrStopped
	}

	// Stop is not preemptive: the writer may be closed only after every
	// submitted frame is drained, and the engine must be released anyway.
	ctx = context.WithoutCancel(ctx)

	var errs []error
	if err := e.Session.Drain(ctx); err != nil {
		errs = append(errs, fmt.Errorf("unable to drain the compression session: %w", err))
	}
	<-e.consumerDone
	if err := e.Writer.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("unable to close the writer: %w", err))
	}
	if err := e.Session.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("unable to close the compression session: %w", err))
	}
	if err := e.Err(); err != nil {
		errs = append(errs, err)
	}

	result := errors.Join(errs...)
	publish(e.Events, RecordingFinishedEvent{
		Path:   e.EncoderConfig.Path,
		Tracks: e.Writer.Stats(ctx),
		Err:    result,
	})
	return result
}

func (e *Encoder) Stats(ctx context.Context) Stats {
	sessStats := e.Session.Stats()
	return Stats{
		FramesSubmitted: sessStats.FramesSubmitted,
		FramesFailed:    sessStats.FramesFailed,
		Tracks:          e.Writer.Stats(ctx),
	}
}
