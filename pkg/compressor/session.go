package compressor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/ffrecord/pkg/ffrecord/types"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xsync"
)

type State int

const (
	StateUndefined = State(iota)
	StateCreated
	StateConfigured
	StateRunning
	StateDraining
	StateClosed
	StateDead
)

func (s State) String() string {
	switch s {
	case StateUndefined:
		return "<undefined>"
	case StateCreated:
		return "created"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateDead:
		return "dead"
	}
	return fmt.Sprintf("<unknown_state_%d>", int(s))
}

// Completion is emitted once per produced sample or per failed frame.
type Completion struct {
	Sample *types.Sample

	// FramePTS is the timestamp of the failed frame, if Err is set and
	// the failure could be attributed to a frame.
	FramePTS time.Duration
	Err      error
}

type ConfigureReport struct {
	Applied  []PropertyValue
	Warnings []*PropertyError
}

type Stats struct {
	FramesSubmitted uint64
	FramesFailed    uint64
	SamplesEmitted  uint64
}

type submission struct {
	Frame    *types.VideoFrame
	PTS      time.Duration
	Duration time.Duration
	Props    types.FrameProperties
}

// Session drives a single Engine through
// created -> configured -> running -> draining -> closed
// (or dead, once the engine reports an irrecoverable failure).
type Session struct {
	EncoderConfig types.EncoderConfig
	Config        Config
	Engine        Engine

	locker     xsync.Mutex
	state      State
	lastPTS    time.Duration
	hasLastPTS bool
	report     ConfigureReport

	submissionCh chan submission
	completionCh chan Completion
	engineDone   chan struct{}

	deadCh   chan struct{}
	deadOnce sync.Once
	deadErr  error

	framesSubmitted atomic.Uint64
	framesFailed    atomic.Uint64
	samplesEmitted  atomic.Uint64
}

// Create allocates the engine. Any failure is wrapped with ErrEngineInit.
func Create(
	ctx context.Context,
	factory EngineFactory,
	cfg types.EncoderConfig,
	opts ...Option,
) (_ret *Session, _err error) {
	logger.Debugf(ctx, "Create(ctx, %s, %dx%d, %s)", cfg.Codec, cfg.Width, cfg.Height, cfg.SourcePixelFormat)
	defer func() {
		logger.Debugf(ctx, "/Create(ctx, %s, %dx%d, %s): %v", cfg.Codec, cfg.Width, cfg.Height, cfg.SourcePixelFormat, _err)
	}()

	if factory == nil {
		return nil, fmt.Errorf("%w: the engine factory is not set", ErrEngineInit)
	}

	engine, err := factory.NewEngine(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to allocate a %s engine for %dx%d %s: %w", ErrEngineInit, cfg.Codec, cfg.Width, cfg.Height, cfg.SourcePixelFormat, err)
	}

	sessCfg := Options(opts).Config()
	if sessCfg.SubmissionQueueSize < 0 {
		sessCfg.SubmissionQueueSize = 0
	}
	if sessCfg.CompletionQueueSize < 0 {
		sessCfg.CompletionQueueSize = 0
	}

	return &Session{
		EncoderConfig: cfg,
		Config:        sessCfg,
		Engine:        engine,
		state:         StateCreated,
		submissionCh:  make(chan submission, sessCfg.SubmissionQueueSize),
		completionCh:  make(chan Completion, sessCfg.CompletionQueueSize),
		engineDone:    make(chan struct{}),
		deadCh:        make(chan struct{}),
	}, nil
}

// Configure applies every property of the configuration in a fixed order.
// A property that fails to apply is reported as a warning and the engine
// default is used instead; it never aborts the configuration.
func (s *Session) Configure(
	ctx context.Context,
) (_ret ConfigureReport, _err error) {
	logger.Debugf(ctx, "Configure")
	defer func() { logger.Debugf(ctx, "/Configure: %d warnings, %v", len(_ret.Warnings), _err) }()

	return xsync.DoR2(ctx, &s.locker, func() (ConfigureReport, error) {
		if s.state != StateCreated {
			return ConfigureReport{}, fmt.Errorf("unable to configure a session in state %s", s.state)
		}

		for _, step := range PropertyPlan(s.EncoderConfig) {
			err := s.Engine.SetProperty(ctx, step.Property, step.Value)
			if err != nil {
				s.warnLocked(ctx, &PropertyError{
					Property: step.Property,
					Value:    step.Value,
					Err:      err,
				})
				continue
			}
			logger.Tracef(ctx, "applied %s", step)
			s.report.Applied = append(s.report.Applied, step)
		}

		s.state = StateConfigured
		return s.report, nil
	})
}

func (s *Session) warnLocked(ctx context.Context, propErr *PropertyError) {
	logger.Warnf(ctx, "%v; using the engine default", propErr)
	s.report.Warnings = append(s.report.Warnings, propErr)
	if s.Config.OnPropertyWarning != nil {
		s.Config.OnPropertyWarning(ctx, propErr)
	}
}

// Start opens the engine and starts accepting frames.
func (s *Session) Start(
	ctx context.Context,
) (_err error) {
	logger.Debugf(ctx, "Start")
	defer func() { logger.Debugf(ctx, "/Start: %v", _err) }()

	return xsync.DoR1(ctx, &s.locker, func() error {
		if s.state != StateConfigured {
			return fmt.Errorf("unable to start a session in state %s", s.state)
		}

		ignored, err := s.Engine.Open(ctx)
		if err != nil {
			return fmt.Errorf("%w: unable to open the engine: %w", ErrEngineInit, err)
		}
		for _, propErr := range ignored {
			s.warnLocked(ctx, propErr)
		}

		s.state = StateRunning
		observability.Go(context.WithoutCancel(ctx), s.serveEngine)
		return nil
	})
}

// Encode submits a frame and returns without waiting for the output.
// The session takes the ownership of the frame.
//
// Timestamps must be non-decreasing and the duration must be positive.
func (s *Session) Encode(
	ctx context.Context,
	frame *types.VideoFrame,
	pts time.Duration,
	duration time.Duration,
	props types.FrameProperties,
) (_err error) {
	logger.Tracef(ctx, "Encode(ctx, pts:%v, dur:%v, %#+v)", pts, duration, props)
	defer func() { logger.Tracef(ctx, "/Encode(ctx, pts:%v, dur:%v, %#+v): %v", pts, duration, props, _err) }()

	if duration <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidDuration, duration)
	}
	if err := frame.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}

	return xsync.DoR1(ctx, &s.locker, func() error {
		if err := s.deadError(); err != nil {
			return err
		}
		switch s.state {
		case StateRunning:
		case StateDraining, StateClosed:
			return ErrSessionClosed
		default:
			return ErrSessionNotStarted
		}
		if s.hasLastPTS && pts < s.lastPTS {
			return fmt.Errorf("%w: %v < %v", ErrInvalidTimestamp, pts, s.lastPTS)
		}

		select {
		case s.submissionCh <- submission{
			Frame:    frame,
			PTS:      pts,
			Duration: duration,
			Props:    props,
		}:
		case <-s.deadCh:
			return s.deadError()
		case <-ctx.Done():
			return ctx.Err()
		}

		s.lastPTS, s.hasLastPTS = pts, true
		s.framesSubmitted.Add(1)
		return nil
	})
}

// Completions returns the channel of produced samples and per-frame failures.
// It is closed when the session is drained. The channel must be consumed,
// otherwise the engine goroutine (and Drain) blocks.
func (s *Session) Completions() <-chan Completion {
	return s.completionCh
}

// Drain blocks until every submitted frame is flushed through the engine and
// every completion is emitted. It is safe to call more than once.
func (s *Session) Drain(
	ctx context.Context,
) (_err error) {
	logger.Debugf(ctx, "Drain")
	defer func() { logger.Debugf(ctx, "/Drain: %v", _err) }()

	s.locker.Do(ctx, func() {
		switch s.state {
		case StateCreated, StateConfigured:
			s.state = StateDraining
			close(s.submissionCh)
			close(s.completionCh)
			close(s.engineDone)
		case StateRunning:
			s.state = StateDraining
			close(s.submissionCh)
		}
	})

	select {
	case <-s.engineDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the session (if not drained yet) and releases the engine.
func (s *Session) Close(
	ctx context.Context,
) (_err error) {
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close: %v", _err) }()

	if err := s.Drain(ctx); err != nil {
		return fmt.Errorf("unable to drain: %w", err)
	}

	return xsync.DoR1(ctx, &s.locker, func() error {
		if s.state == StateClosed {
			return nil
		}
		s.state = StateClosed
		if err := s.Engine.Close(ctx); err != nil {
			return fmt.Errorf("unable to close the engine: %w", err)
		}
		return nil
	})
}

func (s *Session) State(ctx context.Context) State {
	if s.isDead() {
		return StateDead
	}
	return xsync.DoR1(ctx, &s.locker, func() State {
		return s.state
	})
}

func (s *Session) Report(ctx context.Context) ConfigureReport {
	return xsync.DoR1(ctx, &s.locker, func() ConfigureReport {
		return ConfigureReport{
			Applied:  append([]PropertyValue(nil), s.report.Applied...),
			Warnings: append([]*PropertyError(nil), s.report.Warnings...),
		}
	})
}

func (s *Session) Stats() Stats {
	return Stats{
		FramesSubmitted: s.framesSubmitted.Load(),
		FramesFailed:    s.framesFailed.Load(),
		SamplesEmitted:  s.samplesEmitted.Load(),
	}
}

func (s *Session) isDead() bool {
	select {
	case <-s.deadCh:
		return true
	default:
		return false
	}
}

func (s *Session) deadError() error {
	if !s.isDead() {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrSessionDead, s.deadErr)
}

func (s *Session) die(ctx context.Context, err error) {
	s.deadOnce.Do(func() {
		logger.Errorf(ctx, "the compression engine failed irrecoverably: %v", err)
		s.deadErr = err
		close(s.deadCh)
	})
}

func (s *Session) emit(ctx context.Context, c Completion) {
	if c.Err != nil {
		logger.Debugf(ctx, "completion error: %v", c.Err)
	}
	s.completionCh <- c
}

func (s *Session) serveEngine(ctx context.Context) {
	logger.Debugf(ctx, "serveEngine")
	defer func() { logger.Debugf(ctx, "/serveEngine") }()
	defer close(s.engineDone)
	defer close(s.completionCh)

	for sub := range s.submissionCh {
		if s.isDead() {
			s.framesFailed.Add(1)
			s.emit(ctx, Completion{FramePTS: sub.PTS, Err: s.deadError()})
			continue
		}

		err := s.Engine.SendFrame(ctx, sub.Frame, sub.PTS, sub.Duration, sub.Props)
		if err != nil {
			s.framesFailed.Add(1)
			if IsFatal(err) {
				s.die(ctx, err)
				s.emit(ctx, Completion{FramePTS: sub.PTS, Err: s.deadError()})
				continue
			}
			s.emit(ctx, Completion{
				FramePTS: sub.PTS,
				Err:      fmt.Errorf("unable to encode the frame at %v: %w", sub.PTS, err),
			})
			continue
		}

		s.receiveSamples(ctx)
	}

	if s.isDead() {
		return
	}

	if err := s.Engine.Flush(ctx); err != nil {
		if IsFatal(err) {
			s.die(ctx, err)
			s.emit(ctx, Completion{Err: s.deadError()})
			return
		}
		s.emit(ctx, Completion{Err: fmt.Errorf("unable to flush the engine: %w", err)})
	}
	s.receiveSamples(ctx)
}

func (s *Session) receiveSamples(ctx context.Context) {
	for {
		sample, err := s.Engine.ReceiveSample(ctx)
		switch {
		case err == nil:
			assert(ctx, sample != nil, "the engine returned neither a sample nor an error")
			sample.Kind = types.TrackKindVideo
			s.samplesEmitted.Add(1)
			s.emit(ctx, Completion{Sample: sample})
		case errors.Is(err, ErrNoOutput), errors.Is(err, io.EOF):
			return
		case IsFatal(err):
			s.die(ctx, err)
			s.emit(ctx, Completion{Err: s.deadError()})
			return
		default:
			s.emit(ctx, Completion{Err: fmt.Errorf("unable to receive a sample: %w", err)})
			return
		}
	}
}
