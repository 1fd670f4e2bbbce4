package container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/ffrecord/pkg/ffrecord/types"
	"github.com/xaionaro-go/xsync"
)

type State int

const (
	StateUndefined = State(iota)
	StateWriting
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUndefined:
		return "<undefined>"
	case StateWriting:
		return "writing"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("<unknown_state_%d>", int(s))
}

type TrackStats struct {
	Samples uint64
	Bytes   uint64
	LastDTS time.Duration
}

type track struct {
	Kind    types.TrackKind
	Hint    *types.TrackFormat
	Format  *types.TrackFormat
	Started bool
	HasLast bool
	LastDTS time.Duration
	Queue   []*types.Sample
	Stats   TrackStats
}

func (t *track) span() time.Duration {
	if len(t.Queue) == 0 {
		return 0
	}
	return t.Queue[len(t.Queue)-1].DTS - t.Queue[0].DTS
}

// Writer interleaves a video and an audio sample stream into a single
// container. All the methods are safe for concurrent use; the muxer I/O
// is serialized by a single lock.
type Writer struct {
	Params Params
	Config Config
	Muxer  Muxer

	locker        xsync.Mutex
	state         State
	tracks        []*track
	headerWritten bool
	appended      uint64
	failErr       error
}

// Open creates the output file. Any failure is wrapped with ErrFileCreate
// and leaves no file behind.
func Open(
	ctx context.Context,
	factory MuxerFactory,
	params Params,
	opts ...Option,
) (_ret *Writer, _err error) {
	logger.Debugf(ctx, "Open(ctx, '%s', %s)", params.Path, params.Container)
	defer func() { logger.Debugf(ctx, "/Open(ctx, '%s', %s): %v", params.Path, params.Container, _err) }()

	if factory == nil {
		return nil, fmt.Errorf("%w: the muxer factory is not set", ErrFileCreate)
	}
	switch params.Container {
	case types.ContainerMP4, types.ContainerMOV:
	default:
		return nil, fmt.Errorf("%w: unsupported container type %s", ErrFileCreate, params.Container)
	}
	if params.Video == nil && params.Audio == nil {
		return nil, fmt.Errorf("%w: no tracks are declared", ErrFileCreate)
	}
	if params.Path == "" {
		return nil, fmt.Errorf("%w: the path is empty", ErrFileCreate)
	}
	if err := checkWritable(params.Path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileCreate, err)
	}

	muxer, err := factory.NewMuxer(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to initialize a %s muxer for '%s': %w", ErrFileCreate, params.Container, params.Path, err)
	}

	w := &Writer{
		Params: params,
		Config: Options(opts).Config(),
		Muxer:  muxer,
		state:  StateWriting,
	}
	if params.Video != nil {
		w.tracks = append(w.tracks, &track{Kind: types.TrackKindVideo, Hint: params.Video})
	}
	if params.Audio != nil {
		w.tracks = append(w.tracks, &track{Kind: types.TrackKindAudio, Hint: params.Audio})
	}
	return w, nil
}

func (w *Writer) AppendVideo(ctx context.Context, sample *types.Sample) error {
	return w.append(ctx, types.TrackKindVideo, sample)
}

func (w *Writer) AppendAudio(ctx context.Context, sample *types.Sample) error {
	return w.append(ctx, types.TrackKindAudio, sample)
}

// append takes the ownership of the sample. Samples of a track must have
// strictly increasing decoding timestamps; samples of different tracks may
// arrive in any order.
func (w *Writer) append(
	ctx context.Context,
	kind types.TrackKind,
	sample *types.Sample,
) (_err error) {
	logger.Tracef(ctx, "append(ctx, %s, %s)", kind, sample)
	defer func() { logger.Tracef(ctx, "/append(ctx, %s, %s): %v", kind, sample, _err) }()

	if sample == nil {
		return fmt.Errorf("the sample is nil")
	}

	return xsync.DoR1(ctx, &w.locker, func() error {
		switch w.state {
		case StateClosed:
			return ErrWriterClosed
		case StateFailed:
			return w.failErr
		}

		t := w.trackLocked(kind)
		if t == nil {
			return fmt.Errorf("%w: %s", ErrUnknownTrack, kind)
		}
		if t.HasLast && sample.DTS <= t.LastDTS {
			logger.Warnf(ctx, "dropping a %s sample: DTS %v <= %v", kind, sample.DTS, t.LastDTS)
			return fmt.Errorf("%w: %s DTS %v <= %v", ErrNonMonotonicTimestamp, kind, sample.DTS, t.LastDTS)
		}

		sample.Kind = kind
		if !t.Started {
			t.Started = true
			t.Format = sample.Format.Merge(t.Hint)
		}
		t.HasLast, t.LastDTS = true, sample.DTS
		t.Queue = append(t.Queue, sample)
		w.appended++

		if err := w.flushLocked(ctx, false); err != nil {
			w.failLocked(ctx, err)
			return w.failErr
		}
		return nil
	})
}

func (w *Writer) trackLocked(kind types.TrackKind) *track {
	for _, t := range w.tracks {
		if t.Kind == kind {
			return t
		}
	}
	return nil
}

func (w *Writer) failLocked(ctx context.Context, err error) {
	logger.Errorf(ctx, "the writer of '%s' failed: %v", w.Params.Path, err)
	w.state = StateFailed
	w.failErr = err
}

func (w *Writer) readyForHeaderLocked() bool {
	allStarted := true
	for _, t := range w.tracks {
		if !t.Started {
			allStarted = false
		}
	}
	if allStarted {
		return true
	}
	for _, t := range w.tracks {
		if t.span() > w.Config.MaxInterleaveDelta {
			return true
		}
	}
	return false
}

func (w *Writer) writeHeaderLocked(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "writeHeaderLocked")
	defer func() { logger.Debugf(ctx, "/writeHeaderLocked: %v", _err) }()

	for _, t := range w.tracks {
		format := t.Format
		if format == nil {
			logger.Warnf(ctx, "no %s samples received yet, declaring the track using the hint", t.Kind)
			format = t.Hint
		}
		f := *format
		f.Kind = t.Kind
		if err := w.Muxer.AddTrack(ctx, f); err != nil {
			return fmt.Errorf("%w: unable to add the %s track: %w", ErrWrite, t.Kind, err)
		}
	}
	if err := w.Muxer.WriteHeader(ctx); err != nil {
		return fmt.Errorf("%w: unable to write the header: %w", ErrWrite, err)
	}
	w.headerWritten = true
	return nil
}

// nextTrackLocked returns the track whose head sample should be written next,
// or nil if it is better to wait for more samples.
func (w *Writer) nextTrackLocked(final bool) *track {
	var (
		best    *track
		waiting bool
	)
	for _, t := range w.tracks {
		if len(t.Queue) == 0 {
			continue
		}
		if best == nil || t.Queue[0].DTS < best.Queue[0].DTS {
			best = t
		}
	}
	if best == nil || final {
		return best
	}

	head := best.Queue[0].DTS
	for _, t := range w.tracks {
		if t == best || len(t.Queue) > 0 {
			continue
		}
		// next samples of t will have DTS > t.LastDTS
		if t.HasLast && head <= t.LastDTS {
			continue
		}
		waiting = true
	}
	if !waiting {
		return best
	}
	if best.span() > w.Config.MaxInterleaveDelta {
		return best
	}
	return nil
}

func (w *Writer) flushLocked(ctx context.Context, final bool) error {
	if !w.headerWritten {
		if !final && !w.readyForHeaderLocked() {
			return nil
		}
		if err := w.writeHeaderLocked(ctx); err != nil {
			return err
		}
	}

	for {
		t := w.nextTrackLocked(final)
		if t == nil {
			return nil
		}
		sample := t.Queue[0]
		t.Queue[0] = nil
		t.Queue = t.Queue[1:]

		if err := w.Muxer.WriteSample(ctx, sample); err != nil {
			return fmt.Errorf("%w: unable to write the %s sample at %v: %w", ErrWrite, t.Kind, sample.DTS, err)
		}
		t.Stats.Samples++
		t.Stats.Bytes += uint64(len(sample.Data))
		t.Stats.LastDTS = sample.DTS
		if w.Config.OnSampleWritten != nil {
			w.Config.OnSampleWritten(ctx, sample)
		}
	}
}

// Close stops accepting samples, writes out everything buffered, finalizes
// the container and closes the file. A recording without a single sample
// is removed. Calling Close twice returns ErrWriterClosed.
func (w *Writer) Close(
	ctx context.Context,
) (_err error) {
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close: %v", _err) }()

	return xsync.DoR1(ctx, &w.locker, func() error {
		if w.state == StateClosed {
			return ErrWriterClosed
		}
		prevState := w.state
		w.state = StateClosed

		var errs []error
		if prevState == StateFailed {
			errs = append(errs, w.failErr)
		}

		if w.appended == 0 {
			logger.Warnf(ctx, "nothing was recorded, removing '%s'", w.Params.Path)
			if err := w.Muxer.Abort(ctx); err != nil {
				errs = append(errs, fmt.Errorf("unable to remove the empty recording: %w", err))
			}
			return errors.Join(errs...)
		}

		if prevState != StateFailed {
			if err := w.flushLocked(ctx, true); err != nil {
				errs = append(errs, err)
			}
		}

		if !w.headerWritten {
			if err := w.Muxer.Abort(ctx); err != nil {
				errs = append(errs, fmt.Errorf("unable to remove the unfinished recording: %w", err))
			}
			return errors.Join(errs...)
		}

		if err := w.Muxer.WriteTrailer(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%w: unable to write the trailer: %w", ErrWrite, err))
		}
		if err := w.Muxer.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unable to close the muxer: %w", err))
		}
		return errors.Join(errs...)
	})
}

func (w *Writer) State(ctx context.Context) State {
	return xsync.DoR1(ctx, &w.locker, func() State {
		return w.state
	})
}

// Stats returns the statistics of written (not just appended) samples.
func (w *Writer) Stats(ctx context.Context) map[types.TrackKind]TrackStats {
	return xsync.DoR1(ctx, &w.locker, func() map[types.TrackKind]TrackStats {
		r := make(map[types.TrackKind]TrackStats, len(w.tracks))
		for _, t := range w.tracks {
			r[t.Kind] = t.Stats
		}
		return r
	})
}
