package compressor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/xaionaro-go/ffrecord/pkg/ffrecord/types"
)

type fakeEngine struct {
	locker sync.Mutex

	Unsupported   map[Property]bool
	IgnoredOnOpen []Property
	OpenErr       error
	Delay         int
	FrameErrors   map[time.Duration]error

	Applied []PropertyValue
	Opened  bool
	Flushed bool
	Closed  bool

	pending []*types.Sample
	counter int
}

var _ Engine = (*fakeEngine)(nil)

func (e *fakeEngine) SetProperty(ctx context.Context, prop Property, value any) error {
	e.locker.Lock()
	defer e.locker.Unlock()
	if e.Unsupported[prop] {
		return fmt.Errorf("fake: %w", ErrPropertyUnsupported)
	}
	e.Applied = append(e.Applied, PropertyValue{Property: prop, Value: value})
	return nil
}

func (e *fakeEngine) Open(ctx context.Context) ([]*PropertyError, error) {
	e.locker.Lock()
	defer e.locker.Unlock()
	if e.OpenErr != nil {
		return nil, e.OpenErr
	}
	e.Opened = true
	var r []*PropertyError
	for _, prop := range e.IgnoredOnOpen {
		r = append(r, &PropertyError{Property: prop, Err: ErrPropertyUnsupported})
	}
	return r, nil
}

func (e *fakeEngine) SendFrame(
	ctx context.Context,
	frame *types.VideoFrame,
	pts time.Duration,
	duration time.Duration,
	props types.FrameProperties,
) error {
	e.locker.Lock()
	defer e.locker.Unlock()
	if err, ok := e.FrameErrors[pts]; ok {
		return err
	}
	e.pending = append(e.pending, &types.Sample{
		PTS:      pts,
		DTS:      pts,
		Duration: duration,
		Data:     []byte{byte(e.counter)},
		KeyFrame: props.ForceKeyFrame || e.counter == 0,
	})
	e.counter++
	return nil
}

func (e *fakeEngine) ReceiveSample(ctx context.Context) (*types.Sample, error) {
	e.locker.Lock()
	defer e.locker.Unlock()
	if len(e.pending) == 0 {
		if e.Flushed {
			return nil, io.EOF
		}
		return nil, ErrNoOutput
	}
	if !e.Flushed && len(e.pending) <= e.Delay {
		return nil, ErrNoOutput
	}
	s := e.pending[0]
	e.pending = e.pending[1:]
	return s, nil
}

func (e *fakeEngine) Flush(ctx context.Context) error {
	e.locker.Lock()
	defer e.locker.Unlock()
	e.Flushed = true
	return nil
}

func (e *fakeEngine) Close(ctx context.Context) error {
	e.locker.Lock()
	defer e.locker.Unlock()
	e.Closed = true
	return nil
}

type fakeEngineFactory struct {
	Engine *fakeEngine
	Err    error
}

func (f fakeEngineFactory) NewEngine(ctx context.Context, cfg types.EncoderConfig) (Engine, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Engine, nil
}

func testConfig() types.EncoderConfig {
	return types.EncoderConfig{
		SourcePixelFormat:   types.PixelFormatNV12,
		Width:               4,
		Height:              2,
		FrameRate:           types.Rational{Num: 30, Den: 1},
		Codec:               types.CodecH264,
		RateControl:         types.RateControlCBR{BitRate: 8_000_000},
		MaxKeyFrameInterval: 60,
		ColorPrimaries:      types.ColorPrimariesBT709,
		TransferFunction:    types.TransferFunctionBT709,
		YCbCrMatrix:         types.YCbCrMatrixBT709,
		BitDepth:            8,
		Path:                "/dev/null",
		Container:           types.ContainerMP4,
	}
}

func testFrame() *types.VideoFrame {
	return &types.VideoFrame{
		PixelFormat: types.PixelFormatNV12,
		Width:       4,
		Height:      2,
		Data:        make([]byte, types.PixelFormatNV12.FrameSize(4, 2)),
	}
}

func newRunningSession(t *testing.T, engine *fakeEngine, cfg types.EncoderConfig) *Session {
	ctx := context.Background()
	s, err := Create(ctx, fakeEngineFactory{Engine: engine}, cfg)
	if err != nil {
		t.Fatalf("unable to create a session: %v", err)
	}
	if _, err := s.Configure(ctx); err != nil {
		t.Fatalf("unable to configure the session: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("unable to start the session: %v", err)
	}
	return s
}

func collectCompletions(s *Session) <-chan []Completion {
	ch := make(chan []Completion, 1)
	go func() {
		var r []Completion
		for c := range s.Completions() {
			r = append(r, c)
		}
		ch <- r
	}()
	return ch
}

func TestPropertyPlanOrder(t *testing.T) {
	propsOf := func(plan []PropertyValue) []Property {
		var r []Property
		for _, v := range plan {
			r = append(r, v.Property)
		}
		return r
	}
	equal := func(a, b []Property) bool {
		if len(a) != len(b) {
			return false
		}
		for idx := range a {
			if a[idx] != b[idx] {
				return false
			}
		}
		return true
	}

	t.Run("CBR", func(t *testing.T) {
		cfg := testConfig()
		cfg.ICCProfile = []byte{1}
		got := propsOf(PropertyPlan(cfg))
		expected := []Property{
			PropertyProfileLevel,
			PropertyRealTime,
			PropertyConstantBitRate,
			PropertyAllowTemporalCompression,
			PropertyAllowFrameReordering,
			PropertyMaxKeyFrameInterval,
			PropertyColorPrimaries,
			PropertyOutputBitDepth,
			PropertyYCbCrMatrix,
			PropertyICCProfile,
			PropertyTransferFunction,
		}
		if !equal(got, expected) {
			t.Fatalf("unexpected plan:\n got %v\nwant %v", got, expected)
		}
	})

	t.Run("ABR", func(t *testing.T) {
		cfg := testConfig()
		cfg.RateControl = types.RateControlABR{BitRate: 8_000_000}
		plan := PropertyPlan(cfg)
		if plan[2].Property != PropertyAverageBitRate || plan[3].Property != PropertyDataRateLimits {
			t.Fatalf("unexpected rate control steps: %v", plan[2:4])
		}
		limit := plan[3].Value.(DataRateLimit)
		if limit.Bytes != 1_500_000 || limit.Window != time.Second {
			t.Fatalf("unexpected data rate limit: %#+v", limit)
		}
	})

	t.Run("ProResIgnoresRateControl", func(t *testing.T) {
		cfg := testConfig()
		cfg.Codec = types.CodecProRes
		cfg.ProResProfile = types.ProResProfileHQ
		cfg.RateControl = types.RateControlCRF{Quality: 0.5}
		for _, step := range PropertyPlan(cfg) {
			switch step.Property {
			case PropertyConstantBitRate, PropertyAverageBitRate, PropertyDataRateLimits, PropertyQuality:
				t.Fatalf("unexpected rate control step for ProRes: %s", step)
			}
		}
	})

	t.Run("CustomOptionsLast", func(t *testing.T) {
		cfg := testConfig()
		cfg.EncoderOptions = types.DictionaryItems{{Key: "a", Value: "1"}, {Key: "a", Value: "2"}}
		plan := PropertyPlan(cfg)
		last := plan[len(plan)-1]
		if last.Property != PropertyCustomOption || last.Value.(types.DictionaryItem).Value != "2" {
			t.Fatalf("unexpected last step: %s", last)
		}
		if plan[len(plan)-2].Property == PropertyCustomOption {
			t.Fatalf("custom options were not deduplicated")
		}
	})
}

func TestSessionConfigureWarnings(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.ICCProfile = []byte{1, 2, 3}

	engine := &fakeEngine{
		Unsupported: map[Property]bool{
			PropertyICCProfile:   true,
			PropertyProfileLevel: true,
		},
		IgnoredOnOpen: []Property{PropertyRealTime},
	}

	var hookCalls int
	s, err := Create(ctx, fakeEngineFactory{Engine: engine}, cfg, OptionOnPropertyWarning(func(ctx context.Context, err *PropertyError) {
		hookCalls++
	}))
	if err != nil {
		t.Fatalf("unable to create: %v", err)
	}

	report, err := s.Configure(ctx)
	if err != nil {
		t.Fatalf("configure must not fail on unsupported properties: %v", err)
	}
	if len(report.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %d: %v", len(report.Warnings), report.Warnings)
	}
	if report.Warnings[0].Property != PropertyProfileLevel || report.Warnings[1].Property != PropertyICCProfile {
		t.Fatalf("unexpected warnings order: %v", report.Warnings)
	}
	if !errors.Is(report.Warnings[1], ErrPropertyUnsupported) {
		t.Fatalf("the warning does not wrap ErrPropertyUnsupported: %v", report.Warnings[1])
	}
	if got := s.State(ctx); got != StateConfigured {
		t.Fatalf("unexpected state %s", got)
	}
	if len(engine.Applied) != len(PropertyPlan(cfg))-2 {
		t.Fatalf("unexpected amount of applied properties: %d", len(engine.Applied))
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("unable to start: %v", err)
	}
	if got := len(s.Report(ctx).Warnings); got != 3 {
		t.Fatalf("expected the ignored-on-open property to be reported, got %d warnings", got)
	}
	if hookCalls != 3 {
		t.Fatalf("expected 3 hook calls, got %d", hookCalls)
	}

	if _, err := s.Configure(ctx); err == nil {
		t.Fatalf("expected an error on reconfiguration")
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("unable to close: %v", err)
	}
}

func TestSessionCreateFailure(t *testing.T) {
	ctx := context.Background()
	_, err := Create(ctx, fakeEngineFactory{Err: errors.New("no such encoder")}, testConfig())
	if !errors.Is(err, ErrEngineInit) {
		t.Fatalf("expected ErrEngineInit, got %v", err)
	}

	_, err = Create(ctx, nil, testConfig())
	if !errors.Is(err, ErrEngineInit) {
		t.Fatalf("expected ErrEngineInit for a nil factory, got %v", err)
	}

	engine := &fakeEngine{OpenErr: errors.New("unsupported resolution")}
	s, err := Create(ctx, fakeEngineFactory{Engine: engine}, testConfig())
	if err != nil {
		t.Fatalf("unable to create: %v", err)
	}
	if _, err := s.Configure(ctx); err != nil {
		t.Fatalf("unable to configure: %v", err)
	}
	if err := s.Start(ctx); !errors.Is(err, ErrEngineInit) {
		t.Fatalf("expected ErrEngineInit on open failure, got %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("unable to close a never started session: %v", err)
	}
	if !engine.Closed {
		t.Fatalf("the engine was not closed")
	}
}

func TestSessionEncodeAndDrain(t *testing.T) {
	ctx := context.Background()
	engine := &fakeEngine{Delay: 2}
	s := newRunningSession(t, engine, testConfig())
	resultCh := collectCompletions(s)

	const frameCount = 10
	frameDuration := time.Second / 30
	for idx := 0; idx < frameCount; idx++ {
		err := s.Encode(ctx, testFrame(), time.Duration(idx)*frameDuration, frameDuration, types.FrameProperties{})
		if err != nil {
			t.Fatalf("unable to encode frame #%d: %v", idx, err)
		}
	}

	if err := s.Drain(ctx); err != nil {
		t.Fatalf("unable to drain: %v", err)
	}
	completions := <-resultCh

	if len(completions) != frameCount {
		t.Fatalf("expected %d completions, got %d", frameCount, len(completions))
	}
	for idx, c := range completions {
		if c.Err != nil {
			t.Fatalf("unexpected error in completion #%d: %v", idx, c.Err)
		}
		if c.Sample.Kind != types.TrackKindVideo {
			t.Fatalf("unexpected sample kind %s", c.Sample.Kind)
		}
		if expected := time.Duration(idx) * frameDuration; c.Sample.PTS != expected {
			t.Fatalf("completion #%d: expected PTS %v, got %v", idx, expected, c.Sample.PTS)
		}
	}
	if !engine.Flushed {
		t.Fatalf("the engine was not flushed")
	}

	stats := s.Stats()
	if stats.FramesSubmitted != frameCount || stats.SamplesEmitted != frameCount || stats.FramesFailed != 0 {
		t.Fatalf("unexpected stats: %#+v", stats)
	}

	if err := s.Encode(ctx, testFrame(), time.Hour, frameDuration, types.FrameProperties{}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed after drain, got %v", err)
	}
	if err := s.Drain(ctx); err != nil {
		t.Fatalf("second drain failed: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("unable to close: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if !engine.Closed {
		t.Fatalf("the engine was not closed")
	}
}

func TestSessionTimestampValidation(t *testing.T) {
	ctx := context.Background()
	s := newRunningSession(t, &fakeEngine{}, testConfig())
	resultCh := collectCompletions(s)

	d := time.Second / 30
	if err := s.Encode(ctx, testFrame(), 0, 0, types.FrameProperties{}); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
	if err := s.Encode(ctx, &types.VideoFrame{PixelFormat: types.PixelFormatNV12, Width: 4, Height: 2}, 0, d, types.FrameProperties{}); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
	if err := s.Encode(ctx, testFrame(), 10*d, d, types.FrameProperties{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Encode(ctx, testFrame(), 10*d, d, types.FrameProperties{}); err != nil {
		t.Fatalf("equal timestamps must be accepted: %v", err)
	}
	if err := s.Encode(ctx, testFrame(), 9*d, d, types.FrameProperties{}); !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("expected ErrInvalidTimestamp, got %v", err)
	}
	if err := s.Encode(ctx, testFrame(), 11*d, d, types.FrameProperties{}); err != nil {
		t.Fatalf("the session must remain usable after a rejected frame: %v", err)
	}

	if err := s.Close(ctx); err != nil {
		t.Fatalf("unable to close: %v", err)
	}
	if got := len(<-resultCh); got != 3 {
		t.Fatalf("expected 3 completions, got %d", got)
	}
}

func TestSessionPerFrameFailure(t *testing.T) {
	ctx := context.Background()
	d := time.Second / 30
	engine := &fakeEngine{
		FrameErrors: map[time.Duration]error{
			3 * d: errors.New("invalid frame data"),
		},
	}
	s := newRunningSession(t, engine, testConfig())
	resultCh := collectCompletions(s)

	for idx := 0; idx < 6; idx++ {
		if err := s.Encode(ctx, testFrame(), time.Duration(idx)*d, d, types.FrameProperties{}); err != nil {
			t.Fatalf("unable to encode frame #%d: %v", idx, err)
		}
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("unable to close: %v", err)
	}

	var samples, failures int
	for _, c := range <-resultCh {
		if c.Err != nil {
			failures++
			if c.FramePTS != 3*d {
				t.Fatalf("unexpected failed frame PTS %v", c.FramePTS)
			}
			if errors.Is(c.Err, ErrSessionDead) {
				t.Fatalf("a per-frame failure must not kill the session")
			}
			continue
		}
		samples++
	}
	if samples != 5 || failures != 1 {
		t.Fatalf("expected 5 samples and 1 failure, got %d and %d", samples, failures)
	}
	if got := s.Stats().FramesFailed; got != 1 {
		t.Fatalf("unexpected failed frames counter: %d", got)
	}
}

func TestSessionDead(t *testing.T) {
	ctx := context.Background()
	d := time.Second / 30
	engine := &fakeEngine{
		FrameErrors: map[time.Duration]error{
			2 * d: Fatal(errors.New("hardware encoder reset")),
		},
	}
	s := newRunningSession(t, engine, testConfig())

	for idx := 0; idx < 3; idx++ {
		if err := s.Encode(ctx, testFrame(), time.Duration(idx)*d, d, types.FrameProperties{}); err != nil {
			t.Fatalf("unable to encode frame #%d: %v", idx, err)
		}
	}

	var gotDead bool
	for c := range s.Completions() {
		if c.Err != nil && errors.Is(c.Err, ErrSessionDead) {
			gotDead = true
			break
		}
	}
	if !gotDead {
		t.Fatalf("expected a session-dead completion")
	}
	if got := s.State(ctx); got != StateDead {
		t.Fatalf("expected state %s, got %s", StateDead, got)
	}

	err := s.Encode(ctx, testFrame(), 3*d, d, types.FrameProperties{})
	if !errors.Is(err, ErrSessionDead) {
		t.Fatalf("expected ErrSessionDead, got %v", err)
	}

	go func() {
		for range s.Completions() {
		}
	}()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("unable to close a dead session: %v", err)
	}
	if engine.Flushed {
		t.Fatalf("a dead engine must not be flushed")
	}
}

func TestSessionLifecycleErrors(t *testing.T) {
	ctx := context.Background()
	s, err := Create(ctx, fakeEngineFactory{Engine: &fakeEngine{}}, testConfig())
	if err != nil {
		t.Fatalf("unable to create: %v", err)
	}

	d := time.Second / 30
	if err := s.Encode(ctx, testFrame(), 0, d, types.FrameProperties{}); !errors.Is(err, ErrSessionNotStarted) {
		t.Fatalf("expected ErrSessionNotStarted, got %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Fatalf("expected an error when starting a non-configured session")
	}

	if err := s.Drain(ctx); err != nil {
		t.Fatalf("unable to drain a never started session: %v", err)
	}
	if _, ok := <-s.Completions(); ok {
		t.Fatalf("the completion channel must be closed after drain")
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("unable to close: %v", err)
	}
}
