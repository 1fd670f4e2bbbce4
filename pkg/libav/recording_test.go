package libav

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/ffrecord/pkg/compressor"
	"github.com/xaionaro-go/ffrecord/pkg/container"
	"github.com/xaionaro-go/ffrecord/pkg/ffrecord/types"
	"github.com/xaionaro-go/ffrecord/pkg/testsource"
)

func testRecordingConfig(t *testing.T, codec types.Codec, encoderName string) types.EncoderConfig {
	if _, _, err := FindEncoder(codec, encoderName); err != nil {
		t.Skipf("no encoder available: %v", err)
	}
	return types.EncoderConfig{
		SourcePixelFormat:   types.PixelFormatNV12,
		Width:               320,
		Height:              240,
		FrameRate:           types.Rational{Num: 30, Den: 1},
		Codec:               codec,
		EncoderName:         encoderName,
		RateControl:         types.RateControlCBR{BitRate: 1_000_000},
		MaxKeyFrameInterval: 30,
		ColorPrimaries:      types.ColorPrimariesBT709,
		TransferFunction:    types.TransferFunctionBT709,
		YCbCrMatrix:         types.YCbCrMatrixBT709,
		BitDepth:            8,
		Path:                filepath.Join(t.TempDir(), "out.mp4"),
		Container:           types.ContainerMP4,
	}
}

func record(
	t *testing.T,
	cfg types.EncoderConfig,
	frameCount int,
) (compressor.ConfigureReport, *ProbeResult) {
	ctx := context.Background()
	InstallLogCallback(ctx, logger.LevelWarning)

	sess, err := compressor.Create(ctx, NewEngineFactory(), cfg)
	if err != nil {
		t.Fatalf("unable to create a session: %v", err)
	}
	report, err := sess.Configure(ctx)
	if err != nil {
		t.Fatalf("unable to configure: %v", err)
	}
	if err := sess.Start(ctx); err != nil {
		t.Fatalf("unable to start: %v", err)
	}

	w, err := container.Open(ctx, NewMuxerFactory(), container.Params{
		Path:      cfg.Path,
		Container: cfg.Container,
		Video:     cfg.VideoFormatHint(),
	})
	if err != nil {
		t.Fatalf("unable to open the writer: %v", err)
	}

	consumerErr := make(chan error, 1)
	go func() {
		var firstErr error
		for c := range sess.Completions() {
			err := c.Err
			if err == nil {
				err = w.AppendVideo(ctx, c.Sample)
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		consumerErr <- firstErr
	}()

	src, err := testsource.NewVideo(cfg.SourcePixelFormat, cfg.Width, cfg.Height, cfg.FrameRate)
	if err != nil {
		t.Fatalf("unable to create the source: %v", err)
	}
	frameDuration := cfg.FrameRate.FrameDuration()
	for idx := 0; idx < frameCount; idx++ {
		pts := time.Duration(idx) * frameDuration
		if err := sess.Encode(ctx, src.Frame(idx), pts, frameDuration, types.FrameProperties{}); err != nil {
			t.Fatalf("unable to encode frame #%d: %v", idx, err)
		}
	}
	if err := sess.Close(ctx); err != nil {
		t.Fatalf("unable to close the session: %v", err)
	}
	if err := <-consumerErr; err != nil {
		t.Fatalf("unable to process a completion: %v", err)
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("unable to close the writer: %v", err)
	}

	probe, err := Probe(ctx, cfg.Path)
	if err != nil {
		t.Fatalf("unable to probe the result: %v", err)
	}
	return report, probe
}

func TestRecordH264(t *testing.T) {
	cfg := testRecordingConfig(t, types.CodecH264, "")
	_, probe := record(t, cfg, 90)

	if len(probe.Tracks) != 1 {
		t.Fatalf("expected a single track, got %d", len(probe.Tracks))
	}
	video := probe.Track(types.TrackKindVideo)
	if video == nil || video.CodecName != "h264" {
		t.Fatalf("expected an h264 video track, got %#+v", probe.Tracks)
	}
	if video.Width != 320 || video.Height != 240 {
		t.Fatalf("unexpected resolution %dx%d", video.Width, video.Height)
	}
	if video.Packets != 90 {
		t.Fatalf("expected 90 packets, got %d", video.Packets)
	}
	if len(video.KeyFrames) == 0 || video.KeyFrames[0] != 0 {
		t.Fatalf("the first packet is not a key frame: %v", video.KeyFrames)
	}
	for idx := 1; idx < len(video.KeyFrames); idx++ {
		if video.KeyFrames[idx]-video.KeyFrames[idx-1] > 30 {
			t.Fatalf("key frame interval exceeds 30: %v", video.KeyFrames)
		}
	}
	if video.KeyFrames[len(video.KeyFrames)-1] < 60 {
		t.Fatalf("expected a key frame near the end: %v", video.KeyFrames)
	}
	if d := probe.Duration; d < 2900*time.Millisecond || d > 3100*time.Millisecond {
		t.Fatalf("unexpected duration %v", d)
	}
	if video.ColorPrimaries != types.ColorPrimariesBT709 || video.YCbCrMatrix != types.YCbCrMatrixBT709 {
		t.Fatalf("color tags are not preserved: %v %v", video.ColorPrimaries, video.YCbCrMatrix)
	}
}

func TestRecordICCProfile(t *testing.T) {
	cfg := testRecordingConfig(t, types.CodecH264, "libx264")
	cfg.Path = filepath.Join(t.TempDir(), "out.mov")
	cfg.Container = types.ContainerMOV
	cfg.ICCProfile = testsource.ICCProfile(3)
	report, recorded := record(t, cfg, 10)

	for _, w := range report.Warnings {
		if w.Property == compressor.PropertyICCProfile {
			t.Fatalf("unexpected ICC profile warning: %v", w)
		}
	}
	video := recorded.Track(types.TrackKindVideo)
	if video == nil || !bytes.Equal(video.ICCProfile, cfg.ICCProfile) {
		t.Fatalf("the ICC profile is not stored in the file")
	}
}

func TestRecordInvalidICCProfileIsAWarning(t *testing.T) {
	cfg := testRecordingConfig(t, types.CodecH264, "libx264")
	cfg.ICCProfile = []byte("not really an ICC profile")
	report, recorded := record(t, cfg, 10)

	var found bool
	for _, w := range report.Warnings {
		if w.Property == compressor.PropertyICCProfile && errors.Is(w, compressor.ErrPropertyUnsupported) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an ICC profile warning, got %v", report.Warnings)
	}
	if video := recorded.Track(types.TrackKindVideo); video == nil || video.Packets != 10 {
		t.Fatalf("expected a valid file with 10 packets, got %#+v", recorded.Tracks)
	}
}

func TestUnknownCustomOptionIsAWarning(t *testing.T) {
	cfg := testRecordingConfig(t, types.CodecH264, "libx264")
	cfg.EncoderOptions = types.DictionaryItems{{Key: "definitely_not_an_option", Value: "1"}}
	report, _ := record(t, cfg, 5)

	for _, w := range report.Warnings {
		if w.Property == compressor.PropertyCustomOption {
			return
		}
	}
	t.Fatalf("expected a custom option warning, got %v", report.Warnings)
}

func TestRecordVAAPI(t *testing.T) {
	cfg := testRecordingConfig(t, types.CodecH264, "h264_vaapi")
	device, err := astiav.CreateHardwareDeviceContext(astiav.HardwareDeviceTypeVAAPI, "", nil, 0)
	if err != nil {
		t.Skipf("no VAAPI device: %v", err)
	}
	device.Free()

	cfg.SourcePixelFormat = types.PixelFormatBGRA
	_, recorded := record(t, cfg, 30)
	video := recorded.Track(types.TrackKindVideo)
	if video == nil || video.CodecName != "h264" || video.Packets != 30 {
		t.Fatalf("unexpected result %#+v", recorded.Tracks)
	}
}
