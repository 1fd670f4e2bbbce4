package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/xaionaro-go/ffrecord/pkg/config"
	"github.com/xaionaro-go/ffrecord/pkg/ffrecord"
	"github.com/xaionaro-go/ffrecord/pkg/ffrecord/types"
	"github.com/xaionaro-go/ffrecord/pkg/libav"
	"github.com/xaionaro-go/ffrecord/pkg/testsource"
)

const (
	defaultWidth   = 1280
	defaultHeight  = 720
	defaultBitRate = 8_000_000
	toneFrequency  = 440
)

func record(cmd *cobra.Command, args []string) {
	ctx, cancelFn := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancelFn()

	cfg, err := recordConfig(cmd, args)
	assertNoError(ctx, err)
	logger.Debugf(ctx, "config: %s", spew.Sdump(cfg))

	sentryDSN, err := cmd.Flags().GetString("sentry-dsn")
	assertNoError(ctx, err)
	if sentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              sentryDSN,
			AttachStacktrace: true,
		})
		assertNoError(ctx, err)
		defer sentry.Flush(2 * time.Second)
	}

	registry := prometheus.NewRegistry()
	metricsAddr, err := cmd.Flags().GetString("metrics-listen")
	assertNoError(ctx, err)
	if metricsAddr != "" {
		assertNoError(ctx, serveMetrics(ctx, metricsAddr, registry))
	}

	duration, err := cmd.Flags().GetDuration("duration")
	assertNoError(ctx, err)
	realTime, err := cmd.Flags().GetBool("real-time")
	assertNoError(ctx, err)

	events := ffrecord.NewEvents()
	defer ffrecord.Subscribe(events, func(ev ffrecord.PropertyWarningEvent) {
		logger.Warnf(ctx, "the encoder ignored %s=%v: %v", ev.Property, ev.Value, ev.Err)
	})()
	defer ffrecord.Subscribe(events, func(ev ffrecord.FrameDroppedEvent) {
		logger.Warnf(ctx, "dropped a %s frame at %v: %v", ev.Kind, ev.PTS, ev.Err)
	})()

	enc, err := ffrecord.Initialize(ctx, cfg,
		ffrecord.OptionEngineFactory{EngineFactory: libav.NewEngineFactory()},
		ffrecord.OptionMuxerFactory{MuxerFactory: libav.NewMuxerFactory()},
		ffrecord.OptionMetricsRegisterer{Registerer: registry},
		ffrecord.OptionEvents{Events: events},
	)
	if err != nil {
		reportFailure(ctx, sentryDSN, err)
	}
	assertNoError(ctx, err)

	feedErr := feed(ctx, enc, duration, realTime)
	if feedErr != nil {
		logger.Errorf(ctx, "stopped feeding the recording: %v", feedErr)
	}

	stopErr := enc.Stop(context.WithoutCancel(ctx))
	if stopErr != nil {
		reportFailure(ctx, sentryDSN, stopErr)
	}
	assertNoError(ctx, stopErr)

	stats := enc.Stats(ctx)
	if logger.FromCtx(ctx).Level() >= logger.LevelTrace {
		logger.Tracef(ctx, "stats: %s", spew.Sdump(stats))
	}
	printSummary(cmd, cfg, stats)
}

func reportFailure(ctx context.Context, sentryDSN string, err error) {
	if sentryDSN == "" {
		return
	}
	eventID := sentry.CaptureException(err)
	if eventID != nil {
		logger.Infof(ctx, "reported the failure to Sentry as %s", *eventID)
	}
	sentry.Flush(2 * time.Second)
}

func recordConfig(
	cmd *cobra.Command,
	args []string,
) (types.EncoderConfig, error) {
	flags := cmd.Flags()

	var p *config.Profile
	profilePath, err := flags.GetString("profile")
	if err != nil {
		return types.EncoderConfig{}, err
	}
	if profilePath != "" {
		p, err = config.LoadProfile(profilePath)
		if err != nil {
			return types.EncoderConfig{}, err
		}
	} else {
		p = &config.Profile{}
	}

	if codec, _ := flags.GetString("codec"); codec != "" {
		p.Video.Codec = codec
	}
	if encoder, _ := flags.GetString("encoder"); encoder != "" {
		p.Video.Encoder = encoder
	}
	if hwAccel, _ := flags.GetString("hwaccel"); hwAccel != "" {
		p.Video.HardwareDeviceType = hwAccel
	}
	if hwDevice, _ := flags.GetString("hwaccel-device"); hwDevice != "" {
		p.Video.HardwareDeviceName = hwDevice
	}
	if bitRate, _ := flags.GetString("bitrate"); bitRate != "" {
		p.RateControl = config.RateControl{Mode: "cbr", BitRate: bitRate}
	}
	if realTime, _ := flags.GetBool("real-time"); realTime {
		p.Output.RealTime = true
	}
	if len(args) > 0 {
		p.Output.Path = args[0]
		p.Output.Container = ""
	}
	if resolution, _ := flags.GetString("resolution"); resolution != "" {
		if _, err := fmt.Sscanf(resolution, "%dx%d", &p.Video.Width, &p.Video.Height); err != nil {
			return types.EncoderConfig{}, fmt.Errorf("unable to parse the resolution '%s': %w", resolution, err)
		}
	}
	if p.Video.Width == 0 || p.Video.Height == 0 {
		p.Video.Width, p.Video.Height = defaultWidth, defaultHeight
	}

	cfg, err := p.EncoderConfig()
	if err != nil {
		return types.EncoderConfig{}, err
	}
	if cfg.RateControl == nil && cfg.Codec != types.CodecProRes {
		cfg.RateControl = types.RateControlCBR{BitRate: defaultBitRate}
	}

	customOptions, err := flags.GetStringArray("encoder-option")
	if err != nil {
		return types.EncoderConfig{}, err
	}
	for _, s := range customOptions {
		item, err := types.ParseDictionaryItem(s)
		if err != nil {
			return types.EncoderConfig{}, err
		}
		cfg.EncoderOptions = append(cfg.EncoderOptions, item)
	}
	cfg.EncoderOptions = cfg.EncoderOptions.Deduplicate()

	if cfg.Audio != nil && cfg.Audio.Codec != types.AudioCodecPCMS16LE {
		logger.Warnf(cmd.Context(), "only %s audio can be synthesized, recording without %s audio", types.AudioCodecPCMS16LE, cfg.Audio.Codec)
		cfg.Audio = nil
	}

	if err := cfg.Validate(); err != nil {
		return types.EncoderConfig{}, err
	}
	return cfg, nil
}

// feed submits the test pattern, and a tone if the recording has audio,
// until the duration elapses, the context is cancelled or the recording fails.
func feed(
	ctx context.Context,
	enc *ffrecord.Encoder,
	duration time.Duration,
	realTime bool,
) error {
	cfg := enc.EncoderConfig
	video, err := testsource.NewVideo(cfg.SourcePixelFormat, cfg.Width, cfg.Height, cfg.FrameRate)
	if err != nil {
		return err
	}
	var tone *testsource.Tone
	if cfg.Audio != nil {
		tone, err = testsource.NewTone(cfg.Audio.SampleRate, cfg.Audio.Channels, toneFrequency)
		if err != nil {
			return err
		}
	}

	frameDuration := cfg.FrameRate.FrameDuration()
	var ticker *time.Ticker
	if realTime {
		ticker = time.NewTicker(frameDuration)
		defer ticker.Stop()
	}

	for idx := 0; ; idx++ {
		pts := time.Duration(idx) * frameDuration
		if pts >= duration {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-enc.Failed():
			return enc.Err()
		default:
		}

		if tone != nil {
			sample := types.NewAudioSample(pts, frameDuration, tone.Buffer(pts, frameDuration))
			if err := enc.SubmitAudioBuffer(ctx, sample); err != nil {
				return fmt.Errorf("unable to submit the audio at %v: %w", pts, err)
			}
		}
		if err := enc.SubmitVideoFrame(ctx, video.Frame(idx), pts, frameDuration, types.FrameProperties{}); err != nil {
			return fmt.Errorf("unable to submit the video frame #%d: %w", idx, err)
		}

		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
}

func printSummary(
	cmd *cobra.Command,
	cfg types.EncoderConfig,
	stats ffrecord.Stats,
) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s: %d frames submitted, %d failed\n", cfg.Path, stats.FramesSubmitted, stats.FramesFailed)
	for _, kind := range []types.TrackKind{types.TrackKindVideo, types.TrackKindAudio} {
		t, ok := stats.Tracks[kind]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "  %s: %s samples, %s, up to %v\n",
			kind, humanize.Comma(int64(t.Samples)), humanize.Bytes(t.Bytes), t.LastDTS,
		)
	}
	if fi, err := os.Stat(cfg.Path); err == nil {
		fmt.Fprintf(w, "  file size: %s\n", humanize.IBytes(uint64(fi.Size())))
	}
}
