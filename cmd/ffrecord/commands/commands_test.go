package commands

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/xaionaro-go/ffrecord/pkg/ffrecord/types"
)

func newRecordCommand(t *testing.T, flags map[string]string) *cobra.Command {
	cmd := &cobra.Command{Use: "record"}
	cmd.SetContext(context.Background())
	addRecordFlags(cmd.Flags())
	for k, v := range flags {
		if err := cmd.Flags().Set(k, v); err != nil {
			t.Fatalf("unable to set --%s=%s: %v", k, v, err)
		}
	}
	return cmd
}

func TestRecordConfigDefaults(t *testing.T) {
	cmd := newRecordCommand(t, nil)
	cfg, err := recordConfig(cmd, []string{"out.mp4"})
	if err != nil {
		t.Fatalf("unable to build the config: %v", err)
	}
	if cfg.Width != defaultWidth || cfg.Height != defaultHeight {
		t.Fatalf("unexpected resolution %dx%d", cfg.Width, cfg.Height)
	}
	cbr, ok := cfg.RateControl.(types.RateControlCBR)
	if !ok || cbr.BitRate != defaultBitRate {
		t.Fatalf("unexpected rate control %v", cfg.RateControl)
	}
	if cfg.Container != types.ContainerMP4 || cfg.Codec != types.CodecH264 {
		t.Fatalf("unexpected output %s/%s", cfg.Container, cfg.Codec)
	}
}

func TestRecordConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	profilePath := filepath.Join(dir, "profile.yaml")
	profile := `
video:
  width: 640
  height: 480
rate_control:
  mode: crf
  quality: 0.7
audio:
  codec: aac
  sample_rate: 48000
  channels: 2
output:
  path: ignored.mp4
`
	if err := os.WriteFile(profilePath, []byte(profile), 0o644); err != nil {
		t.Fatalf("unable to write the profile: %v", err)
	}

	cmd := newRecordCommand(t, map[string]string{
		"profile":        profilePath,
		"codec":          "hevc",
		"bitrate":        "2.5M",
		"resolution":     "1920x1080",
		"encoder-option": "tag=hvc1",
		"hwaccel":        "vaapi",
		"hwaccel-device": "/dev/dri/renderD129",
	})
	if err := cmd.Flags().Set("encoder-option", "tag=hev1"); err != nil {
		t.Fatalf("unable to add an encoder option: %v", err)
	}

	cfg, err := recordConfig(cmd, []string{filepath.Join(dir, "out.mov")})
	if err != nil {
		t.Fatalf("unable to build the config: %v", err)
	}
	if cfg.Codec != types.CodecHEVC || cfg.Width != 1920 || cfg.Height != 1080 {
		t.Fatalf("overrides are not applied: %s %dx%d", cfg.Codec, cfg.Width, cfg.Height)
	}
	if cbr, ok := cfg.RateControl.(types.RateControlCBR); !ok || cbr.BitRate != 2_500_000 {
		t.Fatalf("unexpected rate control %v", cfg.RateControl)
	}
	if cfg.Container != types.ContainerMOV {
		t.Fatalf("the output argument must win over the profile, got %s", cfg.Container)
	}
	if v, ok := cfg.EncoderOptions.Get("tag"); !ok || v != "hev1" || len(cfg.EncoderOptions) != 1 {
		t.Fatalf("unexpected encoder options %v", cfg.EncoderOptions)
	}
	if cfg.Audio != nil {
		t.Fatalf("audio that cannot be synthesized must be dropped, got %#+v", cfg.Audio)
	}
	if cfg.HardwareDeviceType != types.HardwareDeviceTypeVAAPI || cfg.HardwareDeviceName != "/dev/dri/renderD129" {
		t.Fatalf("unexpected hardware device %s '%s'", cfg.HardwareDeviceType, cfg.HardwareDeviceName)
	}
}

func TestRecordConfigErrors(t *testing.T) {
	for name, flags := range map[string]map[string]string{
		"resolution": {"resolution": "wide"},
		"option":     {"encoder-option": "novalue"},
		"codec":      {"codec": "vp9"},
		"hwaccel":    {"hwaccel": "gpu"},
		"profile":    {"profile": "/nonexistent/profile.toml"},
	} {
		cmd := newRecordCommand(t, flags)
		if _, err := recordConfig(cmd, []string{"out.mp4"}); err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}
}

func TestGetListener(t *testing.T) {
	ctx := context.Background()

	l, err := getListener(ctx, "tcp:127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to listen on TCP: %v", err)
	}
	if _, ok := l.(*net.TCPListener); !ok {
		t.Fatalf("expected a TCP listener, got %T", l)
	}
	l.Close()

	sockPath := filepath.Join(t.TempDir(), "metrics.sock")
	l, err = getListener(ctx, sockPath)
	if err != nil {
		t.Fatalf("unable to listen on a UNIX socket: %v", err)
	}
	if _, ok := l.(*net.UnixListener); !ok {
		t.Fatalf("expected a UNIX listener, got %T", l)
	}
	l.Close()

	if _, err := getListener(ctx, "udp:127.0.0.1:0"); err == nil {
		t.Fatalf("expected an error for a datagram protocol")
	}
}
