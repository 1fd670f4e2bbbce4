// Package config reads recording profiles (TOML or YAML) into an
// EncoderConfig.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml/v2"
	audio "github.com/xaionaro-go/audio/pkg/audio/types"
	"github.com/xaionaro-go/ffrecord/pkg/ffrecord/types"
	"gopkg.in/yaml.v3"
)

type Profile struct {
	Video          Video             `toml:"video" yaml:"video"`
	RateControl    RateControl       `toml:"rate_control" yaml:"rate_control"`
	KeyFrames      KeyFrames         `toml:"keyframes" yaml:"keyframes"`
	Color          Color             `toml:"color" yaml:"color"`
	Output         Output            `toml:"output" yaml:"output"`
	Audio          *Audio            `toml:"audio" yaml:"audio"`
	EncoderOptions map[string]string `toml:"encoder_options" yaml:"encoder_options"`
}

type Video struct {
	SourcePixelFormat    string `toml:"source_pixel_format" yaml:"source_pixel_format"`
	Width                uint32 `toml:"width" yaml:"width"`
	Height               uint32 `toml:"height" yaml:"height"`
	FrameRate            string `toml:"frame_rate" yaml:"frame_rate"`
	Codec                string `toml:"codec" yaml:"codec"`
	Encoder              string `toml:"encoder" yaml:"encoder"`
	HardwareDeviceType   string `toml:"hardware_device_type" yaml:"hardware_device_type"`
	HardwareDeviceName   string `toml:"hardware_device_name" yaml:"hardware_device_name"`
	ProResProfile        string `toml:"prores_profile" yaml:"prores_profile"`
	BitDepth             uint8  `toml:"bit_depth" yaml:"bit_depth"`
	AllowFrameReordering bool   `toml:"allow_frame_reordering" yaml:"allow_frame_reordering"`
}

type RateControl struct {
	// Mode is one of "cbr", "abr", "crf"; empty is allowed only for ProRes.
	Mode                string  `toml:"mode" yaml:"mode"`
	BitRate             string  `toml:"bit_rate" yaml:"bit_rate"`
	Quality             float64 `toml:"quality" yaml:"quality"`
	DataRateLimitBytes  string  `toml:"data_rate_limit_bytes" yaml:"data_rate_limit_bytes"`
	DataRateLimitWindow string  `toml:"data_rate_limit_window" yaml:"data_rate_limit_window"`
}

type KeyFrames struct {
	MaxInterval         uint32 `toml:"max_interval" yaml:"max_interval"`
	MaxIntervalDuration string `toml:"max_interval_duration" yaml:"max_interval_duration"`
}

type Color struct {
	Primaries      string  `toml:"primaries" yaml:"primaries"`
	Transfer       string  `toml:"transfer" yaml:"transfer"`
	Gamma          float64 `toml:"gamma" yaml:"gamma"`
	Matrix         string  `toml:"matrix" yaml:"matrix"`
	ICCProfilePath string  `toml:"icc_profile_path" yaml:"icc_profile_path"`
}

type Output struct {
	Path      string `toml:"path" yaml:"path"`
	Container string `toml:"container" yaml:"container"`
	RealTime  bool   `toml:"real_time" yaml:"real_time"`
}

type Audio struct {
	Codec      string `toml:"codec" yaml:"codec"`
	SampleRate uint32 `toml:"sample_rate" yaml:"sample_rate"`
	Channels   uint8  `toml:"channels" yaml:"channels"`
}

type Format int

const (
	FormatTOML = Format(iota)
	FormatYAML
)

func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatTOML
}

// Parse decodes a profile without validating it.
func Parse(data []byte, format Format) (*Profile, error) {
	var p Profile
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("unable to parse the YAML profile: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("unable to parse the TOML profile: %w", err)
		}
	}
	return &p, nil
}

// LoadProfile reads the profile at path without validating it.
// A relative ICC profile path is resolved against the profile directory.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read the profile '%s': %w", path, err)
	}
	p, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, err
	}
	if p.Color.ICCProfilePath != "" && !filepath.IsAbs(p.Color.ICCProfilePath) {
		p.Color.ICCProfilePath = filepath.Join(filepath.Dir(path), p.Color.ICCProfilePath)
	}
	return p, nil
}

// Load reads the profile at path and returns a validated configuration.
func Load(path string) (types.EncoderConfig, error) {
	p, err := LoadProfile(path)
	if err != nil {
		return types.EncoderConfig{}, err
	}
	cfg, err := p.EncoderConfig()
	if err != nil {
		return types.EncoderConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return types.EncoderConfig{}, err
	}
	return cfg, nil
}

func parseFrameRate(s string) (types.Rational, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.Rational{Num: 30, Den: 1}, nil
	}
	num, den, found := strings.Cut(s, "/")
	if !found {
		f, err := strconv.ParseFloat(num, 64)
		if err != nil || f <= 0 {
			return types.Rational{}, fmt.Errorf("invalid frame rate %q", s)
		}
		if f == float64(int(f)) {
			return types.Rational{Num: int(f), Den: 1}, nil
		}
		return types.Rational{Num: int(f * 1000), Den: 1000}, nil
	}
	n, errN := strconv.Atoi(num)
	d, errD := strconv.Atoi(den)
	if errN != nil || errD != nil || n <= 0 || d <= 0 {
		return types.Rational{}, fmt.Errorf("invalid frame rate %q", s)
	}
	return types.Rational{Num: n, Den: d}, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// parseSize accepts plain numbers and SI/IEC suffixes ("8M", "1.5 MiB").
func parseSize(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return humanize.ParseBytes(s)
}

// EncoderConfig converts the profile. Unset fields get the defaults of
// a typical screen recording: nv12 source, 30 fps, H.264, 8-bit, MP4.
func (p *Profile) EncoderConfig() (types.EncoderConfig, error) {
	var (
		cfg types.EncoderConfig
		err error
	)

	pixFmt := p.Video.SourcePixelFormat
	if pixFmt == "" {
		pixFmt = types.PixelFormatNV12.String()
	}
	if cfg.SourcePixelFormat, err = types.ParsePixelFormat(pixFmt); err != nil {
		return cfg, err
	}
	cfg.Width, cfg.Height = p.Video.Width, p.Video.Height
	if cfg.FrameRate, err = parseFrameRate(p.Video.FrameRate); err != nil {
		return cfg, err
	}

	codec := p.Video.Codec
	if codec == "" {
		codec = types.CodecH264.String()
	}
	if cfg.Codec, err = types.ParseCodec(codec); err != nil {
		return cfg, err
	}
	cfg.EncoderName = p.Video.Encoder
	if cfg.HardwareDeviceType, err = types.ParseHardwareDeviceType(p.Video.HardwareDeviceType); err != nil {
		return cfg, err
	}
	cfg.HardwareDeviceName = types.HardwareDeviceName(p.Video.HardwareDeviceName)
	if cfg.ProResProfile, err = types.ParseProResProfile(p.Video.ProResProfile); err != nil {
		return cfg, err
	}
	cfg.BitDepth = p.Video.BitDepth
	if cfg.BitDepth == 0 {
		cfg.BitDepth = 8
	}
	cfg.AllowFrameReordering = p.Video.AllowFrameReordering

	bitRate, err := parseSize(p.RateControl.BitRate)
	if err != nil {
		return cfg, fmt.Errorf("invalid bit rate %q: %w", p.RateControl.BitRate, err)
	}
	switch strings.ToLower(p.RateControl.Mode) {
	case "":
	case "cbr":
		cfg.RateControl = types.RateControlCBR{BitRate: bitRate}
	case "abr", "vbr":
		limitBytes, err := parseSize(p.RateControl.DataRateLimitBytes)
		if err != nil {
			return cfg, fmt.Errorf("invalid data rate limit %q: %w", p.RateControl.DataRateLimitBytes, err)
		}
		limitWindow, err := parseDuration(p.RateControl.DataRateLimitWindow)
		if err != nil {
			return cfg, fmt.Errorf("invalid data rate limit window: %w", err)
		}
		cfg.RateControl = types.RateControlABR{
			BitRate:             bitRate,
			DataRateLimitBytes:  limitBytes,
			DataRateLimitWindow: limitWindow,
		}
	case "crf", "quality":
		cfg.RateControl = types.RateControlCRF{Quality: p.RateControl.Quality}
	default:
		return cfg, fmt.Errorf("unknown rate control mode %q", p.RateControl.Mode)
	}

	cfg.MaxKeyFrameInterval = p.KeyFrames.MaxInterval
	if cfg.MaxKeyFrameIntervalDuration, err = parseDuration(p.KeyFrames.MaxIntervalDuration); err != nil {
		return cfg, fmt.Errorf("invalid max keyframe interval duration: %w", err)
	}

	if p.Color.Primaries != "" {
		if cfg.ColorPrimaries, err = types.ParseColorPrimaries(p.Color.Primaries); err != nil {
			return cfg, err
		}
	}
	if p.Color.Transfer != "" {
		if cfg.TransferFunction, err = types.ParseTransferFunction(p.Color.Transfer); err != nil {
			return cfg, err
		}
	}
	cfg.Gamma = p.Color.Gamma
	if p.Color.Matrix != "" {
		if cfg.YCbCrMatrix, err = types.ParseYCbCrMatrix(p.Color.Matrix); err != nil {
			return cfg, err
		}
	}
	if p.Color.ICCProfilePath != "" {
		if cfg.ICCProfile, err = os.ReadFile(p.Color.ICCProfilePath); err != nil {
			return cfg, fmt.Errorf("unable to read the ICC profile: %w", err)
		}
	}

	cfg.Path = p.Output.Path
	cfg.RealTime = p.Output.RealTime
	switch {
	case p.Output.Container != "":
		if cfg.Container, err = types.ParseContainer(p.Output.Container); err != nil {
			return cfg, err
		}
	case cfg.Path != "":
		if cfg.Container, err = types.ContainerFromPath(cfg.Path); err != nil {
			return cfg, err
		}
	}

	if a := p.Audio; a != nil {
		audioCodec, err := types.ParseAudioCodec(a.Codec)
		if err != nil {
			return cfg, err
		}
		cfg.Audio = &types.AudioFormat{
			Codec:      audioCodec,
			SampleRate: audio.SampleRate(a.SampleRate),
			Channels:   a.Channels,
		}
	}

	keys := make([]string, 0, len(p.EncoderOptions))
	for k := range p.EncoderOptions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cfg.EncoderOptions = append(cfg.EncoderOptions, types.DictionaryItem{Key: k, Value: p.EncoderOptions[k]})
	}
	return cfg, nil
}
