package types

import (
	"errors"
	"fmt"
	"math"
	"time"

	audio "github.com/xaionaro-go/audio/pkg/audio/types"
)

var ErrInvalidConfig = errors.New("invalid encoder configuration")

// RateControl is one of RateControlCBR, RateControlABR or RateControlCRF.
type RateControl interface {
	fmt.Stringer
	isRateControl()
}

type RateControlCBR struct {
	BitRate uint64
}

func (RateControlCBR) isRateControl() {}

func (rc RateControlCBR) String() string {
	return fmt.Sprintf("CBR(%d bps)", rc.BitRate)
}

type RateControlABR struct {
	BitRate uint64

	// DataRateLimitBytes and DataRateLimitWindow cap the amount of bytes
	// produced within a sliding window. Zeros mean 1.5x of BitRate per second.
	DataRateLimitBytes  uint64
	DataRateLimitWindow time.Duration
}

func (RateControlABR) isRateControl() {}

func (rc RateControlABR) String() string {
	bytes, window := rc.DataRateLimit()
	return fmt.Sprintf("ABR(%d bps, limit %d bytes per %v)", rc.BitRate, bytes, window)
}

func (rc RateControlABR) DataRateLimit() (uint64, time.Duration) {
	bytes, window := rc.DataRateLimitBytes, rc.DataRateLimitWindow
	if bytes == 0 {
		bytes = rc.BitRate / 8 * 3 / 2
	}
	if window <= 0 {
		window = time.Second
	}
	return bytes, window
}

type RateControlCRF struct {
	// Quality is within [0.0, 1.0], where 1.0 is the best quality.
	Quality float64
}

func (RateControlCRF) isRateControl() {}

func (rc RateControlCRF) String() string {
	return fmt.Sprintf("CRF(%.2f)", rc.Quality)
}

type Rational struct {
	Num int
	Den int
}

func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// FrameDuration returns the duration of a single frame if r is a frame rate.
func (r Rational) FrameDuration() time.Duration {
	if r.Num <= 0 || r.Den <= 0 {
		return 0
	}
	return time.Duration(int64(time.Second) * int64(r.Den) / int64(r.Num))
}

// MaxAudioChannels is the largest channel count with a standard layout
// (7.1).
const MaxAudioChannels = 8

type AudioFormat struct {
	Codec      AudioCodec
	SampleRate audio.SampleRate
	Channels   uint8
	ExtraData  []byte
}

// EncoderConfig is a complete description of a single recording. It is
// constructed once before the pipeline starts and never changes afterwards.
type EncoderConfig struct {
	SourcePixelFormat PixelFormat
	Width             uint32
	Height            uint32
	FrameRate         Rational

	Codec Codec
	// EncoderName is a libav encoder name (e.g. "hevc_videotoolbox").
	// Empty means: pick the first available encoder for Codec.
	EncoderName string
	// HardwareDeviceType selects the device the frames are uploaded to.
	// None means the encoder default: VAAPI encoders open the default VAAPI
	// device, the others are fed from the system memory.
	HardwareDeviceType HardwareDeviceType
	HardwareDeviceName HardwareDeviceName
	ProResProfile      ProResProfile
	RateControl        RateControl

	AllowFrameReordering        bool
	MaxKeyFrameInterval         uint32
	MaxKeyFrameIntervalDuration time.Duration

	ColorPrimaries   ColorPrimaries
	TransferFunction TransferFunction
	// Gamma is used only if TransferFunction is TransferFunctionUseGamma.
	Gamma       float64
	YCbCrMatrix YCbCrMatrix
	BitDepth    uint8
	// ICCProfile is the raw ICC profile of the captured display, if any.
	ICCProfile []byte

	Path      string
	Container Container
	RealTime  bool

	// Audio is nil if the recording has no audio track.
	Audio *AudioFormat

	EncoderOptions DictionaryItems
}

func (cfg EncoderConfig) Validate() error {
	var errs []error
	if cfg.Width == 0 || cfg.Height == 0 {
		errs = append(errs, fmt.Errorf("resolution must be positive, got %dx%d", cfg.Width, cfg.Height))
	}
	if cfg.SourcePixelFormat <= PixelFormatUndefined || cfg.SourcePixelFormat >= EndOfPixelFormat {
		errs = append(errs, fmt.Errorf("unknown source pixel format %s", cfg.SourcePixelFormat))
	}
	if cfg.FrameRate.Num <= 0 || cfg.FrameRate.Den <= 0 {
		errs = append(errs, fmt.Errorf("frame rate must be positive, got %s", cfg.FrameRate))
	}
	if cfg.Codec <= CodecUndefined || cfg.Codec >= EndOfCodec {
		errs = append(errs, fmt.Errorf("unknown codec %s", cfg.Codec))
	}
	if cfg.HardwareDeviceType < HardwareDeviceTypeNone || cfg.HardwareDeviceType >= EndOfHardwareDeviceType {
		errs = append(errs, fmt.Errorf("unknown hardware device type %s", cfg.HardwareDeviceType))
	}
	if cfg.ProResProfile < ProResProfileAuto || cfg.ProResProfile >= EndOfProResProfile {
		errs = append(errs, fmt.Errorf("unknown ProRes profile %s", cfg.ProResProfile))
	}
	switch rc := cfg.RateControl.(type) {
	case nil:
		if cfg.Codec != CodecProRes {
			errs = append(errs, fmt.Errorf("exactly one rate control mode must be set"))
		}
	case RateControlCBR:
		if rc.BitRate == 0 {
			errs = append(errs, fmt.Errorf("CBR bit rate must be positive"))
		}
	case RateControlABR:
		if rc.BitRate == 0 {
			errs = append(errs, fmt.Errorf("ABR bit rate must be positive"))
		}
		if rc.DataRateLimitWindow < 0 {
			errs = append(errs, fmt.Errorf("ABR data rate limit window must not be negative"))
		}
	case RateControlCRF:
		if math.IsNaN(rc.Quality) || rc.Quality < 0 || rc.Quality > 1 {
			errs = append(errs, fmt.Errorf("CRF quality must be within [0, 1], got %v", rc.Quality))
		}
		if cfg.Codec == CodecProRes {
			// ProRes ignores rate control; accepted as is.
			break
		}
		if !cfg.Codec.SupportsQuality() {
			errs = append(errs, fmt.Errorf("CRF is not supported for codec %s", cfg.Codec))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown rate control %T", rc))
	}
	if cfg.MaxKeyFrameIntervalDuration < 0 {
		errs = append(errs, fmt.Errorf("max keyframe interval duration must not be negative"))
	}
	if cfg.TransferFunction == TransferFunctionUseGamma && !(cfg.Gamma > 0) {
		errs = append(errs, fmt.Errorf("gamma must be positive when the transfer function is %s", cfg.TransferFunction))
	}
	switch cfg.BitDepth {
	case 8, 10:
	default:
		errs = append(errs, fmt.Errorf("bit depth must be 8 or 10, got %d", cfg.BitDepth))
	}
	if cfg.Path == "" {
		errs = append(errs, fmt.Errorf("output path is not set"))
	}
	if cfg.Container <= ContainerUndefined || cfg.Container >= EndOfContainer {
		errs = append(errs, fmt.Errorf("unsupported container %s", cfg.Container))
	}
	if a := cfg.Audio; a != nil {
		if a.Channels > MaxAudioChannels {
			errs = append(errs, fmt.Errorf("at most %d audio channels are supported, got %d", MaxAudioChannels, a.Channels))
		}
		if a.Codec <= AudioCodecUndefined || a.Codec >= EndOfAudioCodec {
			errs = append(errs, fmt.Errorf("unknown audio codec %s", a.Codec))
		}
		if a.SampleRate == 0 {
			errs = append(errs, fmt.Errorf("audio sample rate must be positive"))
		}
		if a.Channels == 0 {
			errs = append(errs, fmt.Errorf("audio channel count must be positive"))
		}
		if a.Codec.IsPCM() && cfg.Container != ContainerMOV {
			errs = append(errs, fmt.Errorf("audio codec %s is supported only in %s", a.Codec, ContainerMOV))
		}
	}
	for idx, opt := range cfg.EncoderOptions {
		if opt.Key == "" {
			errs = append(errs, fmt.Errorf("encoder option #%d has an empty key", idx))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// Clone returns a deep copy, so the caller may not worry about aliased slices.
func (cfg EncoderConfig) Clone() EncoderConfig {
	cfg.ICCProfile = cloneBytes(cfg.ICCProfile)
	cfg.EncoderOptions = append(DictionaryItems(nil), cfg.EncoderOptions...)
	if cfg.Audio != nil {
		a := *cfg.Audio
		a.ExtraData = cloneBytes(a.ExtraData)
		cfg.Audio = &a
	}
	return cfg
}

// VideoFormatHint returns the video track format as much as it could be
// derived from the configuration (no codec extradata yet).
func (cfg EncoderConfig) VideoFormatHint() *TrackFormat {
	return &TrackFormat{
		Kind:             TrackKindVideo,
		CodecName:        cfg.Codec.String(),
		Width:            cfg.Width,
		Height:           cfg.Height,
		FrameRate:        cfg.FrameRate,
		ColorPrimaries:   cfg.ColorPrimaries,
		TransferFunction: cfg.TransferFunction,
		YCbCrMatrix:      cfg.YCbCrMatrix,
	}
}

// AudioFormatHint returns nil if the recording has no audio.
func (cfg EncoderConfig) AudioFormatHint() *TrackFormat {
	if cfg.Audio == nil {
		return nil
	}
	return &TrackFormat{
		Kind:       TrackKindAudio,
		CodecName:  cfg.Audio.Codec.String(),
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		ExtraData:  cloneBytes(cfg.Audio.ExtraData),
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
