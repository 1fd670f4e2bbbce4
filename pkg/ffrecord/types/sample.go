package types

import (
	"fmt"
	"time"

	audio "github.com/xaionaro-go/audio/pkg/audio/types"
)

type TrackKind int

const (
	TrackKindUndefined = TrackKind(iota)
	TrackKindVideo
	TrackKindAudio
)

func (k TrackKind) String() string {
	switch k {
	case TrackKindUndefined:
		return "<undefined>"
	case TrackKindVideo:
		return "video"
	case TrackKindAudio:
		return "audio"
	}
	return fmt.Sprintf("<unknown_track_kind_%d>", int(k))
}

// TrackFormat describes a track of a container. Only the fields relevant
// to Kind are used.
type TrackFormat struct {
	Kind      TrackKind
	CodecName string
	ExtraData []byte
	BitRate   uint64

	Width            uint32
	Height           uint32
	PixelFormat      string
	FrameRate        Rational
	ColorPrimaries   ColorPrimaries
	TransferFunction TransferFunction
	YCbCrMatrix      YCbCrMatrix
	ICCProfile       []byte

	SampleRate audio.SampleRate
	Channels   uint8
}

// Merge returns a copy of f where every zero field is taken from fallback.
func (f *TrackFormat) Merge(fallback *TrackFormat) *TrackFormat {
	switch {
	case f == nil && fallback == nil:
		return nil
	case f == nil:
		c := *fallback
		return &c
	case fallback == nil:
		c := *f
		return &c
	}
	r := *f
	if r.Kind == TrackKindUndefined {
		r.Kind = fallback.Kind
	}
	if r.CodecName == "" {
		r.CodecName = fallback.CodecName
	}
	if r.ExtraData == nil {
		r.ExtraData = fallback.ExtraData
	}
	if r.BitRate == 0 {
		r.BitRate = fallback.BitRate
	}
	if r.Width == 0 {
		r.Width = fallback.Width
	}
	if r.Height == 0 {
		r.Height = fallback.Height
	}
	if r.PixelFormat == "" {
		r.PixelFormat = fallback.PixelFormat
	}
	if r.FrameRate == (Rational{}) {
		r.FrameRate = fallback.FrameRate
	}
	if r.ColorPrimaries == ColorPrimariesUnset {
		r.ColorPrimaries = fallback.ColorPrimaries
	}
	if r.TransferFunction == TransferFunctionUnset {
		r.TransferFunction = fallback.TransferFunction
	}
	if r.YCbCrMatrix == YCbCrMatrixUnset {
		r.YCbCrMatrix = fallback.YCbCrMatrix
	}
	if r.ICCProfile == nil {
		r.ICCProfile = fallback.ICCProfile
	}
	if r.SampleRate == 0 {
		r.SampleRate = fallback.SampleRate
	}
	if r.Channels == 0 {
		r.Channels = fallback.Channels
	}
	return &r
}

// Sample is a unit of compressed (or passthrough) media. Timestamps are
// relative to the start of the recording.
type Sample struct {
	Kind TrackKind
	PTS  time.Duration
	// DTS equals PTS unless the codec reorders frames.
	DTS      time.Duration
	Duration time.Duration
	Data     []byte
	KeyFrame bool

	// Format is set on the first sample of a track, when the producer
	// knows the final format (e.g. codec extradata after the engine is opened).
	Format *TrackFormat
}

func NewAudioSample(pts, duration time.Duration, data []byte) *Sample {
	return &Sample{
		Kind:     TrackKindAudio,
		PTS:      pts,
		DTS:      pts,
		Duration: duration,
		Data:     data,
		KeyFrame: true,
	}
}

func (s *Sample) String() string {
	if s == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s{pts:%v dts:%v dur:%v size:%d key:%t}", s.Kind, s.PTS, s.DTS, s.Duration, len(s.Data), s.KeyFrame)
}

// VideoFrame is a raw frame in a tightly packed layout (planes follow each other
// without padding).
type VideoFrame struct {
	PixelFormat PixelFormat
	Width       uint32
	Height      uint32
	Data        []byte
}

func (f *VideoFrame) Validate() error {
	if f == nil {
		return fmt.Errorf("frame is nil")
	}
	if f.Width == 0 || f.Height == 0 {
		return fmt.Errorf("invalid frame resolution %dx%d", f.Width, f.Height)
	}
	expected := f.PixelFormat.FrameSize(f.Width, f.Height)
	if expected == 0 {
		return fmt.Errorf("unsupported pixel format %s", f.PixelFormat)
	}
	if len(f.Data) < expected {
		return fmt.Errorf("frame %dx%d %s requires %d bytes, got %d", f.Width, f.Height, f.PixelFormat, expected, len(f.Data))
	}
	return nil
}

type FrameProperties struct {
	ForceKeyFrame bool
}
