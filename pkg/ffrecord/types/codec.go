package types

import (
	"fmt"
	"path/filepath"
	"strings"
)

type Codec int

const (
	CodecUndefined = Codec(iota)
	CodecH264
	CodecHEVC
	CodecProRes
	EndOfCodec
)

func (c Codec) String() string {
	switch c {
	case CodecUndefined:
		return "<undefined>"
	case CodecH264:
		return "h264"
	case CodecHEVC:
		return "hevc"
	case CodecProRes:
		return "prores"
	}
	return fmt.Sprintf("<unknown_codec_%d>", int(c))
}

// SupportsQuality reports whether a quality-driven (CRF) rate control
// makes sense for the codec.
func (c Codec) SupportsQuality() bool {
	switch c {
	case CodecH264, CodecHEVC:
		return true
	}
	return false
}

func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "h264", "h.264", "avc":
		return CodecH264, nil
	case "hevc", "h265", "h.265":
		return CodecHEVC, nil
	case "prores":
		return CodecProRes, nil
	}
	return CodecUndefined, fmt.Errorf("unknown codec %q", s)
}

type ProResProfile int

const (
	ProResProfileAuto = ProResProfile(iota)
	ProResProfileProxy
	ProResProfileLT
	ProResProfileStandard
	ProResProfileHQ
	ProResProfile4444
	ProResProfile4444XQ
	EndOfProResProfile
)

func (p ProResProfile) String() string {
	switch p {
	case ProResProfileAuto:
		return "auto"
	case ProResProfileProxy:
		return "proxy"
	case ProResProfileLT:
		return "lt"
	case ProResProfileStandard:
		return "standard"
	case ProResProfileHQ:
		return "hq"
	case ProResProfile4444:
		return "4444"
	case ProResProfile4444XQ:
		return "4444xq"
	}
	return fmt.Sprintf("<unknown_prores_profile_%d>", int(p))
}

func ParseProResProfile(s string) (ProResProfile, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ProResProfileAuto, nil
	}
	for p := ProResProfileAuto; p < EndOfProResProfile; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return ProResProfileAuto, fmt.Errorf("unknown ProRes profile %q", s)
}

type Container int

const (
	ContainerUndefined = Container(iota)
	ContainerMP4
	ContainerMOV
	EndOfContainer
)

func (c Container) String() string {
	switch c {
	case ContainerUndefined:
		return "<undefined>"
	case ContainerMP4:
		return "mp4"
	case ContainerMOV:
		return "mov"
	}
	return fmt.Sprintf("<unknown_container_%d>", int(c))
}

// FormatName returns the libavformat muxer name.
func (c Container) FormatName() string {
	return c.String()
}

func (c Container) Extension() string {
	return "." + c.String()
}

func ParseContainer(s string) (Container, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "mp4", "m4v":
		return ContainerMP4, nil
	case "mov", "qt", "quicktime":
		return ContainerMOV, nil
	}
	return ContainerUndefined, fmt.Errorf("unsupported container type %q", s)
}

// ContainerFromPath guesses the container type by the file extension.
func ContainerFromPath(path string) (Container, error) {
	return ParseContainer(filepath.Ext(path))
}

type AudioCodec int

const (
	AudioCodecUndefined = AudioCodec(iota)
	AudioCodecAAC
	AudioCodecOpus
	AudioCodecPCMS16LE
	AudioCodecPCMF32LE
	EndOfAudioCodec
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecUndefined:
		return "<undefined>"
	case AudioCodecAAC:
		return "aac"
	case AudioCodecOpus:
		return "opus"
	case AudioCodecPCMS16LE:
		return "pcm_s16le"
	case AudioCodecPCMF32LE:
		return "pcm_f32le"
	}
	return fmt.Sprintf("<unknown_audio_codec_%d>", int(c))
}

func (c AudioCodec) IsPCM() bool {
	switch c {
	case AudioCodecPCMS16LE, AudioCodecPCMF32LE:
		return true
	}
	return false
}

// BytesPerSample is the size of a single sample of a single channel
// for PCM codecs, zero otherwise.
func (c AudioCodec) BytesPerSample() int {
	switch c {
	case AudioCodecPCMS16LE:
		return 2
	case AudioCodecPCMF32LE:
		return 4
	}
	return 0
}

func ParseAudioCodec(s string) (AudioCodec, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c := AudioCodecAAC; c < EndOfAudioCodec; c++ {
		if c.String() == s {
			return c, nil
		}
	}
	return AudioCodecUndefined, fmt.Errorf("unknown audio codec %q", s)
}
