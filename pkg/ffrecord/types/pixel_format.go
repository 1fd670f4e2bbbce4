package types

import (
	"fmt"
	"strings"
)

// PixelFormat is a layout of raw frames produced by the capture layer.
type PixelFormat int

const (
	PixelFormatUndefined = PixelFormat(iota)
	PixelFormatBGRA
	PixelFormatRGBA
	PixelFormatNV12
	PixelFormatYUV420P
	PixelFormatP010
	EndOfPixelFormat
)

// String returns the libav name of the pixel format.
func (f PixelFormat) String() string {
	switch f {
	case PixelFormatUndefined:
		return "<undefined>"
	case PixelFormatBGRA:
		return "bgra"
	case PixelFormatRGBA:
		return "rgba"
	case PixelFormatNV12:
		return "nv12"
	case PixelFormatYUV420P:
		return "yuv420p"
	case PixelFormatP010:
		return "p010le"
	}
	return fmt.Sprintf("<unknown_pixel_format_%d>", int(f))
}

// FrameSize returns the amount of bytes a tightly packed frame of the given
// dimensions takes.
func (f PixelFormat) FrameSize(width, height uint32) int {
	w, h := int(width), int(height)
	chromaW, chromaH := (w+1)/2, (h+1)/2
	switch f {
	case PixelFormatBGRA, PixelFormatRGBA:
		return w * h * 4
	case PixelFormatNV12:
		return w*h + chromaW*chromaH*2
	case PixelFormatYUV420P:
		return w*h + chromaW*chromaH*2
	case PixelFormatP010:
		return (w*h + chromaW*chromaH*2) * 2
	}
	return 0
}

func ParsePixelFormat(s string) (PixelFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bgra", "32bgra":
		return PixelFormatBGRA, nil
	case "rgba":
		return PixelFormatRGBA, nil
	case "nv12", "420v", "420f":
		return PixelFormatNV12, nil
	case "yuv420p", "i420":
		return PixelFormatYUV420P, nil
	case "p010", "p010le", "x420":
		return PixelFormatP010, nil
	}
	return PixelFormatUndefined, fmt.Errorf("unknown pixel format %q", s)
}
