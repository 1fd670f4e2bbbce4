// Package testsource generates synthetic raw media for tests and dry runs.
package testsource

import (
	"encoding/binary"
	"fmt"

	"github.com/xaionaro-go/ffrecord/pkg/ffrecord/types"
)

var bars = [][3]uint8{
	{235, 235, 235},
	{235, 235, 16},
	{16, 235, 235},
	{16, 235, 16},
	{235, 16, 235},
	{235, 16, 16},
	{16, 16, 235},
	{16, 16, 16},
}

// Video renders color bars scrolling one bar width per second.
type Video struct {
	PixelFormat types.PixelFormat
	Width       uint32
	Height      uint32
	FrameRate   types.Rational
}

func NewVideo(
	pixelFormat types.PixelFormat,
	width, height uint32,
	frameRate types.Rational,
) (*Video, error) {
	if pixelFormat.FrameSize(width, height) == 0 {
		return nil, fmt.Errorf("unsupported pixel format %s or resolution %dx%d", pixelFormat, width, height)
	}
	if frameRate.Num <= 0 || frameRate.Den <= 0 {
		return nil, fmt.Errorf("invalid frame rate %s", frameRate)
	}
	return &Video{
		PixelFormat: pixelFormat,
		Width:       width,
		Height:      height,
		FrameRate:   frameRate,
	}, nil
}

func (v *Video) rgbAt(frameIdx int, x uint32) [3]uint8 {
	barWidth := max(v.Width/uint32(len(bars)), 1)
	shift := uint32(int64(frameIdx) * int64(barWidth) * int64(v.FrameRate.Den) / int64(v.FrameRate.Num))
	return bars[((x+shift)/barWidth)%uint32(len(bars))]
}

func rgbToYUV(c [3]uint8) (y, u, v uint8) {
	r, g, b := float64(c[0]), float64(c[1]), float64(c[2])
	return clamp(16 + 0.183*r + 0.614*g + 0.062*b),
		clamp(128 - 0.101*r - 0.339*g + 0.439*b),
		clamp(128 + 0.439*r - 0.399*g - 0.040*b)
}

func clamp(f float64) uint8 {
	switch {
	case f < 0:
		return 0
	case f > 255:
		return 255
	}
	return uint8(f + 0.5)
}

// Frame returns the frame with the given index; every call allocates
// a new buffer.
func (v *Video) Frame(frameIdx int) *types.VideoFrame {
	w, h := v.Width, v.Height
	data := make([]byte, v.PixelFormat.FrameSize(w, h))
	chromaW, chromaH := (w+1)/2, (h+1)/2

	switch v.PixelFormat {
	case types.PixelFormatBGRA, types.PixelFormatRGBA:
		for y := uint32(0); y < h; y++ {
			for x := uint32(0); x < w; x++ {
				c := v.rgbAt(frameIdx, x)
				off := int(y*w+x) * 4
				if v.PixelFormat == types.PixelFormatBGRA {
					c[0], c[2] = c[2], c[0]
				}
				copy(data[off:], []byte{c[0], c[1], c[2], 255})
			}
		}
	case types.PixelFormatNV12, types.PixelFormatYUV420P, types.PixelFormatP010:
		wide := v.PixelFormat == types.PixelFormatP010
		put := func(idx int, value uint8) {
			if wide {
				binary.LittleEndian.PutUint16(data[idx*2:], uint16(value)<<8)
				return
			}
			data[idx] = value
		}
		lumaSize := int(w * h)
		for y := uint32(0); y < h; y++ {
			for x := uint32(0); x < w; x++ {
				luma, _, _ := rgbToYUV(v.rgbAt(frameIdx, x))
				put(int(y*w+x), luma)
			}
		}
		for y := uint32(0); y < chromaH; y++ {
			for x := uint32(0); x < chromaW; x++ {
				_, u, vv := rgbToYUV(v.rgbAt(frameIdx, x*2))
				idx := int(y*chromaW + x)
				if v.PixelFormat == types.PixelFormatYUV420P {
					put(lumaSize+idx, u)
					put(lumaSize+int(chromaW*chromaH)+idx, vv)
					continue
				}
				put(lumaSize+idx*2, u)
				put(lumaSize+idx*2+1, vv)
			}
		}
	}

	return &types.VideoFrame{
		PixelFormat: v.PixelFormat,
		Width:       w,
		Height:      h,
		Data:        data,
	}
}
