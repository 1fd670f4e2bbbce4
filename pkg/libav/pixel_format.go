package libav

import (
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/ffrecord/pkg/ffrecord/types"
)

func pixelFormatToAstiav(f types.PixelFormat) (astiav.PixelFormat, error) {
	switch f {
	case types.PixelFormatBGRA:
		return astiav.PixelFormatBgra, nil
	case types.PixelFormatRGBA:
		return astiav.PixelFormatRgba, nil
	case types.PixelFormatNV12:
		return astiav.PixelFormatNv12, nil
	case types.PixelFormatYUV420P:
		return astiav.PixelFormatYuv420P, nil
	case types.PixelFormatP010:
		return astiav.PixelFormatP010Le, nil
	}
	return astiav.PixelFormatNone, fmt.Errorf("unsupported pixel format %s", f)
}

// encoderPixelFormat returns the pixel format the encoder is fed with.
func encoderPixelFormat(
	f family,
	codec types.Codec,
	proResProfile types.ProResProfile,
	bitDepth uint8,
) astiav.PixelFormat {
	tenBit := bitDepth == 10
	switch {
	case f == familyProResKS:
		switch proResProfile {
		case types.ProResProfile4444, types.ProResProfile4444XQ:
			return astiav.PixelFormatYuv444P10Le
		}
		return astiav.PixelFormatYuv422P10Le
	case codec == types.CodecProRes:
		return astiav.PixelFormatP010Le
	case f == familyVideoToolbox, f == familyNVENC, f == familyQSV, f == familyVAAPI:
		if tenBit {
			return astiav.PixelFormatP010Le
		}
		return astiav.PixelFormatNv12
	}
	if tenBit {
		return astiav.PixelFormatYuv420P10Le
	}
	return astiav.PixelFormatYuv420P
}
