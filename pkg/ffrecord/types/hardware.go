package types

import (
	"fmt"
	"strings"
)

// HardwareDeviceName is a device path or name understood by the device
// type (e.g. "/dev/dri/renderD128" for VAAPI). Empty means the default device.
type HardwareDeviceName string

// HardwareDeviceType uses the values of libav's enum AVHWDeviceType.
type HardwareDeviceType int

const (
	HardwareDeviceTypeNone         = HardwareDeviceType(0x0)
	HardwareDeviceTypeVDPAU        = HardwareDeviceType(0x1)
	HardwareDeviceTypeCUDA         = HardwareDeviceType(0x2)
	HardwareDeviceTypeVAAPI        = HardwareDeviceType(0x3)
	HardwareDeviceTypeDXVA2        = HardwareDeviceType(0x4)
	HardwareDeviceTypeQSV          = HardwareDeviceType(0x5)
	HardwareDeviceTypeVideoToolbox = HardwareDeviceType(0x6)
	HardwareDeviceTypeD3D11VA      = HardwareDeviceType(0x7)
	HardwareDeviceTypeDRM          = HardwareDeviceType(0x8)
	HardwareDeviceTypeOpenCL       = HardwareDeviceType(0x9)
	HardwareDeviceTypeMediaCodec   = HardwareDeviceType(0xa)
	HardwareDeviceTypeVulkan       = HardwareDeviceType(0xb)
	EndOfHardwareDeviceType
)

func (t HardwareDeviceType) String() string {
	switch t {
	case HardwareDeviceTypeNone:
		return "none"
	case HardwareDeviceTypeVDPAU:
		return "vdpau"
	case HardwareDeviceTypeCUDA:
		return "cuda"
	case HardwareDeviceTypeVAAPI:
		return "vaapi"
	case HardwareDeviceTypeDXVA2:
		return "dxva2"
	case HardwareDeviceTypeQSV:
		return "qsv"
	case HardwareDeviceTypeVideoToolbox:
		return "videotoolbox"
	case HardwareDeviceTypeD3D11VA:
		return "d3d11va"
	case HardwareDeviceTypeDRM:
		return "drm"
	case HardwareDeviceTypeOpenCL:
		return "opencl"
	case HardwareDeviceTypeMediaCodec:
		return "mediacodec"
	case HardwareDeviceTypeVulkan:
		return "vulkan"
	}
	return fmt.Sprintf("<unknown_hardware_device_type_%d>", int(t))
}

// ParseHardwareDeviceType accepts the libav device type names; empty is
// the same as "none".
func ParseHardwareDeviceType(s string) (HardwareDeviceType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return HardwareDeviceTypeNone, nil
	}
	for t := HardwareDeviceTypeNone; t < EndOfHardwareDeviceType; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return HardwareDeviceTypeNone, fmt.Errorf("unknown hardware device type %q", s)
}
