package libav

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/ffrecord/pkg/compressor"
	"github.com/xaionaro-go/ffrecord/pkg/ffrecord/types"
)

// family is a group of libav encoders sharing the same private options.
type family int

const (
	familyGeneric = family(iota)
	familyVideoToolbox
	familyX264
	familyX265
	familyNVENC
	familyQSV
	familyVAAPI
	familyProResKS
)

func (f family) String() string {
	switch f {
	case familyGeneric:
		return "generic"
	case familyVideoToolbox:
		return "videotoolbox"
	case familyX264:
		return "x264"
	case familyX265:
		return "x265"
	case familyNVENC:
		return "nvenc"
	case familyQSV:
		return "qsv"
	case familyVAAPI:
		return "vaapi"
	case familyProResKS:
		return "prores_ks"
	}
	return fmt.Sprintf("<unknown_family_%d>", int(f))
}

func familyOf(encoderName string) family {
	switch {
	case strings.HasSuffix(encoderName, "_videotoolbox"):
		return familyVideoToolbox
	case encoderName == "libx264" || encoderName == "libx264rgb":
		return familyX264
	case encoderName == "libx265":
		return familyX265
	case strings.HasSuffix(encoderName, "_nvenc"):
		return familyNVENC
	case strings.HasSuffix(encoderName, "_qsv"):
		return familyQSV
	case strings.HasSuffix(encoderName, "_vaapi"):
		return familyVAAPI
	case encoderName == "prores_ks" || encoderName == "prores_aw" || encoderName == "prores":
		return familyProResKS
	}
	return familyGeneric
}

// autoEncoders lists the encoders tried (in order) when no encoder name is
// configured explicitly.
var autoEncoders = map[types.Codec][]string{
	types.CodecH264:   {"h264_videotoolbox", "libx264", "h264_nvenc", "h264_qsv", "h264_vaapi"},
	types.CodecHEVC:   {"hevc_videotoolbox", "libx265", "hevc_nvenc", "hevc_qsv", "hevc_vaapi"},
	types.CodecProRes: {"prores_videotoolbox", "prores_ks"},
}

var profileNames = map[family]map[types.Codec][]string{
	familyVideoToolbox: {
		types.CodecH264:   {"baseline", "main", "high", "extended"},
		types.CodecHEVC:   {"main", "main10"},
		types.CodecProRes: {"proxy", "lt", "standard", "hq", "4444", "xq"},
	},
	familyX264: {
		types.CodecH264: {"baseline", "main", "high", "high10", "high422", "high444"},
	},
	familyX265: {
		types.CodecHEVC: {"main", "main10", "mainstillpicture"},
	},
	familyNVENC: {
		types.CodecH264: {"baseline", "main", "high", "high10", "high444p"},
		types.CodecHEVC: {"main", "main10", "rext"},
	},
	familyQSV: {
		types.CodecH264: {"baseline", "main", "high"},
		types.CodecHEVC: {"main", "main10"},
	},
	familyVAAPI: {
		types.CodecH264: {"constrained_baseline", "main", "high"},
		types.CodecHEVC: {"main", "main10", "rext"},
	},
	familyProResKS: {
		types.CodecProRes: {"proxy", "lt", "standard", "hq", "4444", "4444xq"},
	},
}

// hardwareDeviceType is the device an encoder of the family needs when
// none is configured.
func (f family) hardwareDeviceType() types.HardwareDeviceType {
	if f == familyVAAPI {
		return types.HardwareDeviceTypeVAAPI
	}
	return types.HardwareDeviceTypeNone
}

// hardwarePixelFormat is the pixel format of device frames if the family
// accepts only frames in the device memory.
func (f family) hardwarePixelFormat() (astiav.PixelFormat, bool) {
	if f == familyVAAPI {
		return astiav.PixelFormatVaapi, true
	}
	return astiav.PixelFormatNone, false
}

// realTimeDisablesReordering reports whether the real-time tuning of the
// family turns B-frames off.
func (f family) realTimeDisablesReordering() bool {
	return f == familyX264 || f == familyX265
}

func (f family) profileName(pl compressor.ProfileLevel) (string, error) {
	profile := pl.Profile
	if f == familyVideoToolbox && profile == "4444xq" {
		profile = "xq"
	}
	for _, name := range profileNames[f][pl.Codec] {
		if name == profile {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: profile %q of %s is not known for %s encoders", compressor.ErrPropertyUnsupported, pl.Profile, pl.Codec, f)
}

// crf maps a quality within [0, 1] onto the 51..0 scale used by x264/x265/nvenc.
func crf(quality float64) string {
	return strconv.FormatFloat(51*(1-quality), 'f', 2, 64)
}

// options returns the encoder options implementing a property that is
// expressed via AVOptions. Properties applied directly to the codec context
// are not handled here.
func (f family) options(
	prop compressor.Property,
	value any,
) (types.DictionaryItems, error) {
	var r types.DictionaryItems
	set := func(key string, value any) {
		r = append(r, types.DictionaryItem{Key: key, Value: fmt.Sprint(value)})
	}
	unsupported := func() (types.DictionaryItems, error) {
		return nil, fmt.Errorf("%w: %s is not supported for %s encoders", compressor.ErrPropertyUnsupported, prop, f)
	}

	switch prop {
	case compressor.PropertyProfileLevel:
		pl := value.(compressor.ProfileLevel)
		name, err := f.profileName(pl)
		if err != nil {
			return nil, err
		}
		set("profile", name)
		if pl.Level != "" {
			set("level", pl.Level)
		}

	case compressor.PropertyRealTime:
		if !value.(bool) {
			return nil, nil
		}
		switch f {
		case familyVideoToolbox:
			set("realtime", 1)
		case familyX264, familyX265:
			set("tune", "zerolatency")
		case familyNVENC:
			set("zerolatency", 1)
		default:
			return unsupported()
		}

	case compressor.PropertyConstantBitRate:
		bitRate := value.(uint64)
		set("b", bitRate)
		switch f {
		case familyProResKS:
			return unsupported()
		case familyVideoToolbox:
			set("constant_bit_rate", 1)
		case familyX264:
			set("maxrate", bitRate)
			set("minrate", bitRate)
			set("bufsize", bitRate)
			set("nal-hrd", "cbr")
		case familyNVENC:
			set("rc", "cbr")
		case familyVAAPI:
			set("rc_mode", "CBR")
			set("maxrate", bitRate)
		default:
			set("maxrate", bitRate)
			set("minrate", bitRate)
			set("bufsize", bitRate)
		}

	case compressor.PropertyAverageBitRate:
		if f == familyProResKS {
			return unsupported()
		}
		set("b", value.(uint64))
		switch f {
		case familyNVENC:
			set("rc", "vbr")
		case familyVAAPI:
			set("rc_mode", "VBR")
		}

	case compressor.PropertyDataRateLimits:
		limit := value.(compressor.DataRateLimit)
		if f == familyProResKS || limit.Window <= 0 {
			return unsupported()
		}
		bits := limit.Bytes * 8
		set("maxrate", uint64(float64(bits)/limit.Window.Seconds()))
		set("bufsize", bits)

	case compressor.PropertyQuality:
		quality := value.(float64)
		switch f {
		case familyX264, familyX265:
			set("crf", crf(quality))
		case familyNVENC:
			set("rc", "vbr")
			set("cq", crf(quality))
		case familyVideoToolbox:
			set("flags", "+qscale")
			set("global_quality", int(quality*100*118))
		case familyQSV:
			set("global_quality", int(1+50*(1-quality)))
		case familyVAAPI:
			set("rc_mode", "CQP")
			set("qp", int(math.Round(51*(1-quality))))
		default:
			return unsupported()
		}

	case compressor.PropertyAllowTemporalCompression:
		if !value.(bool) {
			set("g", 1)
		}

	case compressor.PropertyAllowFrameReordering:
		if f == familyProResKS {
			return nil, nil
		}
		if !value.(bool) {
			set("bf", 0)
		}

	case compressor.PropertyCustomOption:
		item := value.(types.DictionaryItem)
		set(item.Key, item.Value)

	default:
		return nil, fmt.Errorf("property %s is not an encoder option", prop)
	}
	return r, nil
}
