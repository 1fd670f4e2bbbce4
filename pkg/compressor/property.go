package compressor

import (
	"fmt"
	"time"

	"github.com/xaionaro-go/ffrecord/pkg/ffrecord/types"
)

type Property int

const (
	PropertyUndefined = Property(iota)
	PropertyProfileLevel
	PropertyRealTime
	PropertyConstantBitRate
	PropertyAverageBitRate
	PropertyDataRateLimits
	PropertyQuality
	PropertyAllowTemporalCompression
	PropertyAllowFrameReordering
	PropertyMaxKeyFrameInterval
	PropertyMaxKeyFrameIntervalDuration
	PropertyColorPrimaries
	PropertyOutputBitDepth
	PropertyYCbCrMatrix
	PropertyICCProfile
	PropertyTransferFunction
	PropertyCustomOption
	EndOfProperty
)

func (p Property) String() string {
	switch p {
	case PropertyUndefined:
		return "<undefined>"
	case PropertyProfileLevel:
		return "ProfileLevel"
	case PropertyRealTime:
		return "RealTime"
	case PropertyConstantBitRate:
		return "ConstantBitRate"
	case PropertyAverageBitRate:
		return "AverageBitRate"
	case PropertyDataRateLimits:
		return "DataRateLimits"
	case PropertyQuality:
		return "Quality"
	case PropertyAllowTemporalCompression:
		return "AllowTemporalCompression"
	case PropertyAllowFrameReordering:
		return "AllowFrameReordering"
	case PropertyMaxKeyFrameInterval:
		return "MaxKeyFrameInterval"
	case PropertyMaxKeyFrameIntervalDuration:
		return "MaxKeyFrameIntervalDuration"
	case PropertyColorPrimaries:
		return "ColorPrimaries"
	case PropertyOutputBitDepth:
		return "OutputBitDepth"
	case PropertyYCbCrMatrix:
		return "YCbCrMatrix"
	case PropertyICCProfile:
		return "ICCProfile"
	case PropertyTransferFunction:
		return "TransferFunction"
	case PropertyCustomOption:
		return "CustomOption"
	}
	return fmt.Sprintf("<unknown_property_%d>", int(p))
}

// ProfileLevel is the value of PropertyProfileLevel. An empty Level
// means the engine picks the level automatically.
type ProfileLevel struct {
	Codec   types.Codec
	Profile string
	Level   string
}

// DataRateLimit is the value of PropertyDataRateLimits.
type DataRateLimit struct {
	Bytes  uint64
	Window time.Duration
}

// Transfer is the value of PropertyTransferFunction.
type Transfer struct {
	Function types.TransferFunction
	Gamma    float64
}

// PropertyValue is a single step of the configuration sequence.
type PropertyValue struct {
	Property Property
	Value    any
}

func (v PropertyValue) String() string {
	return fmt.Sprintf("%s=%v", v.Property, v.Value)
}

// ProfileLevelFor returns the profile requested for the codec and bit depth.
// All of them use the automatic level.
func ProfileLevelFor(cfg types.EncoderConfig) ProfileLevel {
	r := ProfileLevel{Codec: cfg.Codec}
	switch cfg.Codec {
	case types.CodecH264:
		r.Profile = "main"
		if cfg.BitDepth == 10 {
			r.Profile = "high10"
		}
	case types.CodecHEVC:
		r.Profile = "main"
		if cfg.BitDepth == 10 {
			r.Profile = "main10"
		}
	case types.CodecProRes:
		r.Profile = cfg.ProResProfile.String()
	}
	return r
}

// PropertyPlan returns the properties to apply in the order they are applied.
// Every step is independently fallible.
func PropertyPlan(cfg types.EncoderConfig) []PropertyValue {
	var plan []PropertyValue
	add := func(p Property, v any) {
		plan = append(plan, PropertyValue{Property: p, Value: v})
	}

	if cfg.Codec != types.CodecProRes || cfg.ProResProfile != types.ProResProfileAuto {
		add(PropertyProfileLevel, ProfileLevelFor(cfg))
	}
	add(PropertyRealTime, cfg.RealTime)

	if cfg.Codec != types.CodecProRes {
		switch rc := cfg.RateControl.(type) {
		case types.RateControlCBR:
			add(PropertyConstantBitRate, rc.BitRate)
		case types.RateControlABR:
			add(PropertyAverageBitRate, rc.BitRate)
			bytes, window := rc.DataRateLimit()
			add(PropertyDataRateLimits, DataRateLimit{Bytes: bytes, Window: window})
		case types.RateControlCRF:
			add(PropertyQuality, rc.Quality)
		}
	}

	add(PropertyAllowTemporalCompression, true)
	add(PropertyAllowFrameReordering, cfg.AllowFrameReordering)
	if cfg.MaxKeyFrameInterval > 0 {
		add(PropertyMaxKeyFrameInterval, cfg.MaxKeyFrameInterval)
	}
	if cfg.MaxKeyFrameIntervalDuration > 0 {
		add(PropertyMaxKeyFrameIntervalDuration, cfg.MaxKeyFrameIntervalDuration)
	}
	if cfg.ColorPrimaries != types.ColorPrimariesUnset {
		add(PropertyColorPrimaries, cfg.ColorPrimaries)
	}
	add(PropertyOutputBitDepth, cfg.BitDepth)
	if cfg.YCbCrMatrix != types.YCbCrMatrixUnset {
		add(PropertyYCbCrMatrix, cfg.YCbCrMatrix)
	}
	if len(cfg.ICCProfile) > 0 {
		add(PropertyICCProfile, cfg.ICCProfile)
	}
	if cfg.TransferFunction != types.TransferFunctionUnset {
		add(PropertyTransferFunction, Transfer{Function: cfg.TransferFunction, Gamma: cfg.Gamma})
	}
	for _, opt := range cfg.EncoderOptions.Deduplicate() {
		add(PropertyCustomOption, opt)
	}
	return plan
}
