package types

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Color tags are ITU-T H.273 code points, so they could be passed to
// any engine or container as is. The zero value means "not set", the
// engine default is used then.

type ColorPrimaries int

const (
	ColorPrimariesUnset     = ColorPrimaries(0)
	ColorPrimariesBT709     = ColorPrimaries(1)
	ColorPrimariesSMPTE170M = ColorPrimaries(6)
	ColorPrimariesBT2020    = ColorPrimaries(9)
	ColorPrimariesSMPTE431  = ColorPrimaries(11)
	ColorPrimariesSMPTE432  = ColorPrimaries(12)
	ColorPrimariesEBU3213   = ColorPrimaries(22)
)

var colorPrimariesNames = map[ColorPrimaries]string{
	ColorPrimariesBT709:     "bt709",
	ColorPrimariesSMPTE170M: "smpte170m",
	ColorPrimariesBT2020:    "bt2020",
	ColorPrimariesSMPTE431:  "smpte431",
	ColorPrimariesSMPTE432:  "smpte432",
	ColorPrimariesEBU3213:   "ebu3213",
}

func (c ColorPrimaries) String() string {
	if c == ColorPrimariesUnset {
		return "unset"
	}
	if name, ok := colorPrimariesNames[c]; ok {
		return name
	}
	return strconv.Itoa(int(c))
}

func ParseColorPrimaries(s string) (ColorPrimaries, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "unset":
		return ColorPrimariesUnset, nil
	case "dci-p3", "dci_p3":
		return ColorPrimariesSMPTE431, nil
	case "p3", "p3-d65", "p3_d65", "display-p3":
		return ColorPrimariesSMPTE432, nil
	case "smpte-c", "smpte_c", "bt601":
		return ColorPrimariesSMPTE170M, nil
	case "p22", "jedec-p22":
		return ColorPrimariesEBU3213, nil
	}
	for v, name := range colorPrimariesNames {
		if name == s {
			return v, nil
		}
	}
	return parseCodePoint[ColorPrimaries](s, "color primaries")
}

type TransferFunction int

const (
	TransferFunctionUnset     = TransferFunction(0)
	TransferFunctionBT709     = TransferFunction(1)
	TransferFunctionGamma22   = TransferFunction(4)
	TransferFunctionGamma28   = TransferFunction(5)
	TransferFunctionSMPTE240M = TransferFunction(7)
	TransferFunctionLinear    = TransferFunction(8)
	TransferFunctionSRGB      = TransferFunction(13)
	TransferFunctionBT2020_10 = TransferFunction(14)
	TransferFunctionSMPTE2084 = TransferFunction(16)
	TransferFunctionHLG       = TransferFunction(18)

	// TransferFunctionUseGamma is not an H.273 code point: it requests a pure
	// power-law curve with the exponent from EncoderConfig.Gamma.
	TransferFunctionUseGamma = TransferFunction(-1)
)

var transferFunctionNames = map[TransferFunction]string{
	TransferFunctionBT709:     "bt709",
	TransferFunctionGamma22:   "gamma22",
	TransferFunctionGamma28:   "gamma28",
	TransferFunctionSMPTE240M: "smpte240m",
	TransferFunctionLinear:    "linear",
	TransferFunctionSRGB:      "iec61966-2-1",
	TransferFunctionBT2020_10: "bt2020-10",
	TransferFunctionSMPTE2084: "smpte2084",
	TransferFunctionHLG:       "arib-std-b67",
	TransferFunctionUseGamma:  "gamma",
}

func (t TransferFunction) String() string {
	if t == TransferFunctionUnset {
		return "unset"
	}
	if name, ok := transferFunctionNames[t]; ok {
		return name
	}
	return strconv.Itoa(int(t))
}

func ParseTransferFunction(s string) (TransferFunction, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "unset":
		return TransferFunctionUnset, nil
	case "srgb":
		return TransferFunctionSRGB, nil
	case "pq":
		return TransferFunctionSMPTE2084, nil
	case "hlg":
		return TransferFunctionHLG, nil
	case "use_gamma", "usegamma", "custom":
		return TransferFunctionUseGamma, nil
	}
	for v, name := range transferFunctionNames {
		if name == s {
			return v, nil
		}
	}
	return parseCodePoint[TransferFunction](s, "transfer function")
}

type YCbCrMatrix int

const (
	YCbCrMatrixUnset     = YCbCrMatrix(0)
	YCbCrMatrixBT709     = YCbCrMatrix(1)
	YCbCrMatrixSMPTE170M = YCbCrMatrix(6)
	YCbCrMatrixSMPTE240M = YCbCrMatrix(7)
	YCbCrMatrixBT2020NC  = YCbCrMatrix(9)
)

var ycbcrMatrixNames = map[YCbCrMatrix]string{
	YCbCrMatrixBT709:     "bt709",
	YCbCrMatrixSMPTE170M: "smpte170m",
	YCbCrMatrixSMPTE240M: "smpte240m",
	YCbCrMatrixBT2020NC:  "bt2020nc",
}

func (m YCbCrMatrix) String() string {
	if m == YCbCrMatrixUnset {
		return "unset"
	}
	if name, ok := ycbcrMatrixNames[m]; ok {
		return name
	}
	return strconv.Itoa(int(m))
}

func ParseYCbCrMatrix(s string) (YCbCrMatrix, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "unset":
		return YCbCrMatrixUnset, nil
	case "bt601", "bt601-4":
		return YCbCrMatrixSMPTE170M, nil
	case "bt2020":
		return YCbCrMatrixBT2020NC, nil
	}
	for v, name := range ycbcrMatrixNames {
		if name == s {
			return v, nil
		}
	}
	return parseCodePoint[YCbCrMatrix](s, "YCbCr matrix")
}

func parseCodePoint[T ~int](s string, what string) (T, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 || v > 255 {
		return 0, fmt.Errorf("unknown %s %q", what, s)
	}
	return T(v), nil
}

const iccHeaderSize = 128

// ValidateICCProfile checks the ICC profile header: the declared size
// and the 'acsp' signature.
func ValidateICCProfile(b []byte) error {
	if len(b) < iccHeaderSize {
		return fmt.Errorf("an ICC profile has at least %d bytes, got %d", iccHeaderSize, len(b))
	}
	if string(b[36:40]) != "acsp" {
		return fmt.Errorf("no 'acsp' signature in the ICC profile header")
	}
	if size := binary.BigEndian.Uint32(b[:4]); size != uint32(len(b)) {
		return fmt.Errorf("the ICC profile header declares %d bytes, got %d", size, len(b))
	}
	return nil
}
