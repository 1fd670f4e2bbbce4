package libav

import (
	"sort"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/ffrecord/pkg/ffrecord/types"
)

type EncoderInfo struct {
	Name    string
	CodecID uint32
	Codec   types.Codec
	// Preferred is set for encoders picked automatically when no encoder
	// name is configured.
	Preferred bool
}

func codecFromID(id astiav.CodecID) types.Codec {
	switch id {
	case astiav.CodecIDH264:
		return types.CodecH264
	case astiav.CodecIDHevc:
		return types.CodecHEVC
	case astiav.CodecIDProres:
		return types.CodecProRes
	}
	return types.CodecUndefined
}

// VideoEncoders lists the encoders of the linked libav able to produce
// the supported codecs.
func VideoEncoders() []EncoderInfo {
	var r []EncoderInfo
	for _, c := range astiav.Codecs() {
		if !c.IsEncoder() {
			continue
		}
		codec := codecFromID(c.ID())
		if codec == types.CodecUndefined {
			continue
		}
		info := EncoderInfo{
			Name:    c.Name(),
			CodecID: uint32(c.ID()),
			Codec:   codec,
		}
		for _, name := range autoEncoders[codec] {
			if name == info.Name {
				info.Preferred = true
			}
		}
		r = append(r, info)
	}
	sort.Slice(r, func(i, j int) bool {
		if r[i].Codec != r[j].Codec {
			return r[i].Codec < r[j].Codec
		}
		return r[i].Name < r[j].Name
	})
	return r
}
