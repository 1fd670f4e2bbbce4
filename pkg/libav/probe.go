package libav

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/ffrecord/pkg/ffrecord/types"
)

type ProbeTrack struct {
	Kind      types.TrackKind
	CodecName string
	Duration  time.Duration

	Width            int
	Height           int
	PixelFormat      string
	ColorPrimaries   types.ColorPrimaries
	TransferFunction types.TransferFunction
	YCbCrMatrix      types.YCbCrMatrix
	ICCProfile       []byte
	// KeyFrames contains the indexes (in decoding order) of packets
	// flagged as key frames.
	KeyFrames []int

	SampleRate int
	Channels   int

	Packets uint64
	Bytes   uint64
}

type ProbeResult struct {
	FormatName string
	Duration   time.Duration
	Tracks     []ProbeTrack
}

func (r *ProbeResult) Track(kind types.TrackKind) *ProbeTrack {
	for idx := range r.Tracks {
		if r.Tracks[idx].Kind == kind {
			return &r.Tracks[idx]
		}
	}
	return nil
}

// Probe opens a media file and reads all its packets.
func Probe(
	ctx context.Context,
	path string,
) (_ret *ProbeResult, _err error) {
	logger.Debugf(ctx, "Probe(ctx, '%s')", path)
	defer func() { logger.Debugf(ctx, "/Probe(ctx, '%s'): %v", path, _err) }()

	formatContext := astiav.AllocFormatContext()
	if formatContext == nil {
		return nil, fmt.Errorf("unable to allocate a format context")
	}
	if err := formatContext.OpenInput(path, nil, nil); err != nil {
		formatContext.Free()
		return nil, fmt.Errorf("unable to open '%s': %w", path, err)
	}
	// closing the input frees the context
	defer formatContext.CloseInput()

	if err := formatContext.FindStreamInfo(nil); err != nil {
		return nil, fmt.Errorf("unable to find stream info of '%s': %w", path, err)
	}

	r := &ProbeResult{
		FormatName: formatContext.InputFormat().Name(),
		Duration:   time.Duration(formatContext.Duration()) * time.Microsecond,
	}
	trackByStream := map[int]int{}
	for _, stream := range formatContext.Streams() {
		cp := stream.CodecParameters()
		t := ProbeTrack{
			CodecName: cp.CodecID().Name(),
			Duration:  time.Duration(astiav.RescaleQ(stream.Duration(), stream.TimeBase(), nanosecondTimeBase)),
		}
		switch cp.MediaType() {
		case astiav.MediaTypeVideo:
			t.Kind = types.TrackKindVideo
			t.Width = cp.Width()
			t.Height = cp.Height()
			t.PixelFormat = cp.PixelFormat().String()
			t.ColorPrimaries = types.ColorPrimaries(cp.ColorPrimaries())
			t.TransferFunction = types.TransferFunction(cp.ColorTransferCharacteristic())
			t.YCbCrMatrix = types.YCbCrMatrix(cp.ColorSpace())
			if icc := cp.SideData().Get(astiav.PacketSideDataTypeIccProfile); len(icc) > 0 {
				t.ICCProfile = append([]byte(nil), icc...)
			}
		case astiav.MediaTypeAudio:
			t.Kind = types.TrackKindAudio
			t.SampleRate = cp.SampleRate()
			t.Channels = cp.ChannelLayout().Channels()
		default:
			continue
		}
		trackByStream[stream.Index()] = len(r.Tracks)
		r.Tracks = append(r.Tracks, t)
	}

	pkt := astiav.AllocPacket()
	setFinalizerFree(ctx, pkt)
	for {
		err := formatContext.ReadFrame(pkt)
		if err != nil {
			if errors.Is(err, astiav.ErrEof) {
				break
			}
			return nil, fmt.Errorf("unable to read a packet from '%s': %w", path, err)
		}
		if idx, ok := trackByStream[pkt.StreamIndex()]; ok {
			t := &r.Tracks[idx]
			if pkt.Flags().Has(astiav.PacketFlagKey) {
				t.KeyFrames = append(t.KeyFrames, int(t.Packets))
			}
			t.Packets++
			t.Bytes += uint64(pkt.Size())
		}
		pkt.Unref()
	}
	return r, nil
}
