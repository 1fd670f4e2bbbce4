package libav

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/ffrecord/pkg/container"
	"github.com/xaionaro-go/ffrecord/pkg/ffrecord/types"
)

// MuxerFactory creates libav-backed MP4/MOV muxers.
type MuxerFactory struct{}

var _ container.MuxerFactory = (*MuxerFactory)(nil)

func NewMuxerFactory() *MuxerFactory {
	return &MuxerFactory{}
}

func (MuxerFactory) NewMuxer(
	ctx context.Context,
	params container.Params,
) (container.Muxer, error) {
	return NewMuxer(ctx, params)
}

// Muxer writes samples into a file via libavformat. It is not
// thread-safe; container.Writer serializes the access.
type Muxer struct {
	Params container.Params

	formatContext *astiav.FormatContext
	ioContext     *astiav.IOContext
	streams       map[types.TrackKind]*astiav.Stream
	packet        *astiav.Packet
	hasICCProfile bool
	closed        bool
}

var _ container.Muxer = (*Muxer)(nil)

func NewMuxer(
	ctx context.Context,
	params container.Params,
) (_ret *Muxer, _err error) {
	logger.Debugf(ctx, "NewMuxer(ctx, '%s')", params.Path)
	defer func() { logger.Debugf(ctx, "/NewMuxer(ctx, '%s'): %v", params.Path, _err) }()

	formatContext, err := astiav.AllocOutputFormatContext(nil, params.Container.FormatName(), params.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to allocate the output format context: %w", err)
	}
	if formatContext == nil {
		return nil, fmt.Errorf("unable to allocate the output format context for '%s'", params.Container.FormatName())
	}

	ioContext, err := astiav.OpenIOContext(
		params.Path,
		astiav.NewIOContextFlags(astiav.IOContextFlagWrite),
		nil,
		nil,
	)
	if err != nil {
		formatContext.Free()
		return nil, fmt.Errorf("unable to open '%s' for writing: %w", params.Path, err)
	}
	formatContext.SetPb(ioContext)

	return &Muxer{
		Params:        params,
		formatContext: formatContext,
		ioContext:     ioContext,
		streams:       map[types.TrackKind]*astiav.Stream{},
		packet:        astiav.AllocPacket(),
	}, nil
}

func codecIDFromName(name string) (astiav.CodecID, error) {
	switch name {
	case "h264":
		return astiav.CodecIDH264, nil
	case "hevc":
		return astiav.CodecIDHevc, nil
	case "prores":
		return astiav.CodecIDProres, nil
	case "aac":
		return astiav.CodecIDAac, nil
	case "opus":
		return astiav.CodecIDOpus, nil
	case "pcm_s16le":
		return astiav.CodecIDPcmS16Le, nil
	case "pcm_f32le":
		return astiav.CodecIDPcmF32Le, nil
	}
	if c := astiav.FindDecoderByName(name); c != nil {
		return c.ID(), nil
	}
	return astiav.CodecIDNone, fmt.Errorf("unknown codec '%s'", name)
}

func audioSampleFormat(codecName string) astiav.SampleFormat {
	switch codecName {
	case "pcm_s16le":
		return astiav.SampleFormatS16
	case "pcm_f32le":
		return astiav.SampleFormatFlt
	}
	return astiav.SampleFormatFltp
}

// channelLayout returns the default layout for the channel count.
func channelLayout(channels uint8) (astiav.ChannelLayout, error) {
	switch channels {
	case 1:
		return astiav.ChannelLayoutMono, nil
	case 2:
		return astiav.ChannelLayoutStereo, nil
	case 3:
		return astiav.ChannelLayout2Point1, nil
	case 4:
		return astiav.ChannelLayout4Point0, nil
	case 5:
		return astiav.ChannelLayout5Point0, nil
	case 6:
		return astiav.ChannelLayout5Point1, nil
	case 7:
		return astiav.ChannelLayout6Point1, nil
	case 8:
		return astiav.ChannelLayout7Point1, nil
	}
	return astiav.ChannelLayout{}, fmt.Errorf("no default layout for %d channels", channels)
}

func (m *Muxer) AddTrack(
	ctx context.Context,
	format types.TrackFormat,
) (_err error) {
	logger.Debugf(ctx, "AddTrack(ctx, %s %s)", format.Kind, format.CodecName)
	defer func() { logger.Debugf(ctx, "/AddTrack(ctx, %s %s): %v", format.Kind, format.CodecName, _err) }()

	if _, ok := m.streams[format.Kind]; ok {
		return fmt.Errorf("the %s track is already added", format.Kind)
	}
	codecID, err := codecIDFromName(format.CodecName)
	if err != nil {
		return err
	}

	stream := m.formatContext.NewStream(nil)
	if stream == nil {
		return fmt.Errorf("unable to create a stream")
	}
	cp := stream.CodecParameters()
	cp.SetCodecID(codecID)
	if len(format.ExtraData) > 0 {
		if err := cp.SetExtraData(format.ExtraData); err != nil {
			return fmt.Errorf("unable to set the extradata: %w", err)
		}
	}
	if format.BitRate > 0 {
		cp.SetBitRate(int64(format.BitRate))
	}

	switch format.Kind {
	case types.TrackKindVideo:
		cp.SetMediaType(astiav.MediaTypeVideo)
		cp.SetWidth(int(format.Width))
		cp.SetHeight(int(format.Height))
		if format.PixelFormat != "" {
			cp.SetPixelFormat(astiav.FindPixelFormatByName(format.PixelFormat))
		}
		if format.ColorPrimaries != types.ColorPrimariesUnset {
			cp.SetColorPrimaries(astiav.ColorPrimaries(format.ColorPrimaries))
		}
		if format.TransferFunction > types.TransferFunctionUnset {
			cp.SetColorTransferCharacteristic(astiav.ColorTransferCharacteristic(format.TransferFunction))
		}
		if format.YCbCrMatrix != types.YCbCrMatrixUnset {
			cp.SetColorSpace(astiav.ColorSpace(format.YCbCrMatrix))
		}
		if len(format.ICCProfile) > 0 {
			if err := cp.SideData().Add(astiav.PacketSideDataTypeIccProfile, format.ICCProfile); err != nil {
				return fmt.Errorf("unable to attach the ICC profile: %w", err)
			}
			m.hasICCProfile = true
		}
		stream.SetTimeBase(engineTimeBase)
		if format.FrameRate.Num > 0 && format.FrameRate.Den > 0 {
			stream.SetAvgFrameRate(astiav.NewRational(format.FrameRate.Num, format.FrameRate.Den))
		}
	case types.TrackKindAudio:
		cp.SetMediaType(astiav.MediaTypeAudio)
		cp.SetSampleRate(int(format.SampleRate))
		cp.SetSampleFormat(audioSampleFormat(format.CodecName))
		layout, err := channelLayout(format.Channels)
		if err != nil {
			return err
		}
		cp.SetChannelLayout(layout)
		stream.SetTimeBase(astiav.NewRational(1, int(format.SampleRate)))
	default:
		return fmt.Errorf("unsupported track kind %s", format.Kind)
	}

	m.streams[format.Kind] = stream
	return nil
}

func (m *Muxer) WriteHeader(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "WriteHeader")
	defer func() { logger.Debugf(ctx, "/WriteHeader: %v", _err) }()

	var movFlags string
	if !m.Params.RealTime {
		movFlags += "+faststart"
	}
	if m.hasICCProfile {
		// the 'colr' box then carries the profile instead of the code points,
		// which stay in the bitstream
		movFlags += "+write_colr+prefer_icc"
	}

	dict := astiav.NewDictionary()
	defer dict.Free()
	if movFlags != "" {
		if err := dict.Set("movflags", movFlags, 0); err != nil {
			return fmt.Errorf("unable to set movflags: %w", err)
		}
	}
	if err := m.formatContext.WriteHeader(dict); err != nil {
		return fmt.Errorf("unable to write the header: %w", err)
	}
	return nil
}

func (m *Muxer) WriteSample(
	ctx context.Context,
	sample *types.Sample,
) error {
	stream, ok := m.streams[sample.Kind]
	if !ok {
		return fmt.Errorf("no %s track", sample.Kind)
	}

	pkt := m.packet
	if err := pkt.FromData(sample.Data); err != nil {
		return fmt.Errorf("unable to fill the packet: %w", err)
	}
	timeBase := stream.TimeBase()
	pkt.SetStreamIndex(stream.Index())
	pkt.SetPts(rescaleFromDuration(sample.PTS, timeBase))
	pkt.SetDts(rescaleFromDuration(sample.DTS, timeBase))
	pkt.SetDuration(rescaleFromDuration(sample.Duration, timeBase))
	if sample.KeyFrame {
		pkt.SetFlags(pkt.Flags().Add(astiav.PacketFlagKey))
	}
	if err := m.formatContext.WriteInterleavedFrame(pkt); err != nil {
		pkt.Unref()
		return fmt.Errorf("unable to write the packet: %w", err)
	}
	return nil
}

func rescaleFromDuration(d time.Duration, timeBase astiav.Rational) int64 {
	return astiav.RescaleQ(int64(d), nanosecondTimeBase, timeBase)
}

func (m *Muxer) WriteTrailer(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "WriteTrailer")
	defer func() { logger.Debugf(ctx, "/WriteTrailer: %v", _err) }()

	if err := m.formatContext.WriteTrailer(); err != nil {
		return fmt.Errorf("unable to write the trailer: %w", err)
	}
	return nil
}

func (m *Muxer) Close(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close: %v", _err) }()

	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	if err := m.ioContext.Close(); err != nil {
		errs = append(errs, fmt.Errorf("unable to close '%s': %w", m.Params.Path, err))
	}
	m.packet.Free()
	m.formatContext.Free()
	return errors.Join(errs...)
}

func (m *Muxer) Abort(ctx context.Context) error {
	var errs []error
	if err := m.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := os.Remove(m.Params.Path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("unable to remove '%s': %w", m.Params.Path, err))
	}
	return errors.Join(errs...)
}
