package libav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/ffrecord/pkg/compressor"
	"github.com/xaionaro-go/ffrecord/pkg/ffrecord/types"
)

const timeBaseDen = 90000

var (
	nanosecondTimeBase = astiav.NewRational(1, int(time.Second))
	engineTimeBase     = astiav.NewRational(1, timeBaseDen)
)

type pendingOption struct {
	Property compressor.Property
	Value    any
}

// Engine is a compressor.Engine implemented on top of a libav encoder.
type Engine struct {
	Config      types.EncoderConfig
	EncoderName string
	Family      family

	codec        *astiav.Codec
	codecContext *astiav.CodecContext
	options      types.DictionaryItems
	optionOwner  map[string]pendingOption

	pixelFormat         astiav.PixelFormat
	sourcePixelFormat   astiav.PixelFormat
	keyFrameInterval    uint32
	keyFrameIntervalDur time.Duration

	scaler      *astiav.SoftwareScaleContext
	sourceFrame *astiav.Frame
	scaledFrame *astiav.Frame
	packet      *astiav.Packet

	hardwareDevice *astiav.HardwareDeviceContext
	hardwareFrames *astiav.HardwareFramesContext
	hardwareFrame  *astiav.Frame

	iccProfile []byte

	durations  map[int64]time.Duration
	formatSent bool
	opened     bool
	closed     bool
}

var _ compressor.Engine = (*Engine)(nil)

func newEngine(
	ctx context.Context,
	cfg types.EncoderConfig,
	encoderName string,
	codec *astiav.Codec,
) (*Engine, error) {
	sourcePixelFormat, err := pixelFormatToAstiav(cfg.SourcePixelFormat)
	if err != nil {
		return nil, err
	}

	codecContext := astiav.AllocCodecContext(codec)
	if codecContext == nil {
		return nil, fmt.Errorf("unable to allocate a codec context for '%s'", encoderName)
	}

	f := familyOf(encoderName)
	e := &Engine{
		Config:            cfg,
		EncoderName:       encoderName,
		Family:            f,
		codec:             codec,
		codecContext:      codecContext,
		optionOwner:       map[string]pendingOption{},
		sourcePixelFormat: sourcePixelFormat,
		pixelFormat:       encoderPixelFormat(f, cfg.Codec, cfg.ProResProfile, cfg.BitDepth),
		durations:         map[int64]time.Duration{},
	}
	logger.Debugf(ctx, "using encoder '%s' (family %s)", encoderName, f)
	return e, nil
}

func (e *Engine) setOptions(prop compressor.Property, value any, items types.DictionaryItems) {
	for _, item := range items {
		e.options = append(e.options, item)
		e.optionOwner[item.Key] = pendingOption{Property: prop, Value: value}
	}
}

func (e *Engine) SetProperty(
	ctx context.Context,
	prop compressor.Property,
	value any,
) (_err error) {
	logger.Tracef(ctx, "SetProperty(ctx, %s, %v)", prop, value)
	defer func() { logger.Tracef(ctx, "/SetProperty(ctx, %s, %v): %v", prop, value, _err) }()

	if e.opened {
		return fmt.Errorf("the engine is already opened")
	}

	switch prop {
	case compressor.PropertyMaxKeyFrameInterval:
		if e.Config.Codec == types.CodecProRes {
			return nil
		}
		e.keyFrameInterval = value.(uint32)
		return nil

	case compressor.PropertyMaxKeyFrameIntervalDuration:
		if e.Config.Codec == types.CodecProRes {
			return nil
		}
		e.keyFrameIntervalDur = value.(time.Duration)
		return nil

	case compressor.PropertyColorPrimaries:
		e.codecContext.SetColorPrimaries(astiav.ColorPrimaries(value.(types.ColorPrimaries)))
		return nil

	case compressor.PropertyYCbCrMatrix:
		e.codecContext.SetColorSpace(astiav.ColorSpace(value.(types.YCbCrMatrix)))
		return nil

	case compressor.PropertyTransferFunction:
		transfer := value.(compressor.Transfer)
		function := transfer.Function
		if function == types.TransferFunctionUseGamma {
			switch {
			case math.Abs(transfer.Gamma-2.2) < 0.01:
				function = types.TransferFunctionGamma22
			case math.Abs(transfer.Gamma-2.8) < 0.01:
				function = types.TransferFunctionGamma28
			default:
				return fmt.Errorf("%w: gamma %v has no transfer characteristic", compressor.ErrPropertyUnsupported, transfer.Gamma)
			}
		}
		e.codecContext.SetColorTransferCharacteristic(astiav.ColorTransferCharacteristic(function))
		return nil

	case compressor.PropertyAllowFrameReordering:
		if value.(bool) && e.Config.RealTime && e.Family.realTimeDisablesReordering() {
			return fmt.Errorf("%w: the real-time tuning of %s disables frame reordering", compressor.ErrPropertyUnsupported, e.EncoderName)
		}

	case compressor.PropertyOutputBitDepth:
		bitDepth := value.(uint8)
		if e.Config.Codec == types.CodecH264 && bitDepth == 10 && e.Family != familyX264 && e.Family != familyNVENC {
			return fmt.Errorf("%w: 10-bit H.264 is not supported by %s", compressor.ErrPropertyUnsupported, e.EncoderName)
		}
		return nil

	case compressor.PropertyICCProfile:
		// the profile is not an encoder input, the muxer stores it in the track
		icc := value.([]byte)
		if err := types.ValidateICCProfile(icc); err != nil {
			return fmt.Errorf("%w: %w", compressor.ErrPropertyUnsupported, err)
		}
		e.iccProfile = icc
		return nil
	}

	items, err := e.Family.options(prop, value)
	if err != nil {
		return err
	}
	e.setOptions(prop, value, items)
	return nil
}

func (e *Engine) gopSize() int {
	fps := e.Config.FrameRate.Float64()
	gop := int(e.keyFrameInterval)
	if e.keyFrameIntervalDur > 0 && fps > 0 {
		byDuration := int(math.Max(1, math.Floor(e.keyFrameIntervalDur.Seconds()*fps)))
		if gop == 0 || byDuration < gop {
			gop = byDuration
		}
	}
	return gop
}

func (e *Engine) Open(
	ctx context.Context,
) (_ret []*compressor.PropertyError, _err error) {
	logger.Debugf(ctx, "Open")
	defer func() { logger.Debugf(ctx, "/Open: %v %v", _ret, _err) }()

	if e.opened {
		return nil, fmt.Errorf("the engine is already opened")
	}

	cc := e.codecContext
	cc.SetWidth(int(e.Config.Width))
	cc.SetHeight(int(e.Config.Height))
	cc.SetPixelFormat(e.pixelFormat)
	if err := e.initHardware(ctx); err != nil {
		return nil, err
	}
	cc.SetTimeBase(engineTimeBase)
	cc.SetFramerate(astiav.NewRational(e.Config.FrameRate.Num, e.Config.FrameRate.Den))
	if gop := e.gopSize(); gop > 0 {
		cc.SetGopSize(gop)
	}
	cc.SetFlags(cc.Flags().Add(astiav.CodecContextFlagGlobalHeader))

	dict := astiav.NewDictionary()
	defer dict.Free()
	for _, opt := range e.options.Deduplicate() {
		if err := dict.Set(opt.Key, opt.Value, 0); err != nil {
			return nil, fmt.Errorf("unable to set option '%s' to '%s': %w", opt.Key, opt.Value, err)
		}
	}

	if err := cc.Open(e.codec, dict); err != nil {
		return nil, fmt.Errorf("unable to open encoder '%s': %w", e.EncoderName, err)
	}
	e.opened = true

	var ignored []*compressor.PropertyError
	flags := astiav.NewDictionaryFlags(astiav.DictionaryFlagIgnoreSuffix)
	for entry := dict.Get("", nil, flags); entry != nil; entry = dict.Get("", entry, flags) {
		owner, ok := e.optionOwner[entry.Key()]
		if !ok {
			owner = pendingOption{Property: compressor.PropertyCustomOption, Value: entry.Key()}
		}
		ignored = append(ignored, &compressor.PropertyError{
			Property: owner.Property,
			Value:    owner.Value,
			Err:      fmt.Errorf("%w: option '%s' is not recognized by '%s'", compressor.ErrPropertyUnsupported, entry.Key(), e.EncoderName),
		})
	}

	e.packet = astiav.AllocPacket()
	e.sourceFrame = astiav.AllocFrame()
	e.sourceFrame.SetWidth(int(e.Config.Width))
	e.sourceFrame.SetHeight(int(e.Config.Height))
	e.sourceFrame.SetPixelFormat(e.sourcePixelFormat)
	if err := e.sourceFrame.AllocBuffer(1); err != nil {
		return ignored, fmt.Errorf("unable to allocate the frame buffer: %w", err)
	}

	if e.sourcePixelFormat != e.pixelFormat {
		scaler, err := astiav.CreateSoftwareScaleContext(
			int(e.Config.Width), int(e.Config.Height), e.sourcePixelFormat,
			int(e.Config.Width), int(e.Config.Height), e.pixelFormat,
			astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear),
		)
		if err != nil {
			return ignored, fmt.Errorf("unable to create a %s->%s converter: %w", e.sourcePixelFormat, e.pixelFormat, err)
		}
		e.scaler = scaler
		e.scaledFrame = astiav.AllocFrame()
		e.scaledFrame.SetWidth(int(e.Config.Width))
		e.scaledFrame.SetHeight(int(e.Config.Height))
		e.scaledFrame.SetPixelFormat(e.pixelFormat)
		if err := e.scaledFrame.AllocBuffer(1); err != nil {
			return ignored, fmt.Errorf("unable to allocate the converted frame buffer: %w", err)
		}
	}
	return ignored, nil
}

func (e *Engine) SendFrame(
	ctx context.Context,
	frame *types.VideoFrame,
	pts time.Duration,
	duration time.Duration,
	props types.FrameProperties,
) (_err error) {
	logger.Tracef(ctx, "SendFrame(ctx, %v, %v, %#+v)", pts, duration, props)
	defer func() { logger.Tracef(ctx, "/SendFrame(ctx, %v, %v, %#+v): %v", pts, duration, props, _err) }()

	if !e.opened || e.closed {
		return compressor.Fatal(fmt.Errorf("the engine is not opened"))
	}
	if frame.Width != e.Config.Width || frame.Height != e.Config.Height || frame.PixelFormat != e.Config.SourcePixelFormat {
		return fmt.Errorf("%w: expected %dx%d %s, got %dx%d %s", compressor.ErrInvalidFrame,
			e.Config.Width, e.Config.Height, e.Config.SourcePixelFormat,
			frame.Width, frame.Height, frame.PixelFormat,
		)
	}

	if err := e.sourceFrame.MakeWritable(); err != nil {
		return compressor.Fatal(fmt.Errorf("unable to make the frame writable: %w", err))
	}
	if err := e.sourceFrame.Data().SetBytes(frame.Data, 1); err != nil {
		return fmt.Errorf("%w: unable to copy the frame data: %w", compressor.ErrInvalidFrame, err)
	}

	toSend := e.sourceFrame
	if e.scaler != nil {
		if err := e.scaledFrame.MakeWritable(); err != nil {
			return compressor.Fatal(fmt.Errorf("unable to make the converted frame writable: %w", err))
		}
		if err := e.scaler.ScaleFrame(e.sourceFrame, e.scaledFrame); err != nil {
			return fmt.Errorf("unable to convert the frame: %w", err)
		}
		toSend = e.scaledFrame
	}
	if e.hardwareFrames != nil {
		if err := e.upload(toSend); err != nil {
			return err
		}
		toSend = e.hardwareFrame
	}

	ts := astiav.RescaleQ(int64(pts), nanosecondTimeBase, engineTimeBase)
	toSend.SetPts(ts)
	if props.ForceKeyFrame {
		toSend.SetPictureType(astiav.PictureTypeI)
	} else {
		toSend.SetPictureType(astiav.PictureTypeNone)
	}
	e.durations[ts] = duration

	if err := e.codecContext.SendFrame(toSend); err != nil {
		delete(e.durations, ts)
		if errors.Is(err, astiav.ErrEinval) || errors.Is(err, astiav.ErrEagain) {
			return fmt.Errorf("unable to send the frame at %v: %w", pts, err)
		}
		return compressor.Fatal(fmt.Errorf("unable to send the frame at %v: %w", pts, err))
	}
	return nil
}

func (e *Engine) ReceiveSample(
	ctx context.Context,
) (_ret *types.Sample, _err error) {
	if !e.opened || e.closed {
		return nil, io.EOF
	}

	err := e.codecContext.ReceivePacket(e.packet)
	switch {
	case err == nil:
	case errors.Is(err, astiav.ErrEagain):
		return nil, compressor.ErrNoOutput
	case errors.Is(err, astiav.ErrEof):
		return nil, io.EOF
	default:
		return nil, compressor.Fatal(fmt.Errorf("unable to receive a packet: %w", err))
	}
	defer e.packet.Unref()

	pkt := e.packet
	duration, ok := e.durations[pkt.Pts()]
	if ok {
		delete(e.durations, pkt.Pts())
	} else if pkt.Duration() > 0 {
		duration = time.Duration(astiav.RescaleQ(pkt.Duration(), engineTimeBase, nanosecondTimeBase))
	} else {
		duration = e.Config.FrameRate.FrameDuration()
	}

	sample := &types.Sample{
		Kind:     types.TrackKindVideo,
		PTS:      time.Duration(astiav.RescaleQ(pkt.Pts(), engineTimeBase, nanosecondTimeBase)),
		DTS:      time.Duration(astiav.RescaleQ(pkt.Dts(), engineTimeBase, nanosecondTimeBase)),
		Duration: duration,
		Data:     append([]byte(nil), pkt.Data()...),
		KeyFrame: pkt.Flags().Has(astiav.PacketFlagKey),
	}
	if !e.formatSent {
		e.formatSent = true
		sample.Format = &types.TrackFormat{
			Kind:        types.TrackKindVideo,
			CodecName:   e.Config.Codec.String(),
			ExtraData:   append([]byte(nil), e.codecContext.ExtraData()...),
			BitRate:     uint64(max(e.codecContext.BitRate(), 0)),
			PixelFormat: e.pixelFormat.String(),

			ColorPrimaries:   types.ColorPrimaries(e.codecContext.ColorPrimaries()),
			TransferFunction: types.TransferFunction(e.codecContext.ColorTransferCharacteristic()),
			YCbCrMatrix:      types.YCbCrMatrix(e.codecContext.ColorSpace()),
			ICCProfile:       e.iccProfile,
		}
	}
	return sample, nil
}

func (e *Engine) Flush(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Flush")
	defer func() { logger.Debugf(ctx, "/Flush: %v", _err) }()

	if !e.opened || e.closed {
		return nil
	}
	if err := e.codecContext.SendFrame(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
		return fmt.Errorf("unable to flush the encoder: %w", err)
	}
	return nil
}

func (e *Engine) Close(ctx context.Context) error {
	logger.Debugf(ctx, "Close")
	if e.closed {
		return nil
	}
	e.closed = true
	if e.scaler != nil {
		e.scaler.Free()
	}
	for _, f := range []*astiav.Frame{e.sourceFrame, e.scaledFrame, e.hardwareFrame} {
		if f != nil {
			f.Free()
		}
	}
	if e.packet != nil {
		e.packet.Free()
	}
	e.codecContext.Free()
	if e.hardwareFrames != nil {
		e.hardwareFrames.Free()
	}
	if e.hardwareDevice != nil {
		e.hardwareDevice.Free()
	}
	return nil
}

// initHardware opens the hardware device and, if the encoder accepts only
// device frames, the pool of frames the raw frames are uploaded to.
func (e *Engine) initHardware(ctx context.Context) (_err error) {
	deviceType := e.Config.HardwareDeviceType
	if deviceType == types.HardwareDeviceTypeNone {
		deviceType = e.Family.hardwareDeviceType()
	}
	if deviceType == types.HardwareDeviceTypeNone {
		return nil
	}
	logger.Debugf(ctx, "initHardware(ctx): %s", deviceType)
	defer func() { logger.Debugf(ctx, "/initHardware(ctx): %s: %v", deviceType, _err) }()

	device, err := astiav.CreateHardwareDeviceContext(
		astiav.HardwareDeviceType(deviceType),
		string(e.Config.HardwareDeviceName),
		nil,
		0,
	)
	if err != nil {
		return fmt.Errorf("unable to open the %s device '%s': %w", deviceType, e.Config.HardwareDeviceName, err)
	}
	e.hardwareDevice = device

	hwPixelFormat, ok := e.Family.hardwarePixelFormat()
	if !ok {
		e.codecContext.SetHardwareDeviceContext(device)
		return nil
	}

	frames := astiav.AllocHardwareFramesContext(device)
	if frames == nil {
		return fmt.Errorf("unable to allocate a %s frames context", deviceType)
	}
	e.hardwareFrames = frames
	frames.SetHardwarePixelFormat(hwPixelFormat)
	frames.SetSoftwarePixelFormat(e.pixelFormat)
	frames.SetWidth(int(e.Config.Width))
	frames.SetHeight(int(e.Config.Height))
	frames.SetInitialPoolSize(hardwareFramePoolSize)
	if err := frames.Initialize(); err != nil {
		return fmt.Errorf("unable to initialize the %s frames context: %w", deviceType, err)
	}
	e.codecContext.SetHardwareFramesContext(frames)
	e.codecContext.SetPixelFormat(hwPixelFormat)
	e.hardwareFrame = astiav.AllocFrame()
	return nil
}

const hardwareFramePoolSize = 20

// upload copies a frame in the system memory into a fresh device frame;
// the previous device frame may still be referenced by the encoder.
func (e *Engine) upload(frame *astiav.Frame) error {
	e.hardwareFrame.Unref()
	if err := e.hardwareFrame.AllocHardwareBuffer(e.hardwareFrames); err != nil {
		return fmt.Errorf("unable to allocate a device frame: %w", err)
	}
	if err := frame.TransferHardwareData(e.hardwareFrame); err != nil {
		return fmt.Errorf("unable to upload the frame to the device: %w", err)
	}
	return nil
}
