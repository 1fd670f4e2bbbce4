package libav

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/ffrecord/pkg/compressor"
	"github.com/xaionaro-go/ffrecord/pkg/ffrecord/types"
)

// EngineFactory creates libav-backed compression engines.
type EngineFactory struct{}

var _ compressor.EngineFactory = (*EngineFactory)(nil)

func NewEngineFactory() *EngineFactory {
	return &EngineFactory{}
}

func (EngineFactory) NewEngine(
	ctx context.Context,
	cfg types.EncoderConfig,
) (_ret compressor.Engine, _err error) {
	logger.Debugf(ctx, "NewEngine(ctx, %s '%s')", cfg.Codec, cfg.EncoderName)
	defer func() { logger.Debugf(ctx, "/NewEngine(ctx, %s '%s'): %v", cfg.Codec, cfg.EncoderName, _err) }()

	encoderName, codec, err := FindEncoder(cfg.Codec, cfg.EncoderName)
	if err != nil {
		return nil, err
	}
	return newEngine(ctx, cfg, encoderName, codec)
}

// FindEncoder returns the encoder with the given name, or the first
// available one for the codec if the name is empty.
func FindEncoder(
	codec types.Codec,
	encoderName string,
) (string, *astiav.Codec, error) {
	if encoderName != "" {
		c := astiav.FindEncoderByName(encoderName)
		if c == nil {
			return "", nil, fmt.Errorf("encoder '%s' is not found", encoderName)
		}
		return encoderName, c, nil
	}

	candidates, ok := autoEncoders[codec]
	if !ok {
		return "", nil, fmt.Errorf("no encoders are known for codec %s", codec)
	}
	for _, name := range candidates {
		if c := astiav.FindEncoderByName(name); c != nil {
			return name, c, nil
		}
	}
	return "", nil, fmt.Errorf("none of encoders %v is available for codec %s", candidates, codec)
}
