package testsource

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	audio "github.com/xaionaro-go/audio/pkg/audio/types"
)

// Tone is a sine wave rendered as interleaved signed 16-bit little-endian PCM.
type Tone struct {
	SampleRate audio.SampleRate
	Channels   uint8
	Frequency  float64
	Amplitude  float64
}

func NewTone(sampleRate audio.SampleRate, channels uint8, frequency float64) (*Tone, error) {
	if sampleRate == 0 || channels == 0 {
		return nil, fmt.Errorf("invalid audio format: %d Hz, %d channels", sampleRate, channels)
	}
	return &Tone{
		SampleRate: sampleRate,
		Channels:   channels,
		Frequency:  frequency,
		Amplitude:  0.25,
	}, nil
}

// SampleIndex returns the index of the sample at the given timestamp.
func (t *Tone) SampleIndex(ts time.Duration) int64 {
	return int64(ts) * int64(t.SampleRate) / int64(time.Second)
}

// Buffer renders the samples within [start, start+duration).
func (t *Tone) Buffer(start, duration time.Duration) []byte {
	first := t.SampleIndex(start)
	count := t.SampleIndex(start+duration) - first
	if count <= 0 {
		return nil
	}

	buf := make([]byte, int(count)*int(t.Channels)*2)
	for i := int64(0); i < count; i++ {
		phase := 2 * math.Pi * t.Frequency * float64(first+i) / float64(t.SampleRate)
		value := int16(math.Round(t.Amplitude * math.MaxInt16 * math.Sin(phase)))
		for ch := 0; ch < int(t.Channels); ch++ {
			off := (int(i)*int(t.Channels) + ch) * 2
			binary.LittleEndian.PutUint16(buf[off:], uint16(value))
		}
	}
	return buf
}
