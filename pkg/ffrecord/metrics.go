package ffrecord

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	framesSubmitted  prometheus.Counter
	framesFailed     prometheus.Counter
	samplesWritten   *prometheus.CounterVec
	bytesWritten     *prometheus.CounterVec
	propertyWarnings prometheus.Counter
}

func newMetrics(registerer prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		framesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ffrecord_video_frames_submitted_total",
			Help: "Raw video frames accepted for compression",
		}),
		framesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ffrecord_video_frames_failed_total",
			Help: "Video frames lost without stopping the recording",
		}),
		samplesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ffrecord_samples_written_total",
			Help: "Samples written into the container",
		}, []string{"track"}),
		bytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ffrecord_bytes_written_total",
			Help: "Sample payload bytes written into the container",
		}, []string{"track"}),
		propertyWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ffrecord_property_warnings_total",
			Help: "Compression properties the engine did not honor",
		}),
	}
	if registerer == nil {
		return m, nil
	}

	var err error
	m.framesSubmitted, err = register(registerer, m.framesSubmitted)
	if err != nil {
		return nil, err
	}
	m.framesFailed, err = register(registerer, m.framesFailed)
	if err != nil {
		return nil, err
	}
	m.samplesWritten, err = register(registerer, m.samplesWritten)
	if err != nil {
		return nil, err
	}
	m.bytesWritten, err = register(registerer, m.bytesWritten)
	if err != nil {
		return nil, err
	}
	m.propertyWarnings, err = register(registerer, m.propertyWarnings)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// register reuses the already registered collector, so consecutive
// recordings keep counting into the same series.
func register[T prometheus.Collector](registerer prometheus.Registerer, c T) (T, error) {
	err := registerer.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return c, fmt.Errorf("unable to register a metric: %w", err)
}
