package ffrecord

import (
	"time"

	"github.com/kelindar/event"
	"github.com/xaionaro-go/ffrecord/pkg/compressor"
	"github.com/xaionaro-go/ffrecord/pkg/container"
	"github.com/xaionaro-go/ffrecord/pkg/ffrecord/types"
)

const (
	EventTypePropertyWarning uint32 = iota + 1
	EventTypeFrameDropped
	EventTypeRecordingFailed
	EventTypeRecordingFinished
)

type Event interface {
	Type() uint32
}

// PropertyWarningEvent is published for every property the engine
// could not honor.
type PropertyWarningEvent struct {
	Property compressor.Property
	Value    any
	Err      error
}

func (PropertyWarningEvent) Type() uint32 { return EventTypePropertyWarning }

// FrameDroppedEvent is published for every frame lost without stopping
// the recording.
type FrameDroppedEvent struct {
	Kind types.TrackKind
	PTS  time.Duration
	Err  error
}

func (FrameDroppedEvent) Type() uint32 { return EventTypeFrameDropped }

type RecordingFailedEvent struct {
	Path string
	Err  error
}

func (RecordingFailedEvent) Type() uint32 { return EventTypeRecordingFailed }

type RecordingFinishedEvent struct {
	Path   string
	Tracks map[types.TrackKind]container.TrackStats
	// Err is nil if the file is complete.
	Err error
}

func (RecordingFinishedEvent) Type() uint32 { return EventTypeRecordingFinished }

// Events delivers pipeline events to subscribers asynchronously.
type Events struct {
	dispatcher *event.Dispatcher
}

func NewEvents() *Events {
	return &Events{
		dispatcher: event.NewDispatcher(),
	}
}

// Subscribe registers a handler for the events of type E and returns
// the function to unsubscribe.
func Subscribe[E Event](events *Events, handler func(E)) func() {
	return event.Subscribe(events.dispatcher, handler)
}

func publish[E Event](events *Events, ev E) {
	event.Publish(events.dispatcher, ev)
}
