// Package events delivers named notifications to clients. Delivery is
// fire-and-forget and at most once: a sink never blocks the producer.
package events

import (
	"sync/atomic"

	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/rs/zerolog"
)

// Sink receives named events.
type Sink interface {
	Emit(name string, payload interface{})
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Emit(string, interface{}) {}

// ChannelSink buffers events on a channel and drops them when the buffer is full.
type ChannelSink struct {
	ch      chan models.Event
	dropped atomic.Int64
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan models.Event, buffer)}
}

func (s *ChannelSink) Emit(name string, payload interface{}) {
	select {
	case s.ch <- models.Event{Name: name, Payload: payload}:
	default:
		s.dropped.Add(1)
	}
}

// Events returns the receive side of the buffer.
func (s *ChannelSink) Events() <-chan models.Event {
	return s.ch
}

// Dropped reports how many events were discarded.
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

// Drain returns every buffered event without blocking.
func (s *ChannelSink) Drain() []models.Event {
	var out []models.Event
	for {
		select {
		case e := <-s.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

// LogSink writes every event to the logger at debug level.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Emit(name string, payload interface{}) {
	s.Logger.Debug().Str("event", name).Interface("payload", payload).Msg("Event emitted")
}

// MultiSink fans an event out to every member in order.
type MultiSink []Sink

func (m MultiSink) Emit(name string, payload interface{}) {
	for _, s := range m {
		s.Emit(name, payload)
	}
}
