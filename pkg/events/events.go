// Package events carries crawl progress from the crawler to its consumers.
package events

import (
	"sync"

	"qr-spider/pkg/models"
)

// Sink receives crawl events in emission order. Emit must not retain the
// event's Finding pointer past the call unless it copies it.
type Sink interface {
	Emit(ev models.Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ev models.Event)

func (f SinkFunc) Emit(ev models.Event) { f(ev) }

// Discard drops every event
var Discard Sink = SinkFunc(func(models.Event) {})

// Multi fans each event out to all sinks in order
type Multi []Sink

func (m Multi) Emit(ev models.Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// Collector records events in memory. Safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	events []models.Event
}

func (c *Collector) Emit(ev models.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

// Events returns a copy of everything collected so far
func (c *Collector) Events() []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Event, len(c.events))
	copy(out, c.events)
	return out
}

// Types returns the event types in order
func (c *Collector) Types() []models.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.EventType, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Type
	}
	return out
}

// OfType returns the collected events of type t
func (c *Collector) OfType(t models.EventType) []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
