package events

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"qr-spider/pkg/models"
)

// DefaultStreamBuffer is the number of events a Stream holds before Emit
// blocks the producer
const DefaultStreamBuffer = 64

// Stream decouples the crawler from a slow consumer such as an HTTP client.
// Events go through a bounded buffer to a single consumer goroutine, so
// order is preserved and the producer is slowed down instead of memory
// growing without bound.
//
// If the consumer returns an error (client went away) the stream calls
// onFail once and drops all later events.
type Stream struct {
	ch      chan models.Event
	ctx     context.Context
	consume func(models.Event) error
	onFail  func(error)
	log     *logrus.Entry

	closeOnce sync.Once
	done      chan struct{}

	mu  sync.Mutex
	err error
}

// NewStream starts the consumer goroutine. onFail may be nil.
func NewStream(ctx context.Context, buffer int, consume func(models.Event) error, onFail func(error), log *logrus.Entry) *Stream {
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}
	s := &Stream{
		ch:      make(chan models.Event, buffer),
		ctx:     ctx,
		consume: consume,
		onFail:  onFail,
		log:     log,
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Stream) run() {
	defer close(s.done)
	for ev := range s.ch {
		if s.Err() != nil {
			continue // drain
		}
		if err := s.consume(ev); err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			s.log.Debugf("Event consumer failed, dropping remaining events: %v", err)
			if s.onFail != nil {
				s.onFail(err)
			}
		}
	}
}

// Emit queues ev. Blocks while the buffer is full; gives up when the
// stream's context is done or the consumer has failed.
func (s *Stream) Emit(ev models.Event) {
	if s.Err() != nil {
		return
	}
	select {
	case s.ch <- ev:
	case <-s.ctx.Done():
		s.log.Debugf("Stream context done, dropping %s event", ev.Type)
	}
}

// Close stops accepting events and waits until the queued ones have been
// consumed. Emit must not be called concurrently with or after Close.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() { close(s.ch) })
	<-s.done
	return s.Err()
}

// Err returns the consumer error, if any
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
