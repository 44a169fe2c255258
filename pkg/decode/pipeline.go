package decode

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"qr-spider/pkg/metrics"
	"qr-spider/pkg/models"
	"qr-spider/pkg/utils"
)

// Pipeline runs an ordered list of strategies and stops at the first that
// yields a non-empty payload. A Pipeline holds no per-call state and is safe
// for concurrent use.
type Pipeline struct {
	strategies []Strategy
	maxPixels  int64
	log        *logrus.Entry
}

// NewPipeline creates a pipeline. With no strategies, DefaultStrategies is used.
func NewPipeline(log *logrus.Entry, strategies ...Strategy) *Pipeline {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Pipeline{
		strategies: strategies,
		maxPixels:  DefaultMaxPixels,
		log:        log.WithField("component", "decode_pipeline"),
	}
}

// WithMaxPixels sets the width*height ceiling for decoded images and
// returns p. Values <= 0 keep DefaultMaxPixels.
func (p *Pipeline) WithMaxPixels(n int64) *Pipeline {
	if n > 0 {
		p.maxPixels = n
	}
	return p
}

// Strategies returns the strategy names in the order they are tried.
func (p *Pipeline) Strategies() []string {
	names := make([]string, len(p.strategies))
	for i, s := range p.strategies {
		names[i] = s.Name()
	}
	return names
}

// Decode tries each strategy in order. An empty buffer fails with
// utils.ErrEmptyImage and an image declaring more pixels than the ceiling
// fails with utils.ErrResponseTooLarge, both before any strategy runs. If
// every strategy fails the error wraps utils.ErrDecodeExhausted together
// with each strategy error.
func (p *Pipeline) Decode(ctx context.Context, data []byte) (models.DecodeResult, error) {
	if len(data) == 0 {
		return models.DecodeResult{}, utils.ErrEmptyImage
	}
	if err := CheckDimensions(data, p.maxPixels); err != nil {
		p.log.Debugf("Skipping decode: %v", err)
		return models.DecodeResult{}, err
	}

	frame := &Frame{Data: data, MaxPixels: p.maxPixels}
	var errs []error
	for _, s := range p.strategies {
		if err := ctx.Err(); err != nil {
			return models.DecodeResult{}, err
		}

		payload, err := p.attempt(s, frame)
		if err == nil && payload != "" {
			metrics.DecodeAttempts.WithLabelValues(s.Name(), "success").Inc()
			return models.DecodeResult{Payload: payload, Strategy: s.Name(), Succeeded: true}, nil
		}
		if err == nil {
			err = errNoSymbol
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	return models.DecodeResult{}, fmt.Errorf("%w: %w", utils.ErrDecodeExhausted, errors.Join(errs...))
}

// attempt invokes one strategy, converting a panic into an ordinary failure
// so the next strategy still runs.
func (p *Pipeline) attempt(s Strategy, f *Frame) (payload string, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("strategy", s.Name()).Debugf("PANIC in decode strategy: %v\n%s", r, string(debug.Stack()))
			metrics.DecodeAttempts.WithLabelValues(s.Name(), "panic").Inc()
			payload = ""
			err = fmt.Errorf("strategy panicked: %v", r)
		}
	}()

	payload, err = s.TryDecode(f)
	if err != nil {
		metrics.DecodeAttempts.WithLabelValues(s.Name(), "failure").Inc()
	}
	return payload, err
}
