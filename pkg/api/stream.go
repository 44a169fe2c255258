package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"qr-spider/pkg/events"
	"qr-spider/pkg/models"
)

// handleSpiderScanStream runs a crawl and pushes every event to the client
// as a server-sent event. The stream opens with a status event and, unless
// the client went away, ends with a complete event after the crawler's
// summary. A write failure cancels the crawl.
func (s *Server) handleSpiderScanStream(w http.ResponseWriter, r *http.Request) {
	seed, cfg, ok := s.parseSpiderRequest(w, r, s.crawlDefaults)
	if !ok {
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	streamLog := s.log.WithFields(logrus.Fields{"seed": seed, "stream": true})
	rc := http.NewResponseController(w)
	push := func(ev models.Event) error {
		if err := writeSSE(w, ev); err != nil {
			return err
		}
		return rc.Flush()
	}
	stream := events.NewStream(ctx, events.DefaultStreamBuffer, push, func(err error) {
		streamLog.Infof("Client stream failed, cancelling crawl: %v", err)
		cancel()
	}, streamLog)

	stream.Emit(models.Event{Type: models.EventStatus, Message: "crawl started"})

	result, err := s.crawler.Crawl(ctx, seed, cfg, stream)
	switch {
	case ctx.Err() != nil:
		streamLog.Info("Stream closed before the crawl finished")
	case err != nil:
		stream.Emit(models.Event{Type: models.EventError, Message: "crawl failed", Error: err.Error()})
	default:
		stream.Emit(models.Event{
			Type:         models.EventComplete,
			Message:      "crawl completed",
			TotalPages:   result.TotalPages,
			TotalQRCodes: len(result.Findings),
			VariantCount: result.VariantCount,
		})
	}

	if err := stream.Close(); err != nil {
		streamLog.Debugf("Stream ended with consumer error: %v", err)
	}
}

// writeSSE writes ev as one "data:" frame
func writeSSE(w io.Writer, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
