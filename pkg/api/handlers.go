package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"qr-spider/pkg/config"
	"qr-spider/pkg/parse"
	"qr-spider/pkg/report"
	"qr-spider/pkg/utils"
)

// aggregateCrawlDefaults keeps the blocking endpoint short; callers that want
// more pages use the stream.
var aggregateCrawlDefaults = config.CrawlConfig{MaxDepth: 2, MaxPages: 20, Delay: time.Second}

type scanRequest struct {
	URLs []string `json:"urls"`
}

type spiderRequest struct {
	BaseURL  string `json:"baseUrl"`
	MaxDepth *int   `json:"maxDepth,omitempty"`
	MaxPages *int   `json:"maxPages,omitempty"`
	Delay    *int   `json:"delay,omitempty"` // Milliseconds
}

// crawlConfig applies defaults to the fields the caller left out
func (req spiderRequest) crawlConfig(defaults config.CrawlConfig) config.CrawlConfig {
	cfg := defaults
	if req.MaxDepth != nil {
		cfg.MaxDepth = *req.MaxDepth
	}
	if req.MaxPages != nil {
		cfg.MaxPages = *req.MaxPages
	}
	if req.Delay != nil {
		cfg.Delay = time.Duration(*req.Delay) * time.Millisecond
	}
	return cfg
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondWithJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleScanQR(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.URLs == nil {
		s.respondWithError(w, http.StatusBadRequest, "urls must be an array")
		return
	}
	if err := config.ValidateBatchSize(len(req.URLs)); err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := s.scanner.ScanPages(r.Context(), req.URLs)
	if err != nil {
		s.respondWithFailure(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, report.NewBatchReport(results))
}

func (s *Server) handleSpiderScan(w http.ResponseWriter, r *http.Request) {
	seed, cfg, ok := s.parseSpiderRequest(w, r, aggregateCrawlDefaults)
	if !ok {
		return
	}

	result, err := s.crawler.Crawl(r.Context(), seed, cfg, nil)
	if err != nil {
		s.respondWithFailure(w, r, err)
		return
	}
	s.log.Infof("Crawl of %s done: %d QR code(s), %d WeChat", seed, len(result.Findings), result.VariantCount)
	s.respondWithJSON(w, http.StatusOK, report.NewCrawlReport(result))
}

// parseSpiderRequest decodes and validates a crawl request. Everything that
// would make the crawl fail before starting is rejected here with 400, so
// the streaming endpoint never opens a stream for a doomed run.
func (s *Server) parseSpiderRequest(w http.ResponseWriter, r *http.Request, defaults config.CrawlConfig) (string, config.CrawlConfig, bool) {
	var req spiderRequest
	if !s.decodeBody(w, r, &req) {
		return "", config.CrawlConfig{}, false
	}
	if req.BaseURL == "" {
		s.respondWithError(w, http.StatusBadRequest, "baseUrl is required")
		return "", config.CrawlConfig{}, false
	}
	if _, err := parse.ParseSeed(req.BaseURL); err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return "", config.CrawlConfig{}, false
	}
	cfg := req.crawlConfig(defaults)
	if err := cfg.Validate(); err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return "", config.CrawlConfig{}, false
	}
	return req.BaseURL, cfg, true
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// respondWithFailure maps an operation error to a status code
func (s *Server) respondWithFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, utils.ErrConfigValidation), errors.Is(err, utils.ErrInvalidSeed):
		s.respondWithError(w, http.StatusBadRequest, err.Error())
	case r.Context().Err() != nil:
		// client is gone, nobody reads the body
		s.log.Debugf("Request abandoned by client: %v", err)
	default:
		s.log.WithField("error_type", utils.CategorizeError(err)).Errorf("Request failed: %v", err)
		s.respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, errorResponse{Error: message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.log.Errorf("Failed to encode response: %v", err)
		code = http.StatusInternalServerError
		response = []byte(`{"success":false,"error":"Internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

