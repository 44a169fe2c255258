package process

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"qr-spider/pkg/decode"
	"qr-spider/pkg/metrics"
	"qr-spider/pkg/models"
	"qr-spider/pkg/parse"
	"qr-spider/pkg/storage"
	"qr-spider/pkg/utils"
)

// ImageSource downloads image bytes. Satisfied by *fetch.ImageDownloader.
type ImageSource interface {
	Download(ctx context.Context, imageURL, referer string) ([]byte, error)
}

// Decoder runs the decode chain on raw image bytes. Satisfied by *decode.Pipeline.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (models.DecodeResult, error)
}

// ImageProcessor downloads and decodes the image candidates of one page
// with a bounded worker pool
type ImageProcessor struct {
	source  ImageSource
	decoder Decoder
	cache   storage.DecodeCache // Optional
	workers int
	log     *logrus.Entry
}

// NewImageProcessor creates an ImageProcessor. cache may be nil.
func NewImageProcessor(source ImageSource, decoder Decoder, cache storage.DecodeCache, workers int, log *logrus.Entry) *ImageProcessor {
	if workers <= 0 {
		workers = 1
	}
	return &ImageProcessor{
		source:  source,
		decoder: decoder,
		cache:   cache,
		workers: workers,
		log:     log,
	}
}

// Process decodes every candidate and returns the findings in candidate
// order, regardless of which download finishes first. Per-image failures
// are logged and skipped. Only cancellation of ctx cuts the page short; the
// findings completed so far are still returned.
func (ip *ImageProcessor) Process(ctx context.Context, pageURL string, depth int, candidates []models.ImageCandidate) []models.QrFinding {
	if len(candidates) == 0 {
		return nil
	}
	pageLog := ip.log.WithFields(logrus.Fields{"page": pageURL, "images": len(candidates)})
	pageLog.Debug("Processing image candidates")

	slots := make([]*models.QrFinding, len(candidates))
	var g errgroup.Group
	g.SetLimit(ip.workers)

	for i, cand := range candidates {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			slots[i] = ip.processOne(ctx, pageURL, depth, cand)
			return nil
		})
	}
	_ = g.Wait()

	findings := make([]models.QrFinding, 0)
	for _, f := range slots {
		if f != nil {
			findings = append(findings, *f)
		}
	}
	pageLog.Debugf("Image processing complete: %d QR code(s)", len(findings))
	return findings
}

// processOne handles a single candidate. Returns nil when no QR code was
// decoded.
func (ip *ImageProcessor) processOne(ctx context.Context, pageURL string, depth int, cand models.ImageCandidate) (finding *models.QrFinding) {
	imgLog := ip.log.WithFields(logrus.Fields{"img_url": shortenForLog(cand.SourceURL), "likely_qr": cand.LikelyQR})

	defer func() {
		if r := recover(); r != nil {
			imgLog.WithFields(logrus.Fields{"panic_info": r, "stack_trace": string(debug.Stack())}).Error("PANIC Recovered in image task")
			finding = nil
		}
	}()

	if ctx.Err() != nil {
		return nil
	}

	urlKey := ""
	if !isDataURI(cand.SourceURL) {
		if norm, _, err := parse.ParseAndNormalize(cand.SourceURL); err == nil {
			urlKey = storage.URLKey(norm)
		}
	}
	if res, ok := ip.lookup(urlKey, imgLog); ok {
		return ip.toFinding(pageURL, depth, cand, res)
	}

	data, err := ip.source.Download(ctx, cand.SourceURL, pageURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		metrics.ImagesDownloaded.WithLabelValues("failure", utils.CategorizeError(err)).Inc()
		ip.logFailure(imgLog, cand, "download", err)
		return nil
	}
	metrics.ImagesDownloaded.WithLabelValues("success", "").Inc()

	contentKey := storage.ContentKey(utils.CalculateBytesSHA256(data))
	if res, ok := ip.lookup(contentKey, imgLog); ok {
		ip.store(urlKey, res, imgLog)
		return ip.toFinding(pageURL, depth, cand, res)
	}

	res, err := ip.decoder.Decode(ctx, data)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		ip.logFailure(imgLog, cand, "decode", err)
		res = models.DecodeResult{}
	}
	ip.store(urlKey, res, imgLog)
	ip.store(contentKey, res, imgLog)

	return ip.toFinding(pageURL, depth, cand, res)
}

func (ip *ImageProcessor) toFinding(pageURL string, depth int, cand models.ImageCandidate, res models.DecodeResult) *models.QrFinding {
	if !res.Succeeded || res.Payload == "" {
		return nil
	}
	variant := decode.IsWechatVariant(res.Payload)
	metrics.QRCodesFound.WithLabelValues(metrics.VariantLabel(variant)).Inc()
	return &models.QrFinding{
		SourceURL:       pageURL,
		ImageURL:        cand.SourceURL,
		Payload:         res.Payload,
		IsWechatVariant: variant,
		Depth:           depth,
		Strategy:        res.Strategy,
	}
}

// lookup consults the cache. ok is true for both positive and negative hits.
func (ip *ImageProcessor) lookup(key string, imgLog *logrus.Entry) (models.DecodeResult, bool) {
	if ip.cache == nil || key == "" {
		return models.DecodeResult{}, false
	}
	res, found, err := ip.cache.Lookup(key)
	switch {
	case err != nil:
		metrics.DecodeCacheLookups.WithLabelValues("error").Inc()
		imgLog.Warnf("Decode cache lookup failed: %v", err)
		return models.DecodeResult{}, false
	case !found:
		metrics.DecodeCacheLookups.WithLabelValues("miss").Inc()
		return models.DecodeResult{}, false
	case res.Succeeded:
		metrics.DecodeCacheLookups.WithLabelValues("hit").Inc()
	default:
		metrics.DecodeCacheLookups.WithLabelValues("negative_hit").Inc()
	}
	imgLog.Debug("Decode cache hit")
	return res, true
}

func (ip *ImageProcessor) store(key string, res models.DecodeResult, imgLog *logrus.Entry) {
	if ip.cache == nil || key == "" {
		return
	}
	if err := ip.cache.Store(key, res); err != nil {
		imgLog.Warnf("Decode cache store failed: %v", err)
	}
}

// logFailure is louder for images that looked like QR codes
func (ip *ImageProcessor) logFailure(imgLog *logrus.Entry, cand models.ImageCandidate, stage string, err error) {
	entry := imgLog.WithFields(logrus.Fields{"stage": stage, "error_type": utils.CategorizeError(err)})
	if cand.LikelyQR {
		entry.Infof("Likely QR image could not be read: %v", err)
		return
	}
	entry.Debugf("Image skipped: %v", err)
}

func isDataURI(s string) bool {
	return strings.HasPrefix(strings.ToLower(s), "data:")
}

// shortenForLog keeps inline data URIs from flooding the log
func shortenForLog(s string) string {
	if isDataURI(s) && len(s) > 64 {
		return fmt.Sprintf("%s...(%d bytes)", s[:48], len(s))
	}
	return s
}
