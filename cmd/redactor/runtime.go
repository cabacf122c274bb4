package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"transcript-pii-redactor/internal/audit"
	"transcript-pii-redactor/internal/cache"
	"transcript-pii-redactor/internal/config"
	"transcript-pii-redactor/internal/detect/ollama"
	"transcript-pii-redactor/internal/detect/presidio"
	"transcript-pii-redactor/internal/logger"
	"transcript-pii-redactor/internal/metrics"
	"transcript-pii-redactor/internal/pii"
)

// runtime is everything one command needs to redact documents.
type runtime struct {
	cfg     *config.Config
	engine  *pii.Engine
	metrics *metrics.Metrics
	cache   *cache.SpanCache
	audit   *audit.Log
	backend string
	log     *logger.Logger

	// residual recognizers are compiled once and shared by every document.
	residual []pii.Recognizer
}

// patternEntities are detected locally whatever the backend.
var patternEntities = []string{pii.EntityAge, pii.EntityAddress, pii.EntityCreditCardPattern}

func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt := &runtime{
		cfg:      cfg,
		metrics:  metrics.New(cfg.PlaceholderTable().Labels()...),
		log:      logger.New("REDACTOR", cfg.LogLevel),
		residual: pii.DefaultPatternRecognizers(),
	}

	det, backend, err := buildDetector(ctx, cfg)
	switch {
	case errors.Is(err, pii.ErrDetectionUnavailable):
		rt.log.Warnf("detector_init", "%s backend unavailable, running without detection: %v", cfg.Detector, err)
		det, backend = nil, "none"
	case err != nil:
		return nil, err
	}
	rt.backend = backend

	var detCache pii.DetectionCache
	if cfg.Cache.Enabled && det != nil {
		fp := detectorFingerprint(cfg, backend, det)
		c, err := cache.Open(cfg.Cache.Path, cfg.Cache.Capacity, fp, logger.New("CACHE", cfg.LogLevel))
		if err != nil {
			return nil, fmt.Errorf("open detection cache: %w", err)
		}
		rt.cache = c
		detCache = c
	}

	if cfg.AuditLog != "" {
		rt.audit = audit.New(cfg.AuditLog)
	}

	rt.engine = pii.NewEngine(det, pii.Options{
		Language:     cfg.Language,
		Entities:     cfg.Entities,
		Placeholders: cfg.PlaceholderTable(),
		Resolvers:    pii.NewResolverFactory(cfg.Strategy()),
		Policy:       cfg.Policy(),
		Cache:        detCache,
		Metrics:      rt.metrics,
		Logger:       logger.New("ENGINE", cfg.LogLevel),
	})
	return rt, nil
}

// buildDetector returns the configured analyzer. The returned Detector is a
// nil interface whenever err is non-nil.
func buildDetector(ctx context.Context, cfg *config.Config) (pii.Detector, string, error) {
	patterns := pii.DefaultPatternRecognizers()
	switch cfg.Detector {
	case config.DetectorPatterns:
		return pii.NewAnalyzer(nil, patterns...), "patterns", nil
	case config.DetectorOllama:
		c, err := ollama.New(ctx, ollama.Config{
			URL:         cfg.Ollama.Endpoint,
			Model:       cfg.Ollama.Model,
			Threshold:   cfg.Ollama.Confidence,
			Timeout:     cfg.Ollama.Timeout,
			Concurrency: cfg.Ollama.MaxConcurrent,
			Logger:      logger.New("OLLAMA", cfg.LogLevel),
		})
		if err != nil {
			return nil, "", err
		}
		return pii.NewAnalyzer(c, patterns...), "ollama", nil
	default:
		c, err := presidio.New(ctx, presidio.Config{
			URL:            cfg.Presidio.URL,
			Timeout:        cfg.Presidio.Timeout,
			ScoreThreshold: cfg.Presidio.ScoreThreshold,
			Entities:       presidioEntities(cfg.Entities),
			Logger:         logger.New("PRESIDIO", cfg.LogLevel),
		})
		if err != nil {
			return nil, "", err
		}
		return pii.NewAnalyzer(c, patterns...), "presidio", nil
	}
}

// detectorFingerprint identifies the backend and every setting that changes
// the spans it reports.
func detectorFingerprint(cfg *config.Config, backend string, det pii.Detector) string {
	parts := []string{backend}
	switch backend {
	case config.DetectorPresidio:
		parts = append(parts, cfg.Presidio.URL, formatFloat(cfg.Presidio.ScoreThreshold))
	case config.DetectorOllama:
		parts = append(parts, cfg.Ollama.Endpoint, cfg.Ollama.Model, formatFloat(cfg.Ollama.Confidence))
	}
	if a, ok := det.(*pii.Analyzer); ok {
		parts = append(parts, a.Recognizers()...)
	}
	return cache.Fingerprint(parts...)
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

// presidioEntities drops the types the local recognizers own. A nil result
// selects the analyzer defaults.
func presidioEntities(entities []string) []string {
	if len(entities) == 0 {
		return nil
	}
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		if !slices.Contains(patternEntities, e) {
			out = append(out, e)
		}
	}
	return out
}

func (rt *runtime) Close() error {
	if rt.cache != nil {
		return rt.cache.Close()
	}
	return nil
}
