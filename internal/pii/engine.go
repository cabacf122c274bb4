package pii

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"transcript-pii-redactor/internal/logger"
	"transcript-pii-redactor/internal/metrics"
)

// ErrRedactionFailed wraps detection or rewrite failures under FailClosed.
var ErrRedactionFailed = errors.New("pii: redaction failed")

// Status describes how a document left the engine.
type Status string

// Document outcomes.
const (
	StatusRedacted    Status = "redacted"
	StatusUnavailable Status = "unavailable" // no detection capability, text unchanged
	StatusFailed      Status = "failed"      // detection or rewrite error, text unchanged
)

// FailurePolicy decides what Redact returns when redaction cannot complete.
type FailurePolicy int

const (
	// FailOpen returns the original, unredacted text with a non-redacted
	// Status and a nil error. Callers must check Status.
	FailOpen FailurePolicy = iota
	// FailClosed returns an empty Result and an error.
	FailClosed
)

// ParseFailurePolicy accepts "open" or "closed".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "open", "fail-open":
		return FailOpen, nil
	case "closed", "fail-closed":
		return FailClosed, nil
	}
	return FailOpen, fmt.Errorf("unknown failure policy %q (want open or closed)", s)
}

func (p FailurePolicy) String() string {
	if p == FailClosed {
		return "closed"
	}
	return "open"
}

// Result is the outcome of redacting one document.
type Result struct {
	Text       string         `json:"text"`
	Status     Status         `json:"status"`
	Count      int            `json:"entityCount"`
	Persons    int            `json:"persons"`
	Labels     map[string]int `json:"labels"`
	Redactions []Redaction    `json:"redactions,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Duration   time.Duration  `json:"-"`
}

// Redacted reports whether the text went through the full pipeline.
func (r Result) Redacted() bool { return r.Status == StatusRedacted }

// DetectionCache stores detector output keyed by the document content.
// Implementations must be safe for concurrent use.
type DetectionCache interface {
	Lookup(text, language string, entities []string) ([]Span, bool)
	Store(text, language string, entities []string, spans []Span)
}

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	Language     string
	Entities     []string
	Placeholders Placeholders
	Resolvers    ResolverFactory
	Policy       FailurePolicy
	Cache        DetectionCache
	Metrics      *metrics.Metrics
	Logger       *logger.Logger
}

// Engine runs detection, arbitration, identity resolution and rewriting for
// one document at a time. It holds no per-document state and is safe for
// concurrent use; every call gets a fresh IdentityResolver.
type Engine struct {
	detector     Detector
	language     string
	entities     []string
	placeholders Placeholders
	resolvers    ResolverFactory
	policy       FailurePolicy
	cache        DetectionCache
	metrics      *metrics.Metrics
	log          *logger.Logger
}

// NewEngine builds an Engine around detector. A nil detector puts the engine
// in degraded mode: every document passes through unchanged.
func NewEngine(detector Detector, opts Options) *Engine {
	e := &Engine{
		detector:     detector,
		language:     opts.Language,
		entities:     opts.Entities,
		placeholders: opts.Placeholders,
		resolvers:    opts.Resolvers,
		policy:       opts.Policy,
		cache:        opts.Cache,
		metrics:      opts.Metrics,
		log:          opts.Logger,
	}
	if e.language == "" {
		e.language = "en"
	}
	if e.entities == nil {
		e.entities = DetectableEntities
	}
	if e.placeholders == nil {
		e.placeholders = DefaultPlaceholders
	}
	if e.resolvers == nil {
		e.resolvers = NewResolverFactory(AnyPart{})
	}
	if e.log == nil {
		e.log = logger.New("ENGINE", "info")
	}
	if detector == nil {
		e.log.Warn("detector_init", "no detection capability, documents will pass through unredacted")
	}
	return e
}

// Available reports whether a detection capability is configured.
func (e *Engine) Available() bool { return e.detector != nil }

// Policy returns the configured failure policy.
func (e *Engine) Policy() FailurePolicy { return e.policy }

// Language returns the detection language.
func (e *Engine) Language() string { return e.language }

// Entities returns the enabled entity types.
func (e *Engine) Entities() []string { return e.entities }

// Placeholders returns the entity type to label table.
func (e *Engine) Placeholders() Placeholders { return e.placeholders }

type docKey struct{}

// WithDocumentID attaches a document id used only for log correlation.
func WithDocumentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, docKey{}, id)
}

func documentID(ctx context.Context) string {
	if id, ok := ctx.Value(docKey{}).(string); ok && id != "" {
		return id
	}
	return "-"
}

// Redact detects and rewrites PII in text.
//
// Under FailOpen a document that cannot be redacted is returned unchanged
// with Status StatusUnavailable or StatusFailed and a nil error. Under
// FailClosed the same conditions return an error wrapping
// ErrDetectionUnavailable or ErrRedactionFailed. Context cancellation is
// returned as an error under either policy.
func (e *Engine) Redact(ctx context.Context, text string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	log := e.log.With("doc", documentID(ctx))
	start := time.Now()

	if e.detector == nil {
		e.metrics.RecordDocument(string(StatusUnavailable))
		if e.policy == FailClosed {
			log.Error("redact_unavailable", "no detection capability, refusing document")
			return Result{Status: StatusUnavailable}, ErrDetectionUnavailable
		}
		log.Warnf("redact_unavailable", "no detection capability, returning original text len=%d", len(text))
		return Result{
			Text:     text,
			Status:   StatusUnavailable,
			Labels:   map[string]int{},
			Reason:   ErrDetectionUnavailable.Error(),
			Duration: time.Since(start),
		}, nil
	}

	res, err := e.redact(ctx, text)
	res.Duration = time.Since(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		e.metrics.RecordDocument(string(StatusFailed))
		if e.policy == FailClosed {
			log.Errorf("redact_failed", "refusing document: %v", err)
			return Result{Status: StatusFailed}, fmt.Errorf("%w: %w", ErrRedactionFailed, err)
		}
		log.Errorf("redact_failed", "returning original text: %v", err)
		return Result{
			Text:     text,
			Status:   StatusFailed,
			Labels:   map[string]int{},
			Reason:   err.Error(),
			Duration: res.Duration,
		}, nil
	}

	e.metrics.RecordDocument(string(StatusRedacted))
	e.metrics.RecordRedactLatency(res.Duration)
	for label, n := range res.Labels {
		e.metrics.RecordEntities(label, n)
	}
	if res.Count == 0 && strings.TrimSpace(text) != "" {
		e.metrics.RecordZeroDetections()
		log.Warnf("redact_zero", "no entities detected in len=%d, treat as suspicious", len(text))
	}
	log.Debugf("redact_done", "original length %d, redacted length %d, entities %d, persons %d",
		len(text), len(res.Text), res.Count, res.Persons)
	return res, nil
}

// redact runs the pipeline; panics are converted into errors so a bad
// backend or span never crashes the caller.
func (e *Engine) redact(ctx context.Context, text string) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during redaction: %v", r)
		}
	}()

	spans, err := e.detect(ctx, text)
	if err != nil {
		return Result{}, fmt.Errorf("detect: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	rewriteStart := time.Now()
	arbitrated := Arbitrate(spans)
	resolver := e.resolvers()
	rw, err := Rewrite(text, arbitrated, resolver, e.placeholders)
	if err != nil {
		return Result{}, fmt.Errorf("rewrite: %w", err)
	}
	e.metrics.RecordRewriteLatency(time.Since(rewriteStart))

	labels := make(map[string]int)
	persons := make(map[string]struct{})
	for _, r := range rw.Redactions {
		if IsPersonLabel(r.Label) {
			labels[EntityPerson]++
			persons[r.Label] = struct{}{}
			continue
		}
		labels[r.Label]++
	}

	return Result{
		Text:       rw.Text,
		Status:     StatusRedacted,
		Count:      len(rw.Redactions),
		Persons:    len(persons),
		Labels:     labels,
		Redactions: rw.Redactions,
	}, nil
}

func (e *Engine) detect(ctx context.Context, text string) ([]Span, error) {
	if e.cache != nil {
		if spans, ok := e.cache.Lookup(text, e.language, e.entities); ok {
			e.metrics.RecordCacheHit()
			return validSpans(text, spans), nil
		}
		e.metrics.RecordCacheMiss()
	}

	start := time.Now()
	spans, err := e.detector.Detect(ctx, text, e.language, e.entities)
	if err != nil {
		e.metrics.RecordDetectError()
		return nil, err
	}
	e.metrics.RecordDetectLatency(time.Since(start))

	if e.cache != nil {
		e.cache.Store(text, e.language, e.entities, spans)
	}
	return spans, nil
}
