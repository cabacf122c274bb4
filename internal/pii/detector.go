package pii

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"
)

// ErrDetectionUnavailable means the statistical detection capability could
// not be constructed. Callers degrade to passthrough instead of failing.
var ErrDetectionUnavailable = errors.New("pii: detection capability unavailable")

// Recognizer proposes candidate spans for the entity types it supports.
// Implementations must be safe for concurrent use and must not retain text.
type Recognizer interface {
	Name() string
	SupportedEntities() []string
	Analyze(ctx context.Context, text, language string) ([]Span, error)
}

// Detector is the span detection contract consumed by the Engine.
type Detector interface {
	Detect(ctx context.Context, text, language string, entities []string) ([]Span, error)
}

// Analyzer composes an optional statistical recognizer with deterministic
// pattern recognizers. It is built once and shared read-only across documents.
type Analyzer struct {
	recognizers []Recognizer
}

// NewAnalyzer returns an Analyzer running base (may be nil for pattern-only
// operation) followed by the given pattern recognizers.
func NewAnalyzer(base Recognizer, patterns ...Recognizer) *Analyzer {
	a := &Analyzer{}
	if base != nil {
		a.recognizers = append(a.recognizers, base)
	}
	a.recognizers = append(a.recognizers, patterns...)
	return a
}

// Recognizers returns the names of the configured recognizers in run order.
func (a *Analyzer) Recognizers() []string {
	names := make([]string, 0, len(a.recognizers))
	for _, r := range a.recognizers {
		names = append(names, r.Name())
	}
	return names
}

// Detect runs every recognizer whose supported entities intersect entities,
// concurrently, and returns the allowlisted spans they propose. A nil or
// empty entities list enables every type. The first recognizer error fails
// the whole call.
func (a *Analyzer) Detect(ctx context.Context, text, language string, entities []string) ([]Span, error) {
	if text == "" {
		return nil, nil
	}
	allowed := func(t string) bool { return len(entities) == 0 || slices.Contains(entities, t) }

	var active []Recognizer
	for _, r := range a.recognizers {
		if slices.ContainsFunc(r.SupportedEntities(), allowed) {
			active = append(active, r)
		}
	}

	results := make([][]Span, len(active))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range active {
		g.Go(func() error {
			spans, err := r.Analyze(gctx, text, language)
			if err != nil {
				return fmt.Errorf("recognizer %s: %w", r.Name(), err)
			}
			results[i] = spans
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Span
	for _, spans := range results {
		for _, sp := range spans {
			if allowed(sp.EntityType) {
				all = append(all, sp)
			}
		}
	}
	return validSpans(text, all), nil
}
