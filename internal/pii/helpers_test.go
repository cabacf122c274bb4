package pii

import (
	"context"
	"io"
	"strings"
	"sync/atomic"

	"transcript-pii-redactor/internal/logger"
)

// literalRecognizer reports every occurrence of fixed strings under one
// entity type. It stands in for the statistical backend.
type literalRecognizer struct {
	entity string
	words  []string
	score  float64
	calls  atomic.Int32
}

func (r *literalRecognizer) Name() string                { return "literal-" + r.entity }
func (r *literalRecognizer) SupportedEntities() []string { return []string{r.entity} }

func (r *literalRecognizer) Analyze(_ context.Context, text, _ string) ([]Span, error) {
	r.calls.Add(1)
	score := r.score
	if score == 0 {
		score = 0.85
	}
	var out []Span
	for _, w := range r.words {
		from := 0
		for {
			i := strings.Index(text[from:], w)
			if i < 0 {
				break
			}
			start := from + i
			out = append(out, Span{Start: start, End: start + len(w), EntityType: r.entity, Score: score})
			from = start + len(w)
		}
	}
	return out, nil
}

// detectorFunc adapts a function to Detector.
type detectorFunc func(ctx context.Context, text, language string, entities []string) ([]Span, error)

func (f detectorFunc) Detect(ctx context.Context, text, language string, entities []string) ([]Span, error) {
	return f(ctx, text, language, entities)
}

func quietLogger() *logger.Logger {
	l := logger.New("ENGINE", "error")
	l.SetOutput(io.Discard)
	return l
}

// texts returns the substrings of text covered by spans.
func texts(text string, spans []Span) []string {
	out := make([]string, 0, len(spans))
	for _, sp := range spans {
		out = append(out, text[sp.Start:sp.End])
	}
	return out
}

func assertNonOverlapping(t interface{ Errorf(string, ...any) }, spans []Span) {
	for i := range spans {
		for j := i + 1; j < len(spans); j++ {
			if spans[i].Overlaps(spans[j]) {
				t.Errorf("spans overlap: %s and %s", spans[i], spans[j])
			}
		}
	}
}
