package pii

import (
	"fmt"
	"sort"
)

// Span is a half-open byte range [Start, End) in the original text, tagged
// with the detector's entity type and confidence.
type Span struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	EntityType string  `json:"entityType"`
	Score      float64 `json:"score"`
}

// Len returns the byte length of the span.
func (s Span) Len() int { return s.End - s.Start }

// Overlaps reports whether s and o share at least one offset.
func (s Span) Overlaps(o Span) bool {
	return !(s.End <= o.Start || s.Start >= o.End)
}

// String returns a debug representation such as AGE[10:22]@0.85.
func (s Span) String() string {
	return fmt.Sprintf("%s[%d:%d]@%.2f", s.EntityType, s.Start, s.End, s.Score)
}

// validSpans drops spans whose offsets fall outside text or are empty.
// Backends are not trusted to report sane offsets.
func validSpans(text string, spans []Span) []Span {
	out := spans[:0]
	for _, sp := range spans {
		if sp.Start < 0 || sp.End > len(text) || sp.Start >= sp.End {
			continue
		}
		out = append(out, sp)
	}
	return out
}

// sortByStart orders spans ascending by start, longer spans first on ties.
func sortByStart(spans []Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End > spans[j].End
	})
}

// sortByStartDesc orders spans descending by start.
func sortByStartDesc(spans []Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].Start > spans[j].Start
	})
}
