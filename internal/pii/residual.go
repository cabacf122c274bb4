package pii

import (
	"context"
	"fmt"
	"strings"
)

// maskTokens blanks every redaction token in text with spaces so that the
// original values carried inside tokens are not reported again. Offsets are
// preserved.
func maskTokens(text string) string {
	locs := tokenRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for _, loc := range locs {
		b.WriteString(text[cursor:loc[0]])
		b.WriteString(strings.Repeat(" ", loc[1]-loc[0]))
		cursor = loc[1]
	}
	b.WriteString(text[cursor:])
	return b.String()
}

// ResidualScan re-runs recognizers over redacted text, outside the tokens,
// and returns any spans they still find. A non-empty result means something
// that looks like PII survived redaction. Offsets index redacted.
func ResidualScan(ctx context.Context, redacted, language string, recognizers []Recognizer) ([]Span, error) {
	masked := maskTokens(redacted)
	var out []Span
	for _, r := range recognizers {
		spans, err := r.Analyze(ctx, masked, language)
		if err != nil {
			return nil, fmt.Errorf("residual %s: %w", r.Name(), err)
		}
		out = append(out, spans...)
	}
	out = Arbitrate(validSpans(masked, out))
	return out, nil
}
