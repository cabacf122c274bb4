package pii

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// ErrOverlappingSpans is returned by Rewrite when spans were not arbitrated.
var ErrOverlappingSpans = errors.New("pii: overlapping spans")

// Redaction records one replaced entity. Start/End index the original text,
// RedactedStart/RedactedEnd index the token in the redacted text.
type Redaction struct {
	Label         string  `json:"label"`
	EntityType    string  `json:"entityType"`
	Start         int     `json:"start"`
	End           int     `json:"end"`
	RedactedStart int     `json:"redactedStart"`
	RedactedEnd   int     `json:"redactedEnd"`
	Score         float64 `json:"score"`
	Original      string  `json:"original"`
}

// Rewritten is the output of Rewrite.
type Rewritten struct {
	Text       string
	Redactions []Redaction // ascending by Start
}

// Token formats a reviewable redaction token: [label/original].
func Token(label, original string) string {
	return "[" + label + "/" + original + "]"
}

// PersonLabel returns the token label for person id.
func PersonLabel(id int) string {
	return personLabelPrefix + strconv.Itoa(id)
}

// Rewrite replaces every span in text with its redaction token.
//
// Person identifiers are resolved first, in ascending start order, so ids
// follow reading order. Tokens are then spliced from the rightmost span to
// the leftmost; every slice is taken from the original text, so no
// replacement can shift a span that has not been processed yet.
func Rewrite(text string, spans []Span, resolver IdentityResolver, placeholders Placeholders) (Rewritten, error) {
	if placeholders == nil {
		placeholders = DefaultPlaceholders
	}

	persons := make([]Span, 0, len(spans))
	for _, sp := range spans {
		if sp.EntityType == EntityPerson {
			persons = append(persons, sp)
		}
	}
	sortByStart(persons)

	type offsets struct{ start, end int }
	personIDs := make(map[offsets]int, len(persons))
	for _, sp := range persons {
		key := offsets{sp.Start, sp.End}
		if _, done := personIDs[key]; done {
			continue
		}
		personIDs[key] = resolver.Resolve(text[sp.Start:sp.End])
	}

	desc := slices.Clone(spans)
	sortByStartDesc(desc)

	pieces := make([]string, 0, 2*len(desc)+1)
	redactions := make([]Redaction, 0, len(desc))
	cursor := len(text)
	for _, sp := range desc {
		if sp.Start < 0 || sp.End > cursor || sp.Start >= sp.End {
			return Rewritten{}, fmt.Errorf("%w: %s", ErrOverlappingSpans, sp)
		}
		original := text[sp.Start:sp.End]
		label := placeholders.Label(sp.EntityType)
		if sp.EntityType == EntityPerson {
			label = PersonLabel(personIDs[offsets{sp.Start, sp.End}])
		}
		pieces = append(pieces, text[sp.End:cursor], Token(label, original))
		redactions = append(redactions, Redaction{
			Label:      label,
			EntityType: sp.EntityType,
			Start:      sp.Start,
			End:        sp.End,
			Score:      sp.Score,
			Original:   original,
		})
		cursor = sp.Start
	}
	pieces = append(pieces, text[:cursor])
	slices.Reverse(pieces)
	slices.Reverse(redactions)

	shift := 0
	for i := range redactions {
		r := &redactions[i]
		r.RedactedStart = r.Start + shift
		r.RedactedEnd = r.RedactedStart + len(Token(r.Label, r.Original))
		shift = r.RedactedEnd - r.End
	}

	return Rewritten{Text: strings.Join(pieces, ""), Redactions: redactions}, nil
}

// Restore reverses Rewrite using the recorded token offsets.
func Restore(redacted string, redactions []Redaction) (string, error) {
	var b strings.Builder
	b.Grow(len(redacted))
	cursor := 0
	for _, r := range redactions {
		if r.RedactedStart < cursor || r.RedactedEnd > len(redacted) {
			return "", fmt.Errorf("restore: token %s out of range", r.Label)
		}
		if redacted[r.RedactedStart:r.RedactedEnd] != Token(r.Label, r.Original) {
			return "", fmt.Errorf("restore: token %s does not match redacted text", r.Label)
		}
		b.WriteString(redacted[cursor:r.RedactedStart])
		b.WriteString(r.Original)
		cursor = r.RedactedEnd
	}
	b.WriteString(redacted[cursor:])
	return b.String(), nil
}

// ParsedToken is one [label/value] token found in redacted text.
type ParsedToken struct {
	Label string
	Value string
	Start int
	End   int
}

var tokenRe = regexp.MustCompile(`\[(PERSON_[0-9]+|[A-Z][A-Z0-9_]*)/([^\]]*)\]`)

// ParseTokens extracts redaction tokens from text. Values containing ']'
// are not recoverable this way; use Restore with the recorded redactions.
func ParseTokens(text string) []ParsedToken {
	var out []ParsedToken
	for _, m := range tokenRe.FindAllStringSubmatchIndex(text, -1) {
		out = append(out, ParsedToken{
			Label: text[m[2]:m[3]],
			Value: text[m[4]:m[5]],
			Start: m[0],
			End:   m[1],
		})
	}
	return out
}

// StripTokens replaces each parsed token with its value.
func StripTokens(text string) string {
	return tokenRe.ReplaceAllString(text, "$2")
}

// IsPersonLabel reports whether label has the PERSON_<n> form.
func IsPersonLabel(label string) bool {
	rest, ok := strings.CutPrefix(label, personLabelPrefix)
	if !ok || rest == "" {
		return false
	}
	n, err := strconv.Atoi(rest)
	return err == nil && n > 0
}
