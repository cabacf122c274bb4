package pii

import (
	"context"
	"fmt"
	"regexp"
)

// Pattern is one regular expression contributing spans of its recognizer's
// entity type at a fixed score.
type Pattern struct {
	Name  string
	Expr  string
	Score float64
	// Group selects the capture group reported as the span; 0 is the whole
	// match. RE2 has no lookbehind, so anchored patterns capture the value
	// that follows the anchor phrase.
	Group int
}

type compiledPattern struct {
	Pattern
	re *regexp.Regexp
}

// PatternRecognizer is a deterministic recognizer for a single entity type.
// Patterns are matched case-insensitively. It is safe for concurrent use.
type PatternRecognizer struct {
	name     string
	entity   string
	patterns []compiledPattern
}

// NewPatternRecognizer compiles patterns for entity. It fails on the first
// pattern that does not compile or names a group the expression lacks.
func NewPatternRecognizer(name, entity string, patterns []Pattern) (*PatternRecognizer, error) {
	r := &PatternRecognizer{name: name, entity: entity}
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p.Expr)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %s/%s: %w", name, p.Name, err)
		}
		if p.Group < 0 || p.Group > re.NumSubexp() {
			return nil, fmt.Errorf("pattern %s/%s: group %d out of range", name, p.Name, p.Group)
		}
		r.patterns = append(r.patterns, compiledPattern{Pattern: p, re: re})
	}
	return r, nil
}

func mustPatternRecognizer(name, entity string, patterns []Pattern) *PatternRecognizer {
	r, err := NewPatternRecognizer(name, entity, patterns)
	if err != nil {
		panic(err)
	}
	return r
}

// Name implements Recognizer.
func (r *PatternRecognizer) Name() string { return r.name }

// SupportedEntities implements Recognizer.
func (r *PatternRecognizer) SupportedEntities() []string { return []string{r.entity} }

// Analyze implements Recognizer. Every pattern contributes its own matches;
// duplicates across patterns are left for arbitration.
func (r *PatternRecognizer) Analyze(ctx context.Context, text, _ string) ([]Span, error) {
	var spans []Span
	for _, p := range r.patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[2*p.Group], loc[2*p.Group+1]
			if start < 0 || start == end {
				continue
			}
			spans = append(spans, Span{Start: start, End: end, EntityType: r.entity, Score: p.Score})
		}
	}
	return spans, nil
}

// NewAgeRecognizer matches numeric age expressions such as "47 years old",
// "aged 47" and "47 y/o". More specific phrasing scores higher.
func NewAgeRecognizer() *PatternRecognizer {
	return mustPatternRecognizer("AgeRecognizer", EntityAge, []Pattern{
		{Name: "age_years_old", Expr: `\b\d{1,3}\s+years?\s+old\b`, Score: 0.85},
		{Name: "age_years", Expr: `\b\d{1,3}\s+years?\b`, Score: 0.7},
		{Name: "age_yo", Expr: `\b\d{1,3}\s*y[./]?o\.?\b`, Score: 0.8},
		{Name: "aged", Expr: `\baged\s+\d{1,3}\b`, Score: 0.85},
		{Name: "age_simple", Expr: `\bage\s+\d{1,3}\b`, Score: 0.75},
	})
}

// NewAddressRecognizer matches numbered street addresses in UK and US
// conventions plus flat, apartment and unit markers.
func NewAddressRecognizer() *PatternRecognizer {
	return mustPatternRecognizer("AddressRecognizer", EntityAddress, []Pattern{
		{
			Name: "uk_street_address",
			Expr: `\b\d+\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\s+(?:Street|St|Road|Rd|Avenue|Ave|Lane|Ln|Drive|Dr|Close|Cl|Place|Pl|Square|Sq|Court|Ct|Crescent|Cres|Gardens|Gdns|Terrace|Ter|Way|Walk|Row|Hill|Green|Common|Mews|Park|View|Rise|Grove|Vale|Heights|Approach|Parade|Promenade|Esplanade|Embankment|Quay|Wharf|Bridge|Gate|End|Side|North|South|East|West|Upper|Lower|Old|New)\b`,
			Score: 0.85,
		},
		{
			Name:  "us_street_address",
			Expr:  `\b\d+\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\s+(?:Street|St|Road|Rd|Avenue|Ave|Boulevard|Blvd|Lane|Ln|Drive|Dr|Circle|Cir|Court|Ct|Place|Pl|Way|Trail|Pkwy|Parkway)\b`,
			Score: 0.85,
		},
		{
			Name:  "general_street_address",
			Expr:  `\b\d{1,5}\s+[A-Z][a-zA-Z\s]+(?:Street|St|Road|Rd|Avenue|Ave|Lane|Ln|Drive|Dr|Close|Place|Way)\b`,
			Score: 0.8,
		},
		{
			Name:  "apartment_unit",
			Expr:  `\b(?:Flat|Apartment|Apt|Unit|Suite|Ste)\s+\d+[A-Z]?\b`,
			Score: 0.75,
		},
	})
}

// cardDigits is a 16-digit group sequence with optional space or dash separators.
const cardDigits = `(\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4})`

// NewCreditCardRecognizer matches 14, 15 and 16 digit card-like numbers in
// spaced, dashed and unbroken forms, plus numbers anchored by card phrasing.
func NewCreditCardRecognizer() *PatternRecognizer {
	return mustPatternRecognizer("CreditCardPatternRecognizer", EntityCreditCardPattern, []Pattern{
		{Name: "card_16_spaced", Expr: `\b\d{4}\s+\d{4}\s+\d{4}\s+\d{4}\b`, Score: 0.9},
		{Name: "card_16_dashed", Expr: `\b\d{4}-\d{4}-\d{4}-\d{4}\b`, Score: 0.9},
		{Name: "card_16_solid", Expr: `\b\d{16}\b`, Score: 0.85},
		{Name: "amex_15_spaced", Expr: `\b\d{4}\s+\d{6}\s+\d{5}\b`, Score: 0.9},
		{Name: "amex_15_dashed", Expr: `\b\d{4}-\d{6}-\d{5}\b`, Score: 0.9},
		{Name: "amex_15_solid", Expr: `\b\d{15}\b`, Score: 0.85},
		{Name: "diners_14_spaced", Expr: `\b\d{4}\s+\d{6}\s+\d{4}\b`, Score: 0.85},
		{Name: "diners_14_dashed", Expr: `\b\d{4}-\d{6}-\d{4}\b`, Score: 0.85},
		{Name: "diners_14_solid", Expr: `\b\d{14}\b`, Score: 0.8},
		{Name: "card_number_context", Expr: `card\s+(?:number|#)\s*(?:is|:)?\s*` + cardDigits, Score: 0.8, Group: 1},
		{Name: "credit_card_context", Expr: `credit\s+card\s*(?:number|#)?\s*(?:is|:)?\s*` + cardDigits, Score: 0.8, Group: 1},
		{Name: "debit_card_context", Expr: `debit\s+card\s*(?:number|#)?\s*(?:is|:)?\s*` + cardDigits, Score: 0.8, Group: 1},
	})
}

// DefaultPatternRecognizers returns the built-in deterministic recognizers.
func DefaultPatternRecognizers() []Recognizer {
	return []Recognizer{
		NewAgeRecognizer(),
		NewAddressRecognizer(),
		NewCreditCardRecognizer(),
	}
}
