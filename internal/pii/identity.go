package pii

import (
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// IdentityResolver assigns per-document pseudonymous identifiers to person
// name mentions. Implementations are stateful and must not be shared between
// documents.
type IdentityResolver interface {
	Resolve(name string) int
}

// ResolverFactory builds a fresh IdentityResolver for one document.
type ResolverFactory func() IdentityResolver

// NameParts is the match-part set extracted from one normalized name.
type NameParts struct {
	Normalized string
	Parts      map[string]struct{}
	// Surname is the last word of a multi-word name, empty otherwise.
	Surname string
}

// PersonRecord is one clustered identity.
type PersonRecord struct {
	ID       int
	Parts    map[string]struct{}
	Surnames map[string]struct{}
}

// MatchStrategy decides whether a new mention belongs to an existing record.
type MatchStrategy interface {
	Matches(candidate NameParts, record *PersonRecord) bool
}

// AnyPart merges a mention into the first record sharing any name part.
// This is greedy single-link clustering: two people sharing a surname merge.
type AnyPart struct{}

// Matches implements MatchStrategy.
func (AnyPart) Matches(candidate NameParts, record *PersonRecord) bool {
	for p := range candidate.Parts {
		if _, ok := record.Parts[p]; ok {
			return true
		}
	}
	return false
}

// Surname merges only when the shared part is a multi-word name form or a
// surname of either side. A bare first name such as
// "Marcus" starts a new identity under this strategy.
type Surname struct{}

// Matches implements MatchStrategy.
func (Surname) Matches(candidate NameParts, record *PersonRecord) bool {
	for p := range candidate.Parts {
		if _, ok := record.Parts[p]; !ok {
			continue
		}
		if strings.Contains(p, " ") || p == candidate.Surname {
			return true
		}
		if _, ok := record.Surnames[p]; ok {
			return true
		}
	}
	return false
}

// StrategyByName returns the named strategy ("any" or "surname").
func StrategyByName(name string) (MatchStrategy, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "any", "anypart", "any-part":
		return AnyPart{}, true
	case "surname":
		return Surname{}, true
	}
	return nil, false
}

// PersonTracker is the default IdentityResolver. Identifiers start at 1,
// increase in order of first resolution and are never reused.
type PersonTracker struct {
	strategy MatchStrategy
	records  []*PersonRecord // creation order
	nameToID map[string]int
	nextID   int
}

// NewPersonTracker returns an empty tracker. A nil strategy means AnyPart.
func NewPersonTracker(strategy MatchStrategy) *PersonTracker {
	if strategy == nil {
		strategy = AnyPart{}
	}
	return &PersonTracker{
		strategy: strategy,
		nameToID: make(map[string]int),
		nextID:   1,
	}
}

// NewResolverFactory returns a factory producing trackers with strategy.
func NewResolverFactory(strategy MatchStrategy) ResolverFactory {
	return func() IdentityResolver { return NewPersonTracker(strategy) }
}

// Resolve implements IdentityResolver.
func (t *PersonTracker) Resolve(name string) int {
	np := ExtractNameParts(name)
	if id, ok := t.nameToID[np.Normalized]; ok {
		return id
	}

	for _, rec := range t.records {
		if t.strategy.Matches(np, rec) {
			for p := range np.Parts {
				rec.Parts[p] = struct{}{}
			}
			if np.Surname != "" {
				rec.Surnames[np.Surname] = struct{}{}
			}
			t.nameToID[np.Normalized] = rec.ID
			return rec.ID
		}
	}

	rec := &PersonRecord{
		ID:       t.nextID,
		Parts:    make(map[string]struct{}, len(np.Parts)),
		Surnames: make(map[string]struct{}, 1),
	}
	t.nextID++
	for p := range np.Parts {
		rec.Parts[p] = struct{}{}
	}
	if np.Surname != "" {
		rec.Surnames[np.Surname] = struct{}{}
	}
	t.records = append(t.records, rec)
	t.nameToID[np.Normalized] = rec.ID
	return rec.ID
}

// identity is one entry of the identity map.
type identity struct {
	ID    int
	Names []string // normalized, sorted
}

// identities returns the identity map ordered by person id.
func (t *PersonTracker) identities() []identity {
	out := make([]identity, len(t.records))
	for i, rec := range t.records {
		out[i].ID = rec.ID
	}
	for name, id := range t.nameToID {
		out[id-1].Names = append(out[id-1].Names, name)
	}
	for i := range out {
		slices.Sort(out[i].Names)
	}
	return out
}

// Len returns the number of distinct persons.
func (t *PersonTracker) Len() int { return len(t.records) }

var (
	honorificRe  = regexp.MustCompile(`(?i)\b(?:mrs|mr|ms|dr|prof|sir|lady)(?:\.\s*|\s+)`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	lowerCaser   = cases.Lower(language.Und)
)

// NormalizeName strips honorifics, collapses whitespace, applies NFC and
// lower-cases the result.
func NormalizeName(name string) string {
	name = honorificRe.ReplaceAllString(name, "")
	name = whitespaceRe.ReplaceAllString(strings.TrimSpace(name), " ")
	return lowerCaser.String(norm.NFC.String(name))
}

// ExtractNameParts returns the match-part set for name: every word longer
// than two characters, the full normalized form and, for multi-word names,
// the first+last bigram and the surname.
func ExtractNameParts(name string) NameParts {
	normalized := NormalizeName(name)
	np := NameParts{
		Normalized: normalized,
		Parts:      make(map[string]struct{}),
	}

	words := strings.Fields(normalized)
	for _, w := range words {
		if utf8.RuneCountInString(w) > 2 {
			np.Parts[w] = struct{}{}
		}
	}
	np.Parts[normalized] = struct{}{}

	if len(words) >= 2 {
		first, last := words[0], words[len(words)-1]
		np.Parts[first+" "+last] = struct{}{}
		if utf8.RuneCountInString(last) > 2 {
			np.Parts[last] = struct{}{}
			np.Surname = last
		}
	}
	return np
}
