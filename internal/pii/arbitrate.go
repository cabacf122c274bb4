package pii

import "sort"

// Priority tiers, highest first. The tier is the rule under which a span
// survived; lower values pre-empt higher ones.
const (
	tierAge = iota
	tierCard
	tierAddress
	tierGeneral
	tierBroad
)

// Arbitrate selects a pairwise non-overlapping subset of candidate spans.
//
// Each candidate is judged against the full candidate set, not only against
// spans already kept:
//
//  1. AGE is always kept.
//  2. Card numbers are kept unless they overlap an AGE span.
//  3. ADDRESS is kept unless it overlaps an AGE or card span.
//  4. Any other type except DATE_TIME and LOCATION is kept unless it overlaps
//     an AGE, ADDRESS or card span.
//  5. DATE_TIME and LOCATION are kept under the same condition as rule 4.
//
// Scores play no part in these rules. Overlaps remaining among survivors
// (duplicate matches of one type, or two general types) are resolved by tier,
// then score, then length, then position. The result is sorted by start.
func Arbitrate(spans []Span) []Span {
	type candidate struct {
		span Span
		tier int
	}
	var kept []candidate
	for _, sp := range spans {
		if tier, ok := ruleTier(sp, spans); ok {
			kept = append(kept, candidate{span: sp, tier: tier})
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.tier != b.tier {
			return a.tier < b.tier
		}
		if a.span.Score != b.span.Score {
			return a.span.Score > b.span.Score
		}
		if a.span.Len() != b.span.Len() {
			return a.span.Len() > b.span.Len()
		}
		return a.span.Start < b.span.Start
	})

	out := make([]Span, 0, len(kept))
	for _, c := range kept {
		if !overlapsAny(c.span, out) {
			out = append(out, c.span)
		}
	}
	sortByStart(out)
	return out
}

// ruleTier applies the fixed priority rules to sp and reports the tier it
// was kept under.
func ruleTier(sp Span, all []Span) (int, bool) {
	if sp.EntityType == EntityAge {
		return tierAge, true
	}

	var withAge, withAddress, withCard bool
	for _, o := range all {
		if !sp.Overlaps(o) {
			continue
		}
		switch {
		case o.EntityType == EntityAge:
			withAge = true
		case o.EntityType == EntityAddress:
			withAddress = true
		case isCardType(o.EntityType):
			withCard = true
		}
	}

	switch {
	case isCardType(sp.EntityType):
		return tierCard, !withAge
	case sp.EntityType == EntityAddress:
		return tierAddress, !withAge && !withCard
	case sp.EntityType == EntityDateTime || sp.EntityType == EntityLocation:
		return tierBroad, !withAge && !withAddress && !withCard
	default:
		return tierGeneral, !withAge && !withAddress && !withCard
	}
}

func overlapsAny(sp Span, set []Span) bool {
	for _, o := range set {
		if sp.Overlaps(o) {
			return true
		}
	}
	return false
}
