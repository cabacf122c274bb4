package pii

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArbitrate_Rules(t *testing.T) {
	tests := []struct {
		name     string
		spans    []Span
		expected []Span
	}{
		{
			name: "age beats location",
			spans: []Span{
				{Start: 9, End: 13, EntityType: EntityLocation, Score: 0.99},
				{Start: 10, End: 12, EntityType: EntityAge, Score: 0.5},
			},
			expected: []Span{{Start: 10, End: 12, EntityType: EntityAge, Score: 0.5}},
		},
		{
			name: "age beats card",
			spans: []Span{
				{Start: 0, End: 19, EntityType: EntityCreditCard, Score: 1.0},
				{Start: 5, End: 10, EntityType: EntityAge, Score: 0.7},
			},
			expected: []Span{{Start: 5, End: 10, EntityType: EntityAge, Score: 0.7}},
		},
		{
			name: "card beats address",
			spans: []Span{
				{Start: 0, End: 25, EntityType: EntityAddress, Score: 0.85},
				{Start: 4, End: 23, EntityType: EntityCreditCardPattern, Score: 0.8},
			},
			expected: []Span{{Start: 4, End: 23, EntityType: EntityCreditCardPattern, Score: 0.8}},
		},
		{
			name: "address beats person",
			spans: []Span{
				{Start: 3, End: 12, EntityType: EntityPerson, Score: 0.99},
				{Start: 0, End: 20, EntityType: EntityAddress, Score: 0.6},
			},
			expected: []Span{{Start: 0, End: 20, EntityType: EntityAddress, Score: 0.6}},
		},
		{
			name: "address beats date",
			spans: []Span{
				{Start: 0, End: 2, EntityType: EntityDateTime, Score: 0.9},
				{Start: 0, End: 15, EntityType: EntityAddress, Score: 0.8},
			},
			expected: []Span{{Start: 0, End: 15, EntityType: EntityAddress, Score: 0.8}},
		},
		{
			name: "general type beats date regardless of score",
			spans: []Span{
				{Start: 0, End: 10, EntityType: EntityDateTime, Score: 0.99},
				{Start: 5, End: 12, EntityType: EntityPhone, Score: 0.4},
			},
			expected: []Span{{Start: 5, End: 12, EntityType: EntityPhone, Score: 0.4}},
		},
		{
			name: "general types resolved by score",
			spans: []Span{
				{Start: 0, End: 10, EntityType: EntityPerson, Score: 0.9},
				{Start: 5, End: 15, EntityType: EntityEmail, Score: 0.8},
			},
			expected: []Span{{Start: 0, End: 10, EntityType: EntityPerson, Score: 0.9}},
		},
		{
			name: "duplicate ages keep the longer match",
			spans: []Span{
				{Start: 3, End: 11, EntityType: EntityAge, Score: 0.85},
				{Start: 3, End: 15, EntityType: EntityAge, Score: 0.85},
			},
			expected: []Span{{Start: 3, End: 15, EntityType: EntityAge, Score: 0.85}},
		},
		{
			name: "disjoint spans all survive sorted by start",
			spans: []Span{
				{Start: 20, End: 25, EntityType: EntityLocation, Score: 0.5},
				{Start: 0, End: 4, EntityType: EntityPerson, Score: 0.5},
				{Start: 10, End: 12, EntityType: EntityAge, Score: 0.5},
			},
			expected: []Span{
				{Start: 0, End: 4, EntityType: EntityPerson, Score: 0.5},
				{Start: 10, End: 12, EntityType: EntityAge, Score: 0.5},
				{Start: 20, End: 25, EntityType: EntityLocation, Score: 0.5},
			},
		},
		{
			name: "adjacent spans do not overlap",
			spans: []Span{
				{Start: 0, End: 5, EntityType: EntityAge, Score: 0.5},
				{Start: 5, End: 9, EntityType: EntityLocation, Score: 0.5},
			},
			expected: []Span{
				{Start: 0, End: 5, EntityType: EntityAge, Score: 0.5},
				{Start: 5, End: 9, EntityType: EntityLocation, Score: 0.5},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Arbitrate(tt.spans))
		})
	}
}

func TestArbitrate_Empty(t *testing.T) {
	assert.Empty(t, Arbitrate(nil))
}

func TestArbitrate_OutputNeverOverlaps(t *testing.T) {
	types := []string{EntityAge, EntityCreditCard, EntityAddress, EntityPerson, EntityEmail, EntityDateTime, EntityLocation}
	var spans []Span
	for i := 0; i < 60; i++ {
		start := (i * 7) % 50
		spans = append(spans, Span{
			Start:      start,
			End:        start + 3 + i%9,
			EntityType: types[i%len(types)],
			Score:      float64(i%10) / 10,
		})
	}

	out := Arbitrate(spans)
	require.NotEmpty(t, out)
	assertNonOverlapping(t, out)
	for i := 1; i < len(out); i++ {
		assert.LessOrEqual(t, out[i-1].Start, out[i].Start)
	}
}

func TestArbitrate_AgeAlwaysKept(t *testing.T) {
	spans := []Span{
		{Start: 0, End: 30, EntityType: EntityAddress, Score: 1},
		{Start: 2, End: 8, EntityType: EntityAge, Score: 0.1},
		{Start: 10, End: 16, EntityType: EntityAge, Score: 0.1},
	}
	out := Arbitrate(spans)
	assert.Len(t, out, 2)
	for _, sp := range out {
		assert.Equal(t, EntityAge, sp.EntityType)
	}
}
