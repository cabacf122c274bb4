package pii

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResidualScan_IgnoresTokens(t *testing.T) {
	redacted := "[PERSON_1/John Smith] is [AGE/47 years old] and lives at [ADDRESS/47 Brunswick Street]."
	spans, err := ResidualScan(context.Background(), redacted, "en", DefaultPatternRecognizers())
	require.NoError(t, err)
	assert.Empty(t, spans)
}

func TestResidualScan_FindsLeftovers(t *testing.T) {
	redacted := "[PERSON_1/Ann] paid with 4111 1111 1111 1111 aged 52"
	spans, err := ResidualScan(context.Background(), redacted, "en", DefaultPatternRecognizers())
	require.NoError(t, err)
	got := texts(redacted, spans)
	assert.Contains(t, got, "4111 1111 1111 1111")
	assert.Contains(t, got, "aged 52")
	assertNonOverlapping(t, spans)
}

func TestMaskTokens_PreservesOffsets(t *testing.T) {
	in := "a [AGE/47] b"
	out := maskTokens(in)
	assert.Len(t, out, len(in))
	assert.Equal(t, "a ", out[:2])
	assert.Equal(t, " b", out[len(out)-2:])
	assert.NotContains(t, out, "47")
}
