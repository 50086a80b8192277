package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lerrors "github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/errors"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/pkg/canonjson"
)

func validRequest() Request {
	return Request{
		CulturalContext: "CAN_CA_EN",
		SovereignLevel:  "FULL",
		GlyphMatrix:     []string{"G_TRUTH", "G_RECONCILE"},
		OpticalParams: OpticalParams{
			Resolution:        "8192x8192",
			CompressionTarget: 25.0,
		},
		ParadoxZones: []ParadoxZone{
			{GlyphPair: "G_TRUTH|G_RECONCILE", ResolutionProtocol: "TEMPORAL_SPLIT"},
		},
	}
}

func TestComputeDeterministicSameBytes(t *testing.T) {
	tr := New()
	opts := Options{
		Deterministic:  true,
		Seed:           "s1",
		FixedTimestamp: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}

	first, err := tr.Compute(context.Background(), validRequest(), opts)
	require.NoError(t, err)
	second, err := tr.Compute(context.Background(), validRequest(), opts)
	require.NoError(t, err)

	a, err := canonjson.Marshal(first)
	require.NoError(t, err)
	b, err := canonjson.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestComputeSeedChangesNonce(t *testing.T) {
	tr := New()
	base := Options{Deterministic: true, Seed: "s1", FixedTimestamp: time.Unix(0, 0)}
	other := base
	other.Seed = "s2"

	r1, err := tr.Compute(context.Background(), validRequest(), base)
	require.NoError(t, err)
	r2, err := tr.Compute(context.Background(), validRequest(), other)
	require.NoError(t, err)

	assert.NotEqual(t, r1.Nonce, r2.Nonce)
	assert.Len(t, r1.Nonce, 16)
}

func TestComputeQuantizedFields(t *testing.T) {
	tr := New()
	res, err := tr.Compute(context.Background(), validRequest(), Options{
		Deterministic:  true,
		Seed:           "s1",
		FixedTimestamp: time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, "IMMUTABLE_ENTRY", res.Status)
	assert.Equal(t, "SHA3-256", res.Algorithm)
	assert.Equal(t, "24.700", res.CompressionAchieved) // 25.0 * 0.988
	assert.Equal(t, "0.981", res.FidelityVerified)
	assert.Equal(t, "1.000", res.ParadoxResolutionRate)
	assert.Equal(t, 1, res.ParadoxesResolved)
	assert.Equal(t, 2, res.GlyphCount)
	assert.Equal(t, "2026-08-30T00:00:00Z", res.CreatedAt)
	assert.Equal(t, "0.050", res.Metrics.RenderTimeS)
	assert.Equal(t, "1.200", res.Metrics.OCRTimeS)
}

func TestComputeDayAnchorWithoutFixedTimestamp(t *testing.T) {
	tr := New()
	clock := func() time.Time {
		return time.Date(2026, 8, 30, 17, 45, 9, 123, time.UTC)
	}
	res, err := tr.Compute(context.Background(), validRequest(), Options{
		Deterministic: true,
		Seed:          "s1",
		Now:           clock,
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-08-30T00:00:00Z", res.CreatedAt,
		"deterministic runs anchor created_at to UTC midnight")
}

func TestComputeRenderTimeScalesWithComplexity(t *testing.T) {
	tr := New()
	req := validRequest()
	req.GlyphMatrix = make([]string, 30)
	for i := range req.GlyphMatrix {
		req.GlyphMatrix[i] = "G"
	}
	res, err := tr.Compute(context.Background(), req, Options{
		Deterministic: true, Seed: "s1", FixedTimestamp: time.Unix(0, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, "0.150", res.Metrics.RenderTimeS)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing context", func(r *Request) { r.CulturalContext = "  " }},
		{"empty glyph matrix", func(r *Request) { r.GlyphMatrix = nil }},
		{"bad resolution", func(r *Request) { r.OpticalParams.Resolution = "8192" }},
		{"zero compression target", func(r *Request) { r.OpticalParams.CompressionTarget = 0 }},
		{"incomplete paradox zone", func(r *Request) {
			r.ParadoxZones = []ParadoxZone{{GlyphPair: "A|B"}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			_, err := New().Compute(context.Background(), req, Options{Deterministic: true})
			require.Error(t, err)
			assert.True(t, lerrors.Is(err, lerrors.ErrInvalidRequest))
		})
	}
}
