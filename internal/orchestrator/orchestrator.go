// Package orchestrator runs the triad computation: optical rendering,
// compression, and paradox validation over an HGL session request. The
// ledger core only sees the Computer interface; everything in here is
// opaque, replaceable domain logic.
package orchestrator

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	lerrors "github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/errors"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/pkg/canonjson"
)

// ParadoxZone marks a contradiction between two glyphs and the protocol
// that resolves it.
type ParadoxZone struct {
	GlyphPair          string `json:"glyph_pair"`
	ResolutionProtocol string `json:"resolution_protocol"`
}

// OpticalParams configure the rendering phase.
type OpticalParams struct {
	Resolution        string  `json:"resolution"`
	CompressionTarget float64 `json:"compression_target"`
}

// Request is one HGL session submission.
type Request struct {
	CulturalContext string        `json:"cultural_context"`
	SovereignLevel  string        `json:"sovereign_level"`
	GlyphMatrix     []string      `json:"glyph_matrix"`
	OpticalParams   OpticalParams `json:"optical_params"`
	ParadoxZones    []ParadoxZone `json:"paradox_zones,omitempty"`
}

// Metrics records per-phase timing. Values are quantized decimal strings so
// they canonicalize identically on every platform.
type Metrics struct {
	RenderTimeS    string `json:"render_time_s"`
	OCRTimeS       string `json:"ocr_time_s"`
	ValidateTimeS  string `json:"validate_time_s"`
	BroadcastTimeS string `json:"broadcast_time_s"`
}

// Result is the triad computation output. Every field feeds the capsule's
// canonical bytes, so all of them must be deterministic under a fixed seed.
type Result struct {
	Status                string  `json:"status"`
	CreatedAt             string  `json:"created_at"`
	Algorithm             string  `json:"ledger_algorithm"`
	Nonce                 string  `json:"nonce"`
	GlyphCount            int     `json:"glyph_count"`
	CompressionAchieved   string  `json:"compression_achieved"`
	FidelityVerified      string  `json:"fidelity_verified"`
	ParadoxesResolved     int     `json:"paradoxes_resolved"`
	ParadoxResolutionRate string  `json:"paradox_resolution_rate"`
	CulturalContext       string  `json:"cultural_context"`
	SovereignLevel        string  `json:"sovereign_level"`
	Metrics               Metrics `json:"metrics"`
}

// Options steer determinism.
type Options struct {
	// Deterministic derives the nonce from the request and Seed instead of
	// wall-clock entropy.
	Deterministic bool
	Seed          string
	// FixedTimestamp pins created_at for reproducible offline runs. When
	// zero and Deterministic is set, created_at anchors to the current UTC
	// day's midnight so that same-day resubmissions reproduce the same
	// ledger hash while day-bucketing stays truthful.
	FixedTimestamp time.Time
	// Now is the clock, injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

// Computer is the pure computation boundary the ledger core depends on.
type Computer interface {
	Compute(ctx context.Context, req Request, opts Options) (Result, error)
}

// Triad is the shipped Computer.
type Triad struct{}

// New returns the triad Computer.
func New() *Triad { return &Triad{} }

// Validate is the schema gate applied before any computation or hashing.
func Validate(req Request) error {
	if strings.TrimSpace(req.CulturalContext) == "" {
		return lerrors.NewInvalidRequest("cultural_context is required")
	}
	if len(req.GlyphMatrix) == 0 {
		return lerrors.NewInvalidRequest("glyph_matrix must contain at least one glyph")
	}
	if !strings.Contains(req.OpticalParams.Resolution, "x") {
		return lerrors.NewInvalidRequest("optical_params.resolution must be like 8192x8192")
	}
	if req.OpticalParams.CompressionTarget <= 0 {
		return lerrors.NewInvalidRequest("optical_params.compression_target must be positive")
	}
	for i, z := range req.ParadoxZones {
		if z.GlyphPair == "" || z.ResolutionProtocol == "" {
			return lerrors.NewInvalidRequest(fmt.Sprintf("paradox_zones[%d] needs glyph_pair and resolution_protocol", i))
		}
	}
	return nil
}

// Compute runs the three simulated phases and assembles the result. Pure:
// with Deterministic set and the same request, seed, and timestamp anchor,
// the result is bit-identical across runs.
func (t *Triad) Compute(ctx context.Context, req Request, opts Options) (Result, error) {
	if err := Validate(req); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, lerrors.NewInternal(err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	// Phase 1: optical rendering.
	complexity := len(req.GlyphMatrix) * len(req.ParadoxZones)
	renderTime := float64(complexity) * 0.005
	if renderTime < 0.05 {
		renderTime = 0.05
	}

	// Phase 2: compression. Achieved ratio tracks the target at the pinned
	// efficiency factor.
	achieved := req.OpticalParams.CompressionTarget * 0.988
	const fidelity = 0.981

	// Phase 3: paradox validation.
	resolved := len(req.ParadoxZones)
	rate := 1.0
	if resolved > 0 {
		rate = float64(resolved) / float64(len(req.ParadoxZones))
	}

	createdAt := t.createdAt(opts, now)
	nonce, err := t.nonce(req, opts, achieved, resolved, now)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Status:                "IMMUTABLE_ENTRY",
		CreatedAt:             createdAt.Format(time.RFC3339),
		Algorithm:             "SHA3-256",
		Nonce:                 nonce,
		GlyphCount:            len(req.GlyphMatrix),
		CompressionAchieved:   qfloat(achieved),
		FidelityVerified:      qfloat(fidelity),
		ParadoxesResolved:     resolved,
		ParadoxResolutionRate: qfloat(rate),
		CulturalContext:       req.CulturalContext,
		SovereignLevel:        req.SovereignLevel,
		Metrics: Metrics{
			RenderTimeS:    qfloat(renderTime),
			OCRTimeS:       qfloat(1.2),
			ValidateTimeS:  qfloat(0.8),
			BroadcastTimeS: qfloat(0.5),
		},
	}, nil
}

func (t *Triad) createdAt(opts Options, now func() time.Time) time.Time {
	if !opts.FixedTimestamp.IsZero() {
		return opts.FixedTimestamp.UTC().Truncate(time.Second)
	}
	if opts.Deterministic {
		return now().UTC().Truncate(24 * time.Hour)
	}
	return now().UTC().Truncate(time.Second)
}

// nonce derives eight bytes of seed-bound entropy in deterministic mode,
// matching how reproducible runs are anchored; otherwise it is wall-clock
// nanoseconds.
func (t *Triad) nonce(req Request, opts Options, achieved float64, resolved int, now func() time.Time) (string, error) {
	if !opts.Deterministic {
		return strconv.FormatInt(now().UnixNano(), 10), nil
	}
	material, err := canonjson.Marshal(map[string]any{
		"cultural_context":  req.CulturalContext,
		"sovereign_level":   req.SovereignLevel,
		"glyph_count":       len(req.GlyphMatrix),
		"compression_ratio": qfloat(achieved),
		"paradox_resolved":  resolved,
		"seed":              opts.Seed,
	})
	if err != nil {
		return "", err
	}
	digest := sha3.Sum256(material)
	return hex.EncodeToString(digest[:8]), nil
}

// qfloat renders a float as a fixed three-decimal string, the quantization
// rule for every fractional value that feeds the ledger hash.
func qfloat(x float64) string {
	return strconv.FormatFloat(x, 'f', 3, 64)
}
