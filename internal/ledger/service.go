// Package ledger wires the computation, canonical hashing, storage, rollup,
// and signature layers into the operations the HTTP surface and CLI expose.
package ledger

import (
	"context"
	"slices"
	"sort"
	"time"

	lerrors "github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/errors"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/orchestrator"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/rollup"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/store"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/pkg/canonjson"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/pkg/ledgerhash"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/pkg/signature"
)

// DefaultListLimit is the page size when a caller does not ask for one.
const DefaultListLimit = 25

// Capsule pairs a request with its computed result. Its canonical JSON is
// exactly what the ledger identifier commits to.
type Capsule struct {
	Request orchestrator.Request `json:"request"`
	Result  orchestrator.Result  `json:"result"`
}

// Receipt is returned for a successful submission.
type Receipt struct {
	Identifier string              `json:"ledger_hash"`
	Result     orchestrator.Result `json:"result"`
}

// Service ties the pieces together behind the public operations.
type Service struct {
	store    *store.Store
	rollups  *rollup.Builder
	computer orchestrator.Computer
	signers  signature.Signers
	limitMax int
}

// New assembles a Service. limitMax caps the ledger listing page size.
func New(st *store.Store, rb *rollup.Builder, comp orchestrator.Computer, signers signature.Signers, limitMax int) *Service {
	if limitMax <= 0 {
		limitMax = DefaultListLimit
	}
	return &Service{store: st, rollups: rb, computer: comp, signers: signers, limitMax: limitMax}
}

// Submit runs the computation and persists the capsule under its content
// hash. Hashing happens before any storage write, so a capsule's identifier
// is always derived purely from its bytes.
func (s *Service) Submit(ctx context.Context, req orchestrator.Request, opts orchestrator.Options) (Receipt, error) {
	result, err := s.computer.Compute(ctx, req, opts)
	if err != nil {
		return Receipt{}, err
	}
	canonical, err := canonjson.Marshal(Capsule{Request: req, Result: result})
	if err != nil {
		return Receipt{}, err
	}
	createdAt, err := time.Parse(time.RFC3339, result.CreatedAt)
	if err != nil {
		return Receipt{}, lerrors.NewInternal(err)
	}
	identifier, err := s.store.Put(ctx, canonical, createdAt)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Identifier: identifier, Result: result}, nil
}

// GetCapsule validates the identifier and loads the capsule. Validation runs
// before any storage access; malformed input never reaches the filesystem.
func (s *Service) GetCapsule(ctx context.Context, identifier string) (store.Capsule, error) {
	if err := ledgerhash.Validate(identifier); err != nil {
		return store.Capsule{}, err
	}
	return s.store.Get(ctx, identifier)
}

// ListRecent returns up to limit capsules, newest first. Zero or negative
// limits fall back to the default page size; limits above the configured
// ceiling are clamped.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]store.Capsule, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > s.limitMax {
		limit = s.limitMax
	}
	return s.store.ListRecent(ctx, limit)
}

// BuildRollup builds (or idempotently rebuilds) the Merkle rollup for a UTC
// day given as YYYY-MM-DD.
func (s *Service) BuildRollup(ctx context.Context, date string) (rollup.Rollup, error) {
	return s.rollups.Build(ctx, date)
}

// GetOrBuildRollup returns the persisted rollup when the day's leaf set is
// unchanged since it was built, and rebuilds otherwise. Safe to call any
// number of times for the same day.
func (s *Service) GetOrBuildRollup(ctx context.Context, date string) (rollup.Rollup, error) {
	persisted, err := s.rollups.Load(date)
	if err != nil {
		if lerrors.Is(err, lerrors.ErrNotFound) {
			return s.rollups.Build(ctx, date)
		}
		return rollup.Rollup{}, err
	}
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return rollup.Rollup{}, lerrors.NewInvalidRequest("date must be formatted YYYY-MM-DD")
	}
	capsules, err := s.store.ListBetween(ctx, day.UTC(), day.UTC().Add(24*time.Hour))
	if err != nil {
		return rollup.Rollup{}, err
	}
	leaves := make([]string, 0, len(capsules))
	for _, c := range capsules {
		leaves = append(leaves, c.Identifier)
	}
	sort.Strings(leaves)
	if slices.Equal(leaves, persisted.Leaves) {
		return persisted, nil
	}
	return s.rollups.Build(ctx, date)
}

// GetRollup loads a previously built rollup.
func (s *Service) GetRollup(date string) (rollup.Rollup, error) {
	return s.rollups.Load(date)
}

// RollupSignature returns the rollup's attached signature of record, or nil
// when none has been attached.
func (s *Service) RollupSignature(date string) (*signature.Envelope, error) {
	env, err := s.rollups.Envelope(date)
	if err != nil {
		if lerrors.Is(err, lerrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return env, nil
}

// VerifyCapsuleSignature checks a detached envelope against the stored
// capsule's canonical bytes and, when valid, attaches it as the capsule's
// signature of record.
func (s *Service) VerifyCapsuleSignature(ctx context.Context, identifier string, env signature.Envelope) (signature.Result, error) {
	if err := ledgerhash.Validate(identifier); err != nil {
		return signature.Result{}, err
	}
	capsule, err := s.store.Get(ctx, identifier)
	if err != nil {
		return signature.Result{}, err
	}
	res := signature.Verify(capsule.Body, signature.NamespaceCapsule, env, s.signers)
	if !res.Valid() {
		return res, nil
	}
	if err := s.store.AttachEnvelope(ctx, identifier, env); err != nil {
		return signature.Result{}, err
	}
	return res, nil
}

// VerifyRollupSignature checks a detached envelope against a built rollup's
// canonical bytes and, when valid, attaches it alongside the rollup.
func (s *Service) VerifyRollupSignature(ctx context.Context, date string, env signature.Envelope) (signature.Result, error) {
	r, err := s.rollups.Load(date)
	if err != nil {
		return signature.Result{}, err
	}
	res := signature.Verify(r.CanonicalBytes(), signature.NamespaceRollup, env, s.signers)
	if !res.Valid() {
		return res, nil
	}
	if err := s.rollups.AttachEnvelope(date, env); err != nil {
		return signature.Result{}, err
	}
	return res, nil
}
