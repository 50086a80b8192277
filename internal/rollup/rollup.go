// Package rollup builds and persists the daily Merkle commitment over
// capsule identifiers.
package rollup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lerrors "github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/errors"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/store"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/pkg/merkle"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/pkg/signature"
)

const (
	rollupFile    = "rollup.json"
	leavesFile    = "leaves.txt"
	rootFile      = "merkle_root.txt"
	signatureFile = "rollup.sig.json"

	dayFormat = "2006-01-02"
)

// Rollup is one day's commitment. Leaves are capsule identifiers sorted
// lexicographically, so the root is independent of arrival order.
type Rollup struct {
	Date    string   `json:"date"`
	Version string   `json:"version"`
	Count   int      `json:"count"`
	Leaves  []string `json:"leaves"`
	Root    string   `json:"merkle_root"`
}

// Empty reports whether the day had no capsules (the root is then the
// fixed empty-tree sentinel).
func (r Rollup) Empty() bool { return r.Count == 0 }

// CanonicalBytes is the exact signing subject for a rollup: each leaf
// followed by a newline, then the root followed by a newline.
func (r Rollup) CanonicalBytes() []byte {
	var b strings.Builder
	for _, leaf := range r.Leaves {
		b.WriteString(leaf)
		b.WriteString("\n")
	}
	b.WriteString(r.Root)
	b.WriteString("\n")
	return []byte(b.String())
}

// Builder constructs rollups from the capsule store and persists them under
// <dir>/<date>/.
type Builder struct {
	st    *store.Store
	dir   string
	locks sync.Map // date -> *sync.Mutex
}

// NewBuilder creates a Builder writing under dir.
func NewBuilder(st *store.Store, dir string) *Builder {
	return &Builder{st: st, dir: dir}
}

// Build snapshots the capsules of the given UTC day (format 2006-01-02),
// commits to them, and atomically persists the leaf list and root.
// Rebuilding an unchanged day reproduces the identical rollup; concurrent
// builds for the same day serialize. An enumeration failure aborts the
// build: no partial root is ever published.
func (b *Builder) Build(ctx context.Context, date string) (Rollup, error) {
	day, err := time.ParseInLocation(dayFormat, date, time.UTC)
	if err != nil {
		return Rollup{}, lerrors.NewInvalidRequest("date must be formatted YYYY-MM-DD")
	}

	mu := b.lockFor(date)
	mu.Lock()
	defer mu.Unlock()

	capsules, err := b.st.ListBetween(ctx, day, day.Add(24*time.Hour))
	if err != nil {
		return Rollup{}, err
	}
	leaves := make([]string, 0, len(capsules))
	for _, c := range capsules {
		leaves = append(leaves, c.Identifier)
	}
	sort.Strings(leaves)

	r := Rollup{
		Date:    date,
		Version: merkle.Version,
		Count:   len(leaves),
		Leaves:  leaves,
		Root:    merkle.Root(leaves),
	}
	if err := ctx.Err(); err != nil {
		return Rollup{}, lerrors.NewInternal(err)
	}
	if err := b.persist(r); err != nil {
		return Rollup{}, lerrors.NewInternal(err)
	}
	return r, nil
}

// Load reads a previously persisted rollup. A rollup whose stored root does
// not commit to its own leaves is refused, never served.
func (b *Builder) Load(date string) (Rollup, error) {
	if _, err := time.ParseInLocation(dayFormat, date, time.UTC); err != nil {
		return Rollup{}, lerrors.NewInvalidRequest("date must be formatted YYYY-MM-DD")
	}
	data, err := os.ReadFile(filepath.Join(b.dir, date, rollupFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Rollup{}, lerrors.NewNotFound("rollup")
		}
		return Rollup{}, lerrors.NewInternal(err)
	}
	var r Rollup
	if err := json.Unmarshal(data, &r); err != nil {
		return Rollup{}, lerrors.NewInternal(err)
	}
	if r.Root != merkle.Root(r.Leaves) || r.Count != len(r.Leaves) {
		log.Printf("INTEGRITY: rollup %s root does not commit to its leaves; refusing to serve", date)
		return Rollup{}, lerrors.NewRollupTamper(date)
	}
	return r, nil
}

// AttachEnvelope writes the detached-signature sidecar beside a persisted
// rollup.
func (b *Builder) AttachEnvelope(date string, env signature.Envelope) error {
	if _, err := b.Load(date); err != nil {
		return err
	}
	mu := b.lockFor(date)
	mu.Lock()
	defer mu.Unlock()
	data, err := json.Marshal(env)
	if err != nil {
		return lerrors.NewInternal(err)
	}
	if err := writeAtomic(filepath.Join(b.dir, date), signatureFile, data); err != nil {
		return lerrors.NewInternal(err)
	}
	return nil
}

// Envelope reads the detached-signature sidecar for a date, if present.
func (b *Builder) Envelope(date string) (*signature.Envelope, error) {
	data, err := os.ReadFile(filepath.Join(b.dir, date, signatureFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, lerrors.NewNotFound("rollup signature")
		}
		return nil, lerrors.NewInternal(err)
	}
	var env signature.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, lerrors.NewInternal(err)
	}
	return &env, nil
}

// persist publishes rollup.json as the single durable unit: leaves and root
// become visible together or not at all. The text files are derived
// sidecars for human audit, written best effort afterwards.
func (b *Builder) persist(r Rollup) error {
	dir := filepath.Join(b.dir, r.Date)
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := writeAtomic(dir, rollupFile, data); err != nil {
		return err
	}
	var leaves strings.Builder
	for _, leaf := range r.Leaves {
		leaves.WriteString(leaf)
		leaves.WriteString("\n")
	}
	_ = writeAtomic(dir, leavesFile, []byte(leaves.String()))
	_ = writeAtomic(dir, rootFile, []byte(r.Root+"\n"))
	return nil
}

func (b *Builder) lockFor(date string) *sync.Mutex {
	v, _ := b.locks.LoadOrStore(date, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func writeAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish %s: %w", name, err)
	}
	return nil
}
