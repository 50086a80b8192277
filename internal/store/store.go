// Package store persists capsules: one immutable, content-addressed record
// per identifier. The durable unit is ledger/<identifier>/capsule.json,
// committed with a temp-file-plus-rename so a half-written body is never
// visible. A SQLite index over (identifier, created_at, day) serves the
// time-range and recency queries; Open reconciles the index from the
// capsule files, so losing an index row loses nothing.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	lerrors "github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/errors"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/pkg/ledgerhash"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/pkg/signature"
)

const (
	capsuleFile   = "capsule.json"
	hashFile      = "hash.txt"
	auditFile     = "envelope.json"
	signatureFile = "capsule.sig.json"
)

// Capsule is one stored record. Body holds the exact canonical bytes of
// {"request":...,"result":...} that the identifier commits to.
type Capsule struct {
	Identifier string              `json:"identifier"`
	Body       json.RawMessage     `json:"body"`
	CreatedAt  time.Time           `json:"created_at"`
	Signature  *signature.Envelope `json:"signature,omitempty"`
}

// Store owns the ledger directory and its index.
type Store struct {
	ledgerDir string
	db        *sql.DB
	locks     sync.Map // identifier -> *sync.Mutex
}

// Open prepares the storage root (creating <baseDir>/ledger and the index
// database) and reconciles any capsule files missing from the index.
func Open(baseDir string) (*Store, error) {
	ledgerDir := filepath.Join(baseDir, "ledger")
	if err := os.MkdirAll(ledgerDir, 0o700); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	db, err := openIndex(filepath.Join(baseDir, "index.db"))
	if err != nil {
		return nil, err
	}
	s := &Store{ledgerDir: ledgerDir, db: db}
	if err := s.reconcile(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the index database.
func (s *Store) Close() error { return s.db.Close() }

// Put persists canonical capsule bytes under their content hash and returns
// the identifier. Write-once compare-and-swap semantics, serialized per
// identifier: resubmitting byte-identical bytes is a no-op success;
// different bytes under the same identifier fail with
// HASH_COLLISION_OR_TAMPER and are never overwritten.
func (s *Store) Put(ctx context.Context, canonical []byte, createdAt time.Time) (string, error) {
	identifier := ledgerhash.Sum(canonical)

	mu := s.lockFor(identifier)
	mu.Lock()
	defer mu.Unlock()

	dir := filepath.Join(s.ledgerDir, identifier)
	existing, err := os.ReadFile(filepath.Join(dir, capsuleFile))
	if err == nil {
		if bytes.Equal(existing, canonical) {
			return identifier, nil
		}
		// Content hashing makes this unreachable unless the stored file was
		// modified out of band or the hash scheme is broken. Alert loudly.
		log.Printf("INTEGRITY: stored bytes differ under %s; refusing overwrite", identifier)
		return "", lerrors.NewHashCollisionOrTamper(identifier)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", lerrors.NewInternal(err)
	}

	if err := ctx.Err(); err != nil {
		return "", lerrors.NewInternal(err)
	}
	if err := writeAtomic(dir, capsuleFile, canonical); err != nil {
		return "", lerrors.NewInternal(err)
	}
	s.writeArtifacts(dir, identifier, createdAt)

	createdAt = createdAt.UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO capsules(identifier, created_at, day) VALUES(?, ?, ?)
		 ON CONFLICT(identifier) DO NOTHING`,
		identifier, createdAt.UnixNano(), createdAt.Format("2006-01-02")); err != nil {
		// The capsule file is durable; the next Open re-indexes it.
		return "", lerrors.NewInternal(err)
	}
	return identifier, nil
}

// Get returns the capsule stored under identifier, with its detached
// signature envelope if one has been attached. Reads take no locks.
func (s *Store) Get(ctx context.Context, identifier string) (Capsule, error) {
	if err := ledgerhash.Validate(identifier); err != nil {
		return Capsule{}, err
	}
	dir := filepath.Join(s.ledgerDir, identifier)
	body, err := os.ReadFile(filepath.Join(dir, capsuleFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Capsule{}, lerrors.NewNotFound("capsule")
		}
		return Capsule{}, lerrors.NewInternal(err)
	}
	createdAt, err := createdAtOf(body)
	if err != nil {
		return Capsule{}, lerrors.NewInternal(fmt.Errorf("capsule %s: %w", identifier, err))
	}
	c := Capsule{Identifier: identifier, Body: body, CreatedAt: createdAt}
	if env, err := readEnvelope(filepath.Join(dir, signatureFile)); err == nil {
		c.Signature = env
	}
	return c, nil
}

// ListBetween returns all capsules with createdAt in [start, end), ordered
// by createdAt then identifier. Any indexed capsule whose body cannot be
// read fails the whole listing with INCOMPLETE_LEDGER; callers building a
// rollup must never see a silently short day.
func (s *Store) ListBetween(ctx context.Context, start, end time.Time) ([]Capsule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identifier FROM capsules
		 WHERE created_at >= ? AND created_at < ?
		 ORDER BY created_at ASC, identifier ASC`,
		start.UTC().UnixNano(), end.UTC().UnixNano())
	if err != nil {
		return nil, lerrors.NewIncompleteLedger(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, lerrors.NewIncompleteLedger(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, lerrors.NewIncompleteLedger(err)
	}

	out := make([]Capsule, 0, len(ids))
	for _, id := range ids {
		c, err := s.Get(ctx, id)
		if err != nil {
			return nil, lerrors.NewIncompleteLedger(fmt.Errorf("capsule %s: %w", id, err))
		}
		out = append(out, c)
	}
	return out, nil
}

// ListRecent returns up to limit capsules, most recent first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Capsule, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT identifier FROM capsules ORDER BY created_at DESC, identifier DESC LIMIT ?`, limit)
	if err != nil {
		return nil, lerrors.NewInternal(err)
	}
	defer rows.Close()

	var out []Capsule
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, lerrors.NewInternal(err)
		}
		c, err := s.Get(ctx, id)
		if err != nil {
			// A capsule listed but unreadable is an integrity problem, not
			// a listing problem; skip it here, rollups will catch it.
			log.Printf("INTEGRITY: capsule %s indexed but unreadable, skipped in listing: %v", id, err)
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AttachEnvelope writes the detached-signature sidecar beside the capsule.
// The capsule body is never touched; a crash mid-attach leaves the capsule
// readable unsigned.
func (s *Store) AttachEnvelope(ctx context.Context, identifier string, env signature.Envelope) error {
	if err := ledgerhash.Validate(identifier); err != nil {
		return err
	}
	mu := s.lockFor(identifier)
	mu.Lock()
	defer mu.Unlock()

	dir := filepath.Join(s.ledgerDir, identifier)
	if _, err := os.Stat(filepath.Join(dir, capsuleFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return lerrors.NewNotFound("capsule")
		}
		return lerrors.NewInternal(err)
	}
	b, err := json.Marshal(env)
	if err != nil {
		return lerrors.NewInternal(err)
	}
	if err := writeAtomic(dir, signatureFile, b); err != nil {
		return lerrors.NewInternal(err)
	}
	return nil
}

func (s *Store) lockFor(identifier string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(identifier, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// reconcile inserts index rows for any capsule file the index does not
// know about, closing the crash window between file rename and insert.
func (s *Store) reconcile() error {
	entries, err := os.ReadDir(s.ledgerDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() || ledgerhash.Validate(e.Name()) != nil {
			continue
		}
		var n int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM capsules WHERE identifier=?`, e.Name()).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		body, err := os.ReadFile(filepath.Join(s.ledgerDir, e.Name(), capsuleFile))
		if err != nil {
			continue
		}
		createdAt, err := createdAtOf(body)
		if err != nil {
			log.Printf("INTEGRITY: capsule %s has no parseable created_at; left unindexed", e.Name())
			continue
		}
		createdAt = createdAt.UTC()
		if _, err := s.db.Exec(
			`INSERT INTO capsules(identifier, created_at, day) VALUES(?, ?, ?)
			 ON CONFLICT(identifier) DO NOTHING`,
			e.Name(), createdAt.UnixNano(), createdAt.Format("2006-01-02")); err != nil {
			return err
		}
	}
	return nil
}

// writeArtifacts emits the human-auditable sidecars (hash.txt and the audit
// envelope). Best effort: the capsule body is already durable.
func (s *Store) writeArtifacts(dir, identifier string, createdAt time.Time) {
	_ = writeAtomic(dir, hashFile, []byte(identifier+"\n"))
	audit := map[string]any{
		"type": "TTD_PROOF",
		"alg":  "SHA3-256",
		"hash": identifier,
		"ts":   createdAt.UTC().Format(time.RFC3339),
	}
	if b, err := json.Marshal(audit); err == nil {
		_ = writeAtomic(dir, auditFile, b)
	}
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
		return err
	}
	return nil
}

func readEnvelope(path string) (*signature.Envelope, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var env signature.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// createdAtOf extracts result.created_at from canonical capsule bytes.
func createdAtOf(body []byte) (time.Time, error) {
	var peek struct {
		Result struct {
			CreatedAt string `json:"created_at"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &peek); err != nil {
		return time.Time{}, err
	}
	if peek.Result.CreatedAt == "" {
		return time.Time{}, fmt.Errorf("missing result.created_at")
	}
	t, err := time.Parse(time.RFC3339, peek.Result.CreatedAt)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
