package ttdledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const testHash = "ttd_ledger_v1_4ac1b2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b1"

func ledgerStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{"status": "COSMOS_ACTIVE"})
	})
	mux.HandleFunc("POST /cosmos/computation/triad-orchestrator", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("seed") != "s1" {
			writeJSON(w, 400, map[string]any{"request_id": "req_x", "error": map[string]any{"code": "INVALID_REQUEST", "message": "seed missing"}})
			return
		}
		writeJSON(w, 201, map[string]any{
			"request_id":  "req_1",
			"ledger_hash": testHash,
			"status":      "IMMUTABLE_ENTRY",
			"result":      map[string]any{"glyph_count": 2},
		})
	})
	mux.HandleFunc("GET /cosmos/ledger/{identifier}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("identifier") != testHash {
			writeJSON(w, 400, map[string]any{"request_id": "req_2", "detail": "invalid hash", "error": map[string]any{"code": "INVALID_IDENTIFIER", "message": "invalid hash"}})
			return
		}
		writeJSON(w, 200, map[string]any{
			"request_id": "req_3",
			"entry": map[string]any{
				"identifier": testHash,
				"body":       map[string]any{"request": map[string]any{}, "result": map[string]any{}},
				"created_at": time.Now().UTC().Format(time.RFC3339),
			},
		})
	})
	mux.HandleFunc("GET /cosmos/ledger", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{
			"request_id": "req_4",
			"count":      1,
			"entries": []map[string]any{{
				"identifier": testHash,
				"body":       map[string]any{},
				"created_at": time.Now().UTC().Format(time.RFC3339),
			}},
		})
	})
	mux.HandleFunc("POST /cosmos/rollups/daily", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{
			"request_id":  "req_5",
			"date":        "2026-08-30",
			"version":     "ttd_rollup_v1",
			"count":       1,
			"merkle_root": "ab12",
			"leaves":      []string{testHash},
		})
	})
	mux.HandleFunc("POST /cosmos/proofs/verify", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{"request_id": "req_6", "valid": false, "status": "UNKNOWN_PRINCIPAL"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSubmitComputation(t *testing.T) {
	srv := ledgerStub(t)
	c := New(srv.URL)
	receipt, err := c.SubmitComputation(context.Background(), map[string]any{"cultural_context": "CAN_CA_EN"}, "s1")
	if err != nil {
		t.Fatalf("SubmitComputation: %v", err)
	}
	if receipt.LedgerHash != testHash {
		t.Fatalf("unexpected ledger hash: %s", receipt.LedgerHash)
	}
	if receipt.Status != "IMMUTABLE_ENTRY" {
		t.Fatalf("unexpected status: %s", receipt.Status)
	}
}

func TestGetEntryAndList(t *testing.T) {
	srv := ledgerStub(t)
	c := New(srv.URL)

	entry, err := c.GetEntry(context.Background(), testHash)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if entry.Identifier != testHash {
		t.Fatalf("unexpected identifier: %s", entry.Identifier)
	}

	entries, err := c.ListEntries(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
}

func TestGetEntryErrorSurface(t *testing.T) {
	srv := ledgerStub(t)
	c := New(srv.URL)
	_, err := c.GetEntry(context.Background(), "bogus")
	if err == nil {
		t.Fatal("expected error")
	}
	var sdkErr *Error
	if !errors.As(err, &sdkErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if sdkErr.StatusCode != 400 || sdkErr.ErrorCode != "INVALID_IDENTIFIER" {
		t.Fatalf("unexpected error: %+v", sdkErr)
	}
	if sdkErr.Message != "invalid hash" {
		t.Fatalf("unexpected message: %s", sdkErr.Message)
	}
}

func TestBuildDailyRollup(t *testing.T) {
	srv := ledgerStub(t)
	c := New(srv.URL)
	roll, err := c.BuildDailyRollup(context.Background(), "2026-08-30")
	if err != nil {
		t.Fatalf("BuildDailyRollup: %v", err)
	}
	if roll.Version != "ttd_rollup_v1" || roll.Count != 1 {
		t.Fatalf("unexpected rollup: %+v", roll)
	}
	if len(roll.Leaves) != 1 || roll.Leaves[0] != testHash {
		t.Fatalf("unexpected leaves: %v", roll.Leaves)
	}
}

func TestVerifyProofVerdict(t *testing.T) {
	srv := ledgerStub(t)
	c := New(srv.URL)
	verdict, err := c.VerifyCapsuleProof(context.Background(), testHash, map[string]any{"version": "ttd-sig-v1"})
	if err != nil {
		t.Fatalf("VerifyCapsuleProof: %v", err)
	}
	if verdict.Valid {
		t.Fatal("expected invalid verdict")
	}
	if verdict.Status != "UNKNOWN_PRINCIPAL" {
		t.Fatalf("unexpected status: %s", verdict.Status)
	}
}

func TestRetriesOn503(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(503)
			return
		}
		writeJSON(w, 200, map[string]any{"status": "COSMOS_ACTIVE"})
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, WithRetry(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}))
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestDoesNotRetryPOST(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(503)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, WithRetry(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}))
	_, err := c.SubmitComputation(context.Background(), map[string]any{}, "s1")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("submissions must not be retried, got %d attempts", calls.Load())
	}
}
