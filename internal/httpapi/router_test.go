package httpapi

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/config"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/ledger"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/orchestrator"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/registry"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/rollup"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/store"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/pkg/ledgerhash"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/pkg/signature"
)

func newTestServer(t *testing.T, signers *registry.Registry) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	if signers == nil {
		signers = registry.Empty()
	}
	cfg := config.Default()
	svc := ledger.New(st, rollup.NewBuilder(st, dir), orchestrator.New(), signers, cfg.ListLimitMax)
	srv := httptest.NewServer(NewRouter(svc, cfg))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body any) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func getJSON(t *testing.T, srv *httptest.Server, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func submission() map[string]any {
	return map[string]any{
		"cultural_context": "CAN_CA_EN",
		"sovereign_level":  "FULL",
		"glyph_matrix":     []string{"G_TRUTH", "G_RECONCILE"},
		"optical_params": map[string]any{
			"resolution":         "8192x8192",
			"compression_target": 25.0,
		},
		"paradox_zones": []map[string]any{
			{"glyph_pair": "G_TRUTH|G_RECONCILE", "resolution_protocol": "TEMPORAL_SPLIT"},
		},
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	code, body := getJSON(t, srv, "/health")
	assert.Equal(t, 200, code)
	assert.Equal(t, "COSMOS_ACTIVE", body["status"])
}

func TestSubmitFetchRollupFlow(t *testing.T) {
	srv := newTestServer(t, nil)

	code, body := postJSON(t, srv, "/cosmos/computation/triad-orchestrator?seed=s1", submission())
	require.Equal(t, 201, code)
	hash, _ := body["ledger_hash"].(string)
	require.NoError(t, ledgerhash.Validate(hash))
	assert.Equal(t, "IMMUTABLE_ENTRY", body["status"])

	code, entry := getJSON(t, srv, "/cosmos/ledger/"+hash)
	require.Equal(t, 200, code)
	capsule := entry["entry"].(map[string]any)
	assert.Equal(t, hash, capsule["identifier"])

	code, list := getJSON(t, srv, "/cosmos/ledger?limit=10")
	require.Equal(t, 200, code)
	assert.Equal(t, float64(1), list["count"])

	day := time.Now().UTC().Format("2006-01-02")
	code, roll := postJSON(t, srv, "/cosmos/rollups/daily", map[string]any{"date": day})
	require.Equal(t, 200, code)
	assert.Equal(t, float64(1), roll["count"])
	assert.Equal(t, "OK", roll["status"])
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), roll["merkle_root"])
	leaves := roll["leaves"].([]any)
	require.Len(t, leaves, 1)
	assert.Equal(t, hash, leaves[0])

	code, loaded := getJSON(t, srv, "/cosmos/rollups/"+day)
	require.Equal(t, 200, code)
	assert.Equal(t, roll["merkle_root"], loaded["merkle_root"])
}

func TestSubmitIsDeterministicAcrossCalls(t *testing.T) {
	srv := newTestServer(t, nil)

	_, first := postJSON(t, srv, "/cosmos/computation/triad-orchestrator?seed=s1", submission())
	_, second := postJSON(t, srv, "/cosmos/computation/triad-orchestrator?seed=s1", submission())
	assert.Equal(t, first["ledger_hash"], second["ledger_hash"])

	_, third := postJSON(t, srv, "/cosmos/computation/triad-orchestrator?seed=s2", submission())
	assert.NotEqual(t, first["ledger_hash"], third["ledger_hash"])
}

func TestLedgerLookupRejectsMalformedIdentifiers(t *testing.T) {
	srv := newTestServer(t, nil)
	for _, bad := range []string{
		"..%2F..%2Fetc%2Fpasswd",
		"ttd_ledger_v1_zz",
		"deadbeef",
	} {
		code, body := getJSON(t, srv, "/cosmos/ledger/"+url.PathEscape(bad))
		assert.Equal(t, 400, code, bad)
		assert.Equal(t, "invalid hash", body["detail"], bad)
	}
}

func TestSubmitRejectsBadSchema(t *testing.T) {
	srv := newTestServer(t, nil)
	bad := submission()
	bad["glyph_matrix"] = []string{}
	code, body := postJSON(t, srv, "/cosmos/computation/triad-orchestrator", bad)
	assert.Equal(t, 400, code)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "INVALID_REQUEST", errObj["code"])
}

func TestEmptyDayRollup(t *testing.T) {
	srv := newTestServer(t, nil)
	code, roll := postJSON(t, srv, "/cosmos/rollups/daily", map[string]any{"date": "2001-01-01"})
	require.Equal(t, 200, code)
	assert.Equal(t, float64(0), roll["count"])
	assert.Equal(t, "EMPTY", roll["status"])
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), roll["merkle_root"])
}

func TestDailyRollupDefaultsWithoutBody(t *testing.T) {
	srv := newTestServer(t, nil)

	code, body := postJSON(t, srv, "/cosmos/computation/triad-orchestrator?seed=s1", submission())
	require.Equal(t, 201, code)
	hash := body["ledger_hash"].(string)

	resp, err := http.Post(srv.URL+"/cosmos/rollups/daily", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode, "a body-less POST rolls up today")
	var roll map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&roll))
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), roll["date"])
	leaves := roll["leaves"].([]any)
	require.Len(t, leaves, 1)
	assert.Equal(t, hash, leaves[0])
}

func TestRollupReadReportsAttachedSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	signers := registry.Empty()
	signers.Put("auditor-1", signature.NamespaceRollup, pub)
	srv := newTestServer(t, signers)

	_, _ = postJSON(t, srv, "/cosmos/computation/triad-orchestrator?seed=s1", submission())
	day := time.Now().UTC().Format("2006-01-02")
	code, roll := postJSON(t, srv, "/cosmos/rollups/daily", map[string]any{"date": day})
	require.Equal(t, 200, code)

	var leaves []string
	for _, l := range roll["leaves"].([]any) {
		leaves = append(leaves, l.(string))
	}
	subject := rollup.Rollup{Date: day, Leaves: leaves, Root: roll["merkle_root"].(string)}.CanonicalBytes()
	env := signature.Sign(subject, priv, signature.NamespaceRollup, "auditor-1", time.Now())
	code, verdict := postJSON(t, srv, "/cosmos/proofs/verify", map[string]any{
		"subject_type": "rollup",
		"date":         day,
		"envelope":     env,
	})
	require.Equal(t, 200, code)
	require.Equal(t, true, verdict["valid"])

	code, loaded := getJSON(t, srv, "/cosmos/rollups/"+day)
	require.Equal(t, 200, code)
	sig, ok := loaded["signature"].(map[string]any)
	require.True(t, ok, "the attached envelope must be reported on rollup reads")
	assert.Equal(t, "auditor-1", sig["principal"])
}

func TestProofVerifyEndpoint(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	signers := registry.Empty()
	signers.Put("auditor-1", signature.NamespaceCapsule, pub)
	srv := newTestServer(t, signers)

	code, body := postJSON(t, srv, "/cosmos/computation/triad-orchestrator?seed=s1", submission())
	require.Equal(t, 201, code)
	hash := body["ledger_hash"].(string)

	// Fetch the exact stored bytes through the raw message the API returns.
	resp, err := http.Get(srv.URL + "/cosmos/ledger/" + hash)
	require.NoError(t, err)
	var wire struct {
		Entry struct {
			Body json.RawMessage `json:"body"`
		} `json:"entry"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&wire))
	resp.Body.Close()

	env := signature.Sign(wire.Entry.Body, priv, signature.NamespaceCapsule, "auditor-1", time.Now())
	code, verdict := postJSON(t, srv, "/cosmos/proofs/verify", map[string]any{
		"subject_type": "capsule",
		"identifier":   hash,
		"envelope":     env,
	})
	require.Equal(t, 200, code)
	assert.Equal(t, true, verdict["valid"])
	assert.Equal(t, string(signature.StatusValid), fmt.Sprint(verdict["status"]))

	// An envelope from an unregistered principal is rejected, registered-key
	// lookup only.
	_, stray, err2 := ed25519.GenerateKey(nil)
	require.NoError(t, err2)
	badEnv := signature.Sign(wire.Entry.Body, stray, signature.NamespaceCapsule, "ghost", time.Now())
	code, verdict = postJSON(t, srv, "/cosmos/proofs/verify", map[string]any{
		"subject_type": "capsule",
		"identifier":   hash,
		"envelope":     badEnv,
	})
	require.Equal(t, 200, code)
	assert.Equal(t, false, verdict["valid"])
	assert.Equal(t, string(signature.StatusUnknownPrincipal), fmt.Sprint(verdict["status"]))
}
