// Package httpapi exposes the ledger operations over HTTP. Handlers are
// wired inline on a chi router; the ledger service is the only shared state.
package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/config"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/ledger"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/orchestrator"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/pkg/httpx"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/pkg/signature"
)

// NewRouter mounts the ledger API.
func NewRouter(svc *ledger.Service, cfg *config.Config) chi.Router {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]any{"status": "COSMOS_ACTIVE", "ledger": "ttd_ledger_v1"})
	})

	r.Route("/cosmos", func(api chi.Router) {

		api.Post("/computation/triad-orchestrator", func(w http.ResponseWriter, r *http.Request) {
			var req orchestrator.Request
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			seed := r.URL.Query().Get("seed")
			if seed == "" {
				seed = cfg.DefaultSeed
			}
			// Deterministic unless explicitly disabled.
			deterministic := r.URL.Query().Get("deterministic") != "false"
			receipt, err := svc.Submit(r.Context(), req, orchestrator.Options{Deterministic: deterministic, Seed: seed})
			if err != nil {
				httpx.WriteLedgerError(w, err)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{
				"request_id":              httpx.NewRequestID(),
				"ledger_hash":             receipt.Identifier,
				"status":                  receipt.Result.Status,
				"computational_fidelity":  receipt.Result.FidelityVerified,
				"paradox_resolution_rate": receipt.Result.ParadoxResolutionRate,
				"temporal_anchor":         receipt.Result.CreatedAt,
				"result":                  receipt.Result,
			})
		})

		api.Get("/ledger", func(w http.ResponseWriter, r *http.Request) {
			limit := 0
			if v := r.URL.Query().Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					httpx.WriteError(w, 400, "INVALID_REQUEST", "limit must be an integer", nil)
					return
				}
				limit = n
			}
			capsules, err := svc.ListRecent(r.Context(), limit)
			if err != nil {
				httpx.WriteLedgerError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"count":      len(capsules),
				"entries":    capsules,
			})
		})

		api.Get("/ledger/{identifier}", func(w http.ResponseWriter, r *http.Request) {
			capsule, err := svc.GetCapsule(r.Context(), chi.URLParam(r, "identifier"))
			if err != nil {
				httpx.WriteLedgerError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"entry":      capsule,
			})
		})

		api.Post("/rollups/daily", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Date string `json:"date"`
			}
			// A body-less POST rolls up today.
			if err := httpx.ReadJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if req.Date == "" {
				req.Date = time.Now().UTC().Format("2006-01-02")
			}
			roll, err := svc.GetOrBuildRollup(r.Context(), req.Date)
			if err != nil {
				httpx.WriteLedgerError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, rollupPayload(roll.Date, roll.Version, roll.Count, roll.Root, roll.Leaves))
		})

		api.Get("/rollups/{date}", func(w http.ResponseWriter, r *http.Request) {
			roll, err := svc.GetRollup(chi.URLParam(r, "date"))
			if err != nil {
				httpx.WriteLedgerError(w, err)
				return
			}
			payload := rollupPayload(roll.Date, roll.Version, roll.Count, roll.Root, roll.Leaves)
			if env, err := svc.RollupSignature(roll.Date); err == nil && env != nil {
				payload["signature"] = env
			}
			httpx.WriteJSON(w, 200, payload)
		})

		api.Post("/proofs/verify", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				SubjectType string             `json:"subject_type"`
				Identifier  string             `json:"identifier,omitempty"`
				Date        string             `json:"date,omitempty"`
				Envelope    signature.Envelope `json:"envelope"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			var res signature.Result
			var err error
			switch req.SubjectType {
			case "capsule":
				res, err = svc.VerifyCapsuleSignature(r.Context(), req.Identifier, req.Envelope)
			case "rollup":
				res, err = svc.VerifyRollupSignature(r.Context(), req.Date, req.Envelope)
			default:
				httpx.WriteError(w, 400, "INVALID_REQUEST", "subject_type must be capsule or rollup", nil)
				return
			}
			if err != nil {
				httpx.WriteLedgerError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"valid":      res.Valid(),
				"status":     res.Status,
				"details":    res.Details,
			})
		})
	})
	return r
}

func rollupPayload(date, version string, count int, root string, leaves []string) map[string]any {
	status := "OK"
	if count == 0 {
		status = "EMPTY"
	}
	return map[string]any{
		"request_id":  httpx.NewRequestID(),
		"date":        date,
		"version":     version,
		"count":       count,
		"status":      status,
		"merkle_root": root,
		"leaves":      leaves,
	}
}
