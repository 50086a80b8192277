package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	lerrors "github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/errors"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	resp := map[string]any{
		"request_id": NewRequestID(),
		"detail":     message,
		"error": map[string]any{
			"code": code, "message": message, "details": details,
		},
	}
	WriteJSON(w, status, resp)
}

// WriteLedgerError maps a structured ledger error onto the wire. Unknown
// error types become opaque 500s so storage internals never leak.
func WriteLedgerError(w http.ResponseWriter, err error) {
	var lerr *lerrors.LedgerError
	if errors.As(err, &lerr) {
		WriteError(w, lerr.Status, string(lerr.Code), lerr.Message, lerr.Details)
		return
	}
	WriteError(w, 500, string(lerrors.ErrInternal), "internal error", nil)
}
