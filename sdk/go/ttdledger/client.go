// Package ttdledger is the Go client for the triad ledger HTTP API.
package ttdledger

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const APIVersion = "v1"

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type Error struct {
	StatusCode int
	ErrorCode  string
	Message    string
	RequestID  string
	Details    map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("ttdledger sdk error: status=%d code=%s message=%s", e.StatusCode, e.ErrorCode, e.Message)
}

// Receipt is the response to a computation submission.
type Receipt struct {
	LedgerHash string         `json:"ledger_hash"`
	Status     string         `json:"status"`
	Result     map[string]any `json:"result"`
	Raw        map[string]any `json:"-"`
}

// Entry is one stored capsule as the API returns it.
type Entry struct {
	Identifier string          `json:"identifier"`
	Body       json.RawMessage `json:"body"`
	CreatedAt  time.Time       `json:"created_at"`
	Signature  map[string]any  `json:"signature,omitempty"`
}

// Rollup is a daily Merkle rollup.
type Rollup struct {
	Date       string   `json:"date"`
	Version    string   `json:"version"`
	Count      int      `json:"count"`
	MerkleRoot string   `json:"merkle_root"`
	Leaves     []string `json:"leaves"`
}

// Verdict is the outcome of a proof verification.
type Verdict struct {
	Valid   bool           `json:"valid"`
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.httpClient = h } }
func WithRetry(r RetryConfig) Option       { return func(c *Client) { c.retry = r } }

// Client talks to one ledger service instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      RetryConfig
}

// New creates a Client for baseURL (no trailing slash required).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      RetryConfig{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.MaxAttempts <= 0 {
		c.retry.MaxAttempts = 1
	}
	if c.retry.BaseDelay <= 0 {
		c.retry.BaseDelay = 200 * time.Millisecond
	}
	if c.retry.MaxDelay <= 0 {
		c.retry.MaxDelay = 5 * time.Second
	}
	return c
}

// Health reports whether the service answers its health probe.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/health", nil, true)
	return err
}

// SubmitComputation posts a triad session request. seed may be empty, in
// which case the service applies its configured default.
func (c *Client) SubmitComputation(ctx context.Context, request map[string]any, seed string) (*Receipt, error) {
	path := "/cosmos/computation/triad-orchestrator"
	if strings.TrimSpace(seed) != "" {
		path += "?seed=" + url.QueryEscape(seed)
	}
	payload, err := c.do(ctx, http.MethodPost, path, request, false)
	if err != nil {
		return nil, err
	}
	out := &Receipt{Raw: payload}
	out.LedgerHash, _ = payload["ledger_hash"].(string)
	out.Status, _ = payload["status"].(string)
	out.Result, _ = payload["result"].(map[string]any)
	return out, nil
}

// GetEntry fetches a stored capsule by ledger hash.
func (c *Client) GetEntry(ctx context.Context, identifier string) (*Entry, error) {
	payload, err := c.do(ctx, http.MethodGet, "/cosmos/ledger/"+url.PathEscape(identifier), nil, true)
	if err != nil {
		return nil, err
	}
	return decodeField[Entry](payload, "entry")
}

// ListEntries returns up to limit recent ledger entries. limit <= 0 uses the
// service default.
func (c *Client) ListEntries(ctx context.Context, limit int) ([]Entry, error) {
	path := "/cosmos/ledger"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	payload, err := c.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, err
	}
	entries, err := decodeField[[]Entry](payload, "entries")
	if err != nil {
		return nil, err
	}
	return *entries, nil
}

// BuildDailyRollup asks the service to build (or idempotently rebuild) the
// rollup for date (YYYY-MM-DD). Empty date means today UTC.
func (c *Client) BuildDailyRollup(ctx context.Context, date string) (*Rollup, error) {
	body := map[string]any{}
	if strings.TrimSpace(date) != "" {
		body["date"] = date
	}
	payload, err := c.do(ctx, http.MethodPost, "/cosmos/rollups/daily", body, false)
	if err != nil {
		return nil, err
	}
	return decodePayload[Rollup](payload)
}

// GetRollup fetches a previously built rollup.
func (c *Client) GetRollup(ctx context.Context, date string) (*Rollup, error) {
	payload, err := c.do(ctx, http.MethodGet, "/cosmos/rollups/"+url.PathEscape(date), nil, true)
	if err != nil {
		return nil, err
	}
	return decodePayload[Rollup](payload)
}

// VerifyCapsuleProof submits a detached envelope for a stored capsule.
func (c *Client) VerifyCapsuleProof(ctx context.Context, identifier string, envelope any) (*Verdict, error) {
	return c.verifyProof(ctx, map[string]any{
		"subject_type": "capsule",
		"identifier":   identifier,
		"envelope":     envelope,
	})
}

// VerifyRollupProof submits a detached envelope for a built rollup.
func (c *Client) VerifyRollupProof(ctx context.Context, date string, envelope any) (*Verdict, error) {
	return c.verifyProof(ctx, map[string]any{
		"subject_type": "rollup",
		"date":         date,
		"envelope":     envelope,
	})
}

func (c *Client) verifyProof(ctx context.Context, body map[string]any) (*Verdict, error) {
	payload, err := c.do(ctx, http.MethodPost, "/cosmos/proofs/verify", body, false)
	if err != nil {
		return nil, err
	}
	return decodePayload[Verdict](payload)
}

func (c *Client) do(ctx context.Context, method, path string, body any, retryable bool) (map[string]any, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}
	attempts := 1
	if retryable {
		attempts = c.retry.MaxAttempts
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "ttdledger-go-sdk/0.1.0 (api:"+APIVersion+")")
		if len(bodyBytes) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < attempts {
				sleepWithBackoff(c.retry, attempt, "")
				continue
			}
			return nil, err
		}
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			var obj map[string]any
			if len(respBody) == 0 {
				return map[string]any{}, nil
			}
			if err := json.Unmarshal(respBody, &obj); err != nil {
				return nil, err
			}
			return obj, nil
		}
		if shouldRetryStatus(resp.StatusCode) && attempt < attempts {
			sleepWithBackoff(c.retry, attempt, resp.Header.Get("Retry-After"))
			continue
		}
		return nil, parseSDKError(resp.StatusCode, respBody)
	}
	return nil, errors.New("unreachable")
}

func decodeField[T any](payload map[string]any, field string) (*T, error) {
	raw, ok := payload[field]
	if !ok {
		return nil, fmt.Errorf("response missing %q", field)
	}
	return roundTrip[T](raw)
}

func decodePayload[T any](payload map[string]any) (*T, error) {
	return roundTrip[T](payload)
}

func roundTrip[T any](raw any) (*T, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func shouldRetryStatus(status int) bool {
	return status == 429 || status == 502 || status == 503 || status == 504
}

func sleepWithBackoff(cfg RetryConfig, attempt int, retryAfter string) {
	if strings.TrimSpace(retryAfter) != "" {
		if sec, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil {
			d := time.Duration(sec) * time.Second
			if d > cfg.MaxDelay {
				d = cfg.MaxDelay
			}
			time.Sleep(d)
			return
		}
	}
	max := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if max > float64(cfg.MaxDelay) {
		max = float64(cfg.MaxDelay)
	}
	n, _ := rand.Int(rand.Reader, big.NewInt(int64(max)))
	time.Sleep(time.Duration(n.Int64()))
}

func parseSDKError(status int, body []byte) error {
	out := &Error{StatusCode: status}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		out.Message = strings.TrimSpace(string(body))
		if out.Message == "" {
			out.Message = http.StatusText(status)
		}
		return out
	}
	out.RequestID, _ = obj["request_id"].(string)
	if inner, ok := obj["error"].(map[string]any); ok {
		obj = inner
	}
	out.ErrorCode, _ = obj["code"].(string)
	out.Message, _ = obj["message"].(string)
	if d, ok := obj["details"].(map[string]any); ok {
		out.Details = d
	}
	if out.Message == "" {
		out.Message = http.StatusText(status)
	}
	return out
}
