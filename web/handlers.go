package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/fitgate/app"
	"github.com/artpar/fitgate/domain/key"
	"github.com/artpar/fitgate/domain/quota"
	"github.com/artpar/fitgate/domain/usage"
	"github.com/artpar/fitgate/ports"
)

// -----------------------------------------------------------------------------
// Authorization (hot path)
// -----------------------------------------------------------------------------

// AuthorizeRequest is the body of POST /v1/authorize.
type AuthorizeRequest struct {
	APIKey string `json:"api_key"`
	Tool   string `json:"tool,omitempty"`
}

// AuthorizeResponse is the decision returned to the MCP router. An allow
// carries the window the reservation was charged to (unix seconds); the
// router echoes it back on finalize so a rollback settles the right window.
type AuthorizeResponse struct {
	Allowed     bool   `json:"allowed"`
	KeyID       string `json:"key_id,omitempty"`
	OwnerID     string `json:"owner_id,omitempty"`
	Tier        string `json:"tier,omitempty"`
	Remaining   int64  `json:"remaining"`
	Flagged     bool   `json:"flagged,omitempty"`
	Reason      string `json:"reason,omitempty"`
	WindowStart int64  `json:"window_start,omitempty"`
}

// Authorize decides one tool invocation. Denials are 200 responses with
// allowed=false; only storage unavailability is an error status, so the
// router can tell "no" apart from "don't know".
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "missing_api_key", "api_key is required")
		return
	}

	start := h.clock.Now()
	d, err := h.guard.Authorize(r.Context(), req.APIKey)
	if err != nil {
		h.logger.Error().Err(err).Msg("authorization unavailable")
		if h.metrics != nil {
			h.metrics.Unavailable.Inc()
		}
		writeError(w, http.StatusServiceUnavailable, "unavailable", "Authorization storage unavailable")
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveDecision(d, h.clock.Now().Sub(start).Seconds())
	}

	resp := AuthorizeResponse{
		Allowed:   d.Allowed,
		KeyID:     d.KeyID,
		OwnerID:   d.OwnerID,
		Tier:      string(d.Tier),
		Remaining: d.Remaining,
		Flagged:   d.Flagged,
		Reason:    string(d.Reason),
	}
	if !d.WindowStart.IsZero() {
		resp.WindowStart = d.WindowStart.Unix()
	}
	writeJSON(w, http.StatusOK, resp)
}

// FinalizeRequest is the body of POST /v1/finalize. WindowStart is the
// window_start value from the authorize response; rollbacks without it
// settle against the current window.
type FinalizeRequest struct {
	KeyID       string `json:"key_id"`
	Outcome     string `json:"outcome"` // "commit" or "rollback"
	WindowStart int64  `json:"window_start,omitempty"`
	Tool        string `json:"tool,omitempty"`
	Status      int    `json:"status,omitempty"`
	LatencyMs   int64  `json:"latency_ms,omitempty"`
}

// Finalize settles a previously allowed invocation and records the usage
// event when the caller reports one.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	var req FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.KeyID == "" {
		writeError(w, http.StatusBadRequest, "missing_key_id", "key_id is required")
		return
	}
	outcome := quota.Outcome(req.Outcome)
	if !outcome.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_outcome", "outcome must be 'commit' or 'rollback'")
		return
	}

	var windowStart time.Time
	if req.WindowStart != 0 {
		windowStart = time.Unix(req.WindowStart, 0).UTC()
	}
	if err := h.guard.Finalize(r.Context(), req.KeyID, windowStart, outcome); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Key not found")
			return
		}
		h.logger.Error().Err(err).Str("key_id", req.KeyID).Msg("finalize failed")
		writeError(w, http.StatusServiceUnavailable, "unavailable", "Storage unavailable")
		return
	}

	if req.Tool != "" {
		e := usage.Event{
			KeyID:     req.KeyID,
			Tool:      req.Tool,
			Status:    req.Status,
			LatencyMs: req.LatencyMs,
			At:        h.clock.Now(),
		}
		if err := h.usage.Record(r.Context(), e); err != nil {
			// The quota side already settled; losing one audit row is not
			// worth failing the call.
			h.logger.Warn().Err(err).Str("key_id", req.KeyID).Msg("usage record failed")
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "finalized"})
}

// -----------------------------------------------------------------------------
// Key management (admin)
// -----------------------------------------------------------------------------

// CreateKeyRequest is the body of POST /v1/keys.
type CreateKeyRequest struct {
	OwnerID       string `json:"owner_id"`
	Tier          string `json:"tier"`
	Label         string `json:"label,omitempty"`
	TTL           string `json:"ttl,omitempty"` // Go duration, e.g. "720h"
	LimitOverride int64  `json:"limit_override,omitempty"`
}

// KeyResponse is the representation of a key in admin responses. The
// sealed secret is never included; the raw key appears only in the
// issuance and rotation responses.
type KeyResponse struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"owner_id"`
	Prefix        string     `json:"prefix"`
	Tier          string     `json:"tier"`
	Status        string     `json:"status"`
	Label         string     `json:"label,omitempty"`
	LimitOverride int64      `json:"limit_override,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
}

// CreatedKeyResponse carries the one-time raw key alongside the record.
type CreatedKeyResponse struct {
	Key    string      `json:"key"` // shown exactly once, never retrievable again
	Record KeyResponse `json:"record"`
}

func keyToResponse(k key.Key) KeyResponse {
	return KeyResponse{
		ID:            k.ID,
		OwnerID:       k.OwnerID,
		Prefix:        k.Prefix,
		Tier:          string(k.Tier),
		Status:        string(k.Status),
		Label:         k.Label,
		LimitOverride: k.LimitOverride,
		CreatedAt:     k.CreatedAt,
		ExpiresAt:     k.ExpiresAt,
		RevokedAt:     k.RevokedAt,
		LastUsedAt:    k.LastUsedAt,
	}
}

// CreateKey issues a new API key.
func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	params := app.IssueParams{
		OwnerID:       req.OwnerID,
		Tier:          key.Tier(req.Tier),
		Label:         req.Label,
		LimitOverride: req.LimitOverride,
	}
	if req.TTL != "" {
		ttl, err := time.ParseDuration(req.TTL)
		if err != nil || ttl <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_ttl", "ttl must be a positive duration like '720h'")
			return
		}
		params.TTL = ttl
	}

	rawKey, k, err := h.keys.Issue(r.Context(), params)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if h.metrics != nil {
		h.metrics.KeysIssued.WithLabelValues(string(k.Tier)).Inc()
	}

	writeJSON(w, http.StatusCreated, CreatedKeyResponse{Key: rawKey, Record: keyToResponse(k)})
}

// ListKeys lists keys, optionally filtered by owner.
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	var (
		ks  []key.Key
		err error
	)
	if owner := r.URL.Query().Get("owner"); owner != "" {
		ks, err = h.keys.ListByOwner(r.Context(), owner)
	} else {
		ks, err = h.keys.List(r.Context())
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("list keys failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list keys")
		return
	}

	resp := make([]KeyResponse, 0, len(ks))
	for _, k := range ks {
		resp = append(resp, keyToResponse(k))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"keys":  resp,
		"total": len(resp),
	})
}

// GetKey returns one key by ID.
func (h *Handler) GetKey(w http.ResponseWriter, r *http.Request) {
	k, err := h.keys.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Key not found")
			return
		}
		h.logger.Error().Err(err).Msg("get key failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to get key")
		return
	}
	writeJSON(w, http.StatusOK, keyToResponse(k))
}

// RevokeKey permanently disables a key.
func (h *Handler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.keys.Revoke(r.Context(), id); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Key not found")
			return
		}
		h.logger.Error().Err(err).Str("key_id", id).Msg("revoke failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to revoke key")
		return
	}
	if h.metrics != nil {
		h.metrics.KeysRevoked.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// RotateKey replaces a key and returns the new raw key.
func (h *Handler) RotateKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rawKey, k, err := h.keys.Rotate(r.Context(), id)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Key not found")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if h.metrics != nil {
		h.metrics.KeysIssued.WithLabelValues(string(k.Tier)).Inc()
		h.metrics.KeysRevoked.Inc()
	}
	writeJSON(w, http.StatusOK, CreatedKeyResponse{Key: rawKey, Record: keyToResponse(k)})
}

// KeyUsage returns recent usage events and a 24h summary for a key.
func (h *Handler) KeyUsage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.keys.Get(r.Context(), id); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Key not found")
			return
		}
		h.logger.Error().Err(err).Msg("get key failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to get key")
		return
	}

	limit := parseIntQuery(r, "limit", 50)
	events, err := h.usage.Recent(r.Context(), id, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("usage lookup failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load usage")
		return
	}

	end := h.clock.Now()
	summary, err := h.usage.Summary(r.Context(), id, end.Add(-24*time.Hour), end)
	if err != nil {
		h.logger.Error().Err(err).Msg("usage summary failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load usage")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events":  events,
		"summary": summary,
	})
}

func parseIntQuery(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
