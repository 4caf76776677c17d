package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/thatapp/transition-houses/internal/auth"
)

type apiKeyResponse struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	KeyPrefix  string  `json:"key_prefix"`
	CreatedAt  string  `json:"created_at"`
	LastUsedAt *string `json:"last_used_at,omitempty"`
}

type apiKeyCreateResponse struct {
	Key            string         `json:"key"` // raw key, shown once
	APIKeyResponse apiKeyResponse `json:"api_key"`
}

const keyTimeLayout = "2006-01-02T15:04:05Z"

func keyResponse(k auth.APIKey) apiKeyResponse {
	resp := apiKeyResponse{
		ID:        k.ID,
		Name:      k.Name,
		Email:     k.Email,
		KeyPrefix: k.KeyPrefix,
		CreatedAt: k.CreatedAt.UTC().Format(keyTimeLayout),
	}
	if k.LastUsedAt != nil {
		s := k.LastUsedAt.UTC().Format(keyTimeLayout)
		resp.LastUsedAt = &s
	}
	return resp
}

// apiCreateKey issues a key owned by the calling staff member.
func (s *Server) apiCreateKey(w http.ResponseWriter, r *http.Request) {
	if s.apiKeys == nil {
		apiError(w, "api keys not configured", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Name string `json:"name"`
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body)
	if err != nil && !errors.Is(err, io.EOF) {
		apiError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(body.Name)
	if name == "" {
		name = "API Key"
	}

	id, _ := auth.IdentityFromContext(r.Context())
	rawKey, key, err := s.apiKeys.Create(r.Context(), name, id.Email)
	if err != nil {
		s.logger.Error("creating api key", "error", err)
		apiError(w, "internal error", http.StatusInternalServerError)
		return
	}

	apiJSON(w, apiKeyCreateResponse{Key: rawKey, APIKeyResponse: keyResponse(*key)}, http.StatusCreated)
}

// apiListKeys returns all API keys (without raw keys).
func (s *Server) apiListKeys(w http.ResponseWriter, r *http.Request) {
	if s.apiKeys == nil {
		apiError(w, "api keys not configured", http.StatusServiceUnavailable)
		return
	}

	keys, err := s.apiKeys.List(r.Context())
	if err != nil {
		s.logger.Error("listing api keys", "error", err)
		apiError(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := make([]apiKeyResponse, len(keys))
	for i, k := range keys {
		resp[i] = keyResponse(k)
	}
	apiJSON(w, resp, http.StatusOK)
}

// apiDeleteKey revokes an API key.
func (s *Server) apiDeleteKey(w http.ResponseWriter, r *http.Request) {
	if s.apiKeys == nil {
		apiError(w, "api keys not configured", http.StatusServiceUnavailable)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		apiError(w, "invalid key ID", http.StatusBadRequest)
		return
	}

	if err := s.apiKeys.Delete(r.Context(), id); err != nil {
		if errors.Is(err, auth.ErrKeyNotFound) {
			apiError(w, "key not found", http.StatusNotFound)
			return
		}
		s.logger.Error("deleting api key", "error", err)
		apiError(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
