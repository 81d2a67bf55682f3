package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/florianilch/agprobe/internal/tokensource"
)

// CredentialsResponse is the body of GET /v1/credentials.
type CredentialsResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Expiry      time.Time `json:"expiry"`
}

func (s *Server) handleEnvironment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	attempts := s.cfg.defaultAttempts
	if raw := r.URL.Query().Get("attempts"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > s.cfg.maxAttempts {
			writeJSONError(ctx, w, "attempts must be between 1 and "+strconv.Itoa(s.cfg.maxAttempts), http.StatusBadRequest)
			return
		}
		attempts = n
	}

	res, ok := s.scanner.Scan(ctx, attempts)
	if !ok {
		writeJSONError(ctx, w, "language server not available", http.StatusNotFound)
		return
	}
	writeJSON(ctx, w, res, http.StatusOK)
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token, err := s.tokens.Token()
	if errors.Is(err, tokensource.ErrNoCredentials) {
		writeJSONError(ctx, w, "credentials not available", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "reading credentials failed", "error", err)
		writeJSONError(ctx, w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(ctx, w, CredentialsResponse{
		AccessToken: token.AccessToken,
		TokenType:   token.Type(),
		Expiry:      token.Expiry,
	}, http.StatusOK)
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes data with the given status code.
// The status is committed before encoding, so an encoding failure leaves a partial body.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

func writeJSONError(ctx context.Context, w http.ResponseWriter, message string, status int) {
	writeJSON(ctx, w, errorResponse{Error: message}, status)
}
