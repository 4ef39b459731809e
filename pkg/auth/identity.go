package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"branchdb/pkg/config"
	"branchdb/pkg/logger"
	"branchdb/pkg/utils"
)

// Role represents the resolved caller role for a request.
type Role int

const (
	RoleUnauth Role = iota
	RoleFrontend
	RoleBackend
	RoleAdmin
)

// SecConfig mirrors the security-related configuration used to drive
// authentication, CORS and rate limiting behavior. Put here so limiter.go
// and gateway.go can reference the shared type.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	IPWhitelist    []string
	BackendKeys    map[string]struct{}
	FrontendKeys   map[string]struct{}
	AdminKeys      map[string]struct{}
}

type ctxAuthorKey struct{}

// RequireSignedAuthor verifies HMAC signature headers and injects the
// verified author id into the request context. Backend and admin callers
// may omit the signature; everyone else must present one.
func RequireSignedAuthor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := r.Header.Get("X-Role-Name")
		authorID := strings.TrimSpace(r.Header.Get("X-Author-ID"))
		sig := strings.TrimSpace(r.Header.Get("X-Author-Signature"))

		if role == "backend" || role == "admin" {
			if sig == "" {
				// No signature provided; handlers may accept an author from
				// the X-Author-ID header as appropriate.
				next.ServeHTTP(w, r)
				return
			}
			// signature present -> verify below
		}

		if sig == "" || authorID == "" {
			logger.Warn("missing_signature_headers", "path", r.URL.Path, "remote", r.RemoteAddr)
			utils.JSONError(w, http.StatusUnauthorized, "missing signature headers")
			return
		}

		keys := config.GetSigningKeys()
		if len(keys) == 0 {
			logger.Error("no_signing_keys_configured")
			utils.JSONError(w, http.StatusInternalServerError, "server misconfigured: no signing secrets available")
			return
		}

		// Try all configured signing keys.
		ok := false
		for k := range keys {
			mac := hmac.New(sha256.New, []byte(k))
			mac.Write([]byte(authorID))
			expected := hex.EncodeToString(mac.Sum(nil))
			if hmac.Equal([]byte(expected), []byte(sig)) {
				ok = true
				break
			}
		}
		if !ok {
			logger.Warn("invalid_signature", "author", authorID)
			utils.JSONError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		logger.Debug("signature_verified", "author", authorID)
		ctx := context.WithValue(r.Context(), ctxAuthorKey{}, authorID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuthorIDFromContext returns the verified author id or empty string.
func AuthorIDFromContext(ctx context.Context) string {
	if v := ctx.Value(ctxAuthorKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func validateAuthor(a string) (bool, string) {
	if a == "" {
		return false, "author required"
	}
	if len(a) > 128 {
		return false, "author too long"
	}
	return true, ""
}

// ResolveAuthor is the single canonical resolver handlers should call.
// A signature-verified author (in context) is authoritative; a
// conflicting X-Author-ID header yields 403. Without a signature,
// backend/admin roles may supply an author via the header. Frontend
// callers require a signature and receive 401 when missing.
func ResolveAuthor(r *http.Request) (string, int, string) {
	if id := AuthorIDFromContext(r.Context()); id != "" {
		if h := strings.TrimSpace(r.Header.Get("X-Author-ID")); h != "" && h != id {
			logger.Warn("author_mismatch_signature_header", "signature", id, "header", h, "path", r.URL.Path)
			return "", http.StatusForbidden, "author mismatch between signature and header"
		}
		return id, 0, ""
	}

	role := r.Header.Get("X-Role-Name")
	if role == "backend" || role == "admin" {
		if h := strings.TrimSpace(r.Header.Get("X-Author-ID")); h != "" {
			if ok, msg := validateAuthor(h); !ok {
				return "", http.StatusBadRequest, msg
			}
			return h, 0, ""
		}
		logger.Warn("backend_missing_author", "remote", r.RemoteAddr, "path", r.URL.Path)
		return "", http.StatusBadRequest, "author required for backend requests"
	}

	logger.Warn("missing_author_signature", "role", role, "path", r.URL.Path)
	return "", http.StatusUnauthorized, "missing or invalid author signature"
}
