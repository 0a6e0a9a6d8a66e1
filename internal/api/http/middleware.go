package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/execution-hub/exchange-withdraw/internal/application/session"
)

type flowContextKey string

const sessionKey flowContextKey = "flowSession"

func withSession(ctx context.Context, s *session.Session) context.Context {
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, s)
}

func sessionFromContext(ctx context.Context) *session.Session {
	val := ctx.Value(sessionKey)
	if v, ok := val.(*session.Session); ok {
		return v
	}
	return nil
}

// loadFlow resolves {flowId} into the request context.
func (s *Server) loadFlow(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUIDParam(r, "flowId")
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid flow id")
			return
		}
		sess, err := s.registry.Get(id)
		if errors.Is(err, session.ErrFlowNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
			return
		}
		if err != nil {
			respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), sess)))
	})
}

// requireRelayToken guards the inbound message relay with a bearer token
// checked against a bcrypt hash.
func (s *Server) requireRelayToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.relayTokenHash == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !VerifyRelayToken(s.relayTokenHash, extractToken(r)) {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid relay token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HashRelayToken hashes a relay token for configuration.
func HashRelayToken(token string) (string, error) {
	if token == "" {
		return "", errors.New("relay token is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func VerifyRelayToken(hash, token string) bool {
	if hash == "" || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

func extractToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	return ""
}
