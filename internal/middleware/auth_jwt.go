package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// WorkspaceClaims is the payload of a workspace bearer token. Tokens issued
// before workspace_id existed carry the workspace in sub.
type WorkspaceClaims struct {
	WorkspaceID string `json:"workspace_id,omitempty"`
	jwt.RegisteredClaims
}

type workspaceKey string

const workspaceIDKey workspaceKey = "workspace_id"

// SignWorkspaceToken issues an HS256 token for workspaceID. Only tests and
// local tooling mint tokens; production tokens come from the identity service.
func SignWorkspaceToken(secret, workspaceID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := WorkspaceClaims{
		WorkspaceID: workspaceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  workspaceID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// VerifyWorkspaceToken checks signature and expiry and returns the workspace
// the token is scoped to.
func VerifyWorkspaceToken(secret, token string) (string, error) {
	var claims WorkspaceClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	ws := strings.TrimSpace(claims.WorkspaceID)
	if ws == "" {
		ws = strings.TrimSpace(claims.Subject)
	}
	if ws == "" {
		return "", errors.New("token carries no workspace")
	}
	return ws, nil
}

// AuthJWT requires a workspace bearer token. Websocket clients that cannot
// set headers may pass it as ?access_token=.
func AuthJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				token = r.URL.Query().Get("access_token")
			}
			if token == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing authorization")
				return
			}
			ws, err := VerifyWorkspaceToken(secret, token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithWorkspaceID(r.Context(), ws)))
		})
	}
}

// WorkerSecret guards the internal worker endpoints with a shared secret sent
// as a bearer token or X-Worker-Secret.
func WorkerSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Worker-Secret")
			if got == "" {
				got = bearerToken(r)
			}
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid worker secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func WorkspaceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(workspaceIDKey).(string); ok {
		return v
	}
	return ""
}

func ContextWithWorkspaceID(ctx context.Context, workspaceID string) context.Context {
	if strings.TrimSpace(workspaceID) == "" {
		return ctx
	}
	return context.WithValue(ctx, workspaceIDKey, workspaceID)
}
