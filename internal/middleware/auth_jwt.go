package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceRole is the role claim carried by service-to-service tokens.
const ServiceRole = "service_role"

// TokenClaims are the claims of a Supabase-issued access token.
type TokenClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type userKey string

const (
	userIDKey userKey = "user_id"
	emailKey  userKey = "email"
	roleKey   userKey = "role"
)

// SignJWT issues an HS256 token. Used by tests and local tooling; production
// tokens come from the auth provider.
func SignJWT(secret string, claims TokenClaims) (string, error) {
	if secret == "" {
		return "", errors.New("jwt: empty secret")
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}

// VerifyJWT parses token, checks the HS256 signature and the expiry.
func VerifyJWT(secret, token string) (*TokenClaims, error) {
	if secret == "" {
		return nil, errors.New("jwt: empty secret")
	}
	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithLeeway(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("jwt: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("jwt: invalid token")
	}
	if claims.Subject == "" && claims.Role != ServiceRole {
		return nil, errors.New("jwt: missing sub")
	}
	return claims, nil
}

// AuthJWT rejects requests without a valid bearer token and stores the caller
// identity in the request context.
func AuthJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeError(w, http.StatusInternalServerError, "auth is not configured")
				return
			}
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing authorization")
				return
			}
			claims, err := VerifyJWT(secret, token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			ctx := ContextWithUserID(r.Context(), claims.Subject)
			ctx = ContextWithEmail(ctx, claims.Email)
			if claims.Role != "" {
				ctx = context.WithValue(ctx, roleKey, claims.Role)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireServiceToken guards the processing endpoint. It accepts the shared
// process token or a JWT with the service role.
func RequireServiceToken(processToken, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing authorization")
				return
			}
			if processToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(processToken)) == 1 {
				ctx := context.WithValue(r.Context(), roleKey, ServiceRole)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			if secret != "" {
				if claims, err := VerifyJWT(secret, token); err == nil && claims.Role == ServiceRole {
					ctx := context.WithValue(r.Context(), roleKey, ServiceRole)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}
			writeError(w, http.StatusForbidden, "service credentials required")
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

func EmailFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(emailKey).(string); ok {
		return v
	}
	return ""
}

// IsServiceRole reports whether the request was authenticated as a service.
func IsServiceRole(ctx context.Context) bool {
	v, _ := ctx.Value(roleKey).(string)
	return v == ServiceRole
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if strings.TrimSpace(userID) == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey, userID)
}

func ContextWithEmail(ctx context.Context, email string) context.Context {
	if strings.TrimSpace(email) == "" {
		return ctx
	}
	return context.WithValue(ctx, emailKey, email)
}
