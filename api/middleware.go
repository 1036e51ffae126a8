// Copyright 2025 Parlo
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"parlo/platform/billing"
	"parlo/platform/shared/logger"
)

type contextKey string

const (
	ctxKeyUserID    contextKey = "user_id"
	ctxKeyRequestID contextKey = "request_id"
)

// UserID returns the authenticated user id from the request context.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyUserID).(string)
	return id
}

// RequestID returns the request id assigned by the middleware chain.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// WithRequestID assigns every request a uuid, honoring an inbound
// X-Request-ID so traces can span services.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Auth resolves the user identity. A bearer token is validated against
// the configured secret and its "sub" claim becomes the user id; with
// no secret configured, the X-User-ID header from the gateway is
// trusted instead.
type Auth struct {
	secret []byte
	logger *logger.Logger
}

// NewAuth creates the authentication middleware. An empty secret
// switches to header-based identity.
func NewAuth(secret string, log *logger.Logger) *Auth {
	if log == nil {
		log = logger.New("api")
	}
	return &Auth{secret: []byte(secret), logger: log}
}

// Middleware authenticates the request and stores the user id in the
// context. Requests with no resolvable identity get 401.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := a.identify(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) identify(r *http.Request) (string, bool) {
	if len(a.secret) == 0 {
		id := r.Header.Get("X-User-ID")
		return id, id != ""
	}

	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	tokenString := strings.TrimPrefix(header, "Bearer ")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		a.logger.Warn("", "rejected invalid token", map[string]interface{}{"error": errString(err)})
		return "", false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", false
	}
	sub, _ := claims["sub"].(string)
	return sub, sub != ""
}

func errString(err error) string {
	if err == nil {
		return "token invalid"
	}
	return err.Error()
}

// RequireQuota gates a handler on the quota guard. A denied user gets
// 429 with a distinct limit_reached body so clients can render an
// upgrade prompt rather than a generic failure.
func RequireQuota(guard *billing.Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := UserID(r.Context())
			if userID == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !guard.Check(r.Context(), userID) {
				writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
					"error":   "limit_reached",
					"message": "usage limit reached for the current period",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
