package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"budgetbook/internal/keys"
	applog "budgetbook/internal/log"
)

type contextKey string

const userIDKey contextKey = "user_id"

// Authenticator verifies HS256 bearer tokens. The subject claim is the user id.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &Authenticator{secret: []byte(secret), parser: jwt.NewParser(opts...)}
}

// UserID validates the bearer token of r and returns its subject.
func (a *Authenticator) UserID(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: missing bearer token", errUnauthorized)
	}

	token, err := a.parser.Parse(strings.TrimSpace(raw), func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return "", errors.Join(errUnauthorized, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", errors.Join(errUnauthorized, err)
	}
	if err := keys.ValidateID("user", sub); err != nil {
		return "", fmt.Errorf("%w: invalid subject", errUnauthorized)
	}
	return sub, nil
}

// Middleware rejects unauthenticated requests and stores the user id, also
// tagging the request logger with it.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.UserID(r)
		if err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Authentication failed", applog.FieldError, err)
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		ctx = applog.WithLogger(ctx, applog.FromContext(ctx).With(applog.FieldUserID, userID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFromContext returns the authenticated user id, or "".
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
