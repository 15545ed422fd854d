package httptransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var errInvalidToken = errors.New("invalid token")

// TokenValidator verifies a bearer token and returns the caller identity.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// JWTValidator accepts HMAC-signed tokens and uses the subject claim as the
// caller identity.
type JWTValidator struct {
	signingKey []byte
	issuer     string
}

func NewJWTValidator(signingKey, issuer string) *JWTValidator {
	return &JWTValidator{signingKey: []byte(signingKey), issuer: issuer}
}

func (v *JWTValidator) ValidateToken(token string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return v.signingKey, nil
	}, opts...)
	if err != nil {
		return "", errors.Join(errInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", errInvalidToken
	}
	return claims.Subject, nil
}

type contextKeyCaller struct{}

// GetCaller returns the authenticated caller stored by RequireAuth.
func GetCaller(ctx context.Context) string {
	caller, _ := ctx.Value(contextKeyCaller{}).(string)
	return caller
}

// WithCaller stores caller in ctx.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, contextKeyCaller{}, caller)
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token", "path", r.URL.Path)
				writeUnauthorized(w, "Missing bearer token")
				return
			}
			caller, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token", "error", err)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(ctx, caller)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, desc string) {
	writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Description: desc})
}
