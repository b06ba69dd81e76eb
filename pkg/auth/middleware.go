package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/google/uuid"
)

type contextKey string

const (
	tokenHeader              = "Authorization"
	tokenPrefix              = "Bearer "
	tokenQueryParam          = "token"
	UserClaimsKey contextKey = "user_claims"
	UserIDKey     contextKey = "user_id"
	RoleKey       contextKey = "role"
)

var (
	ErrMissingToken = errors.New("missing authorization header")
	ErrBadHeader    = errors.New("invalid authorization header format")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// NewAuthInterceptor creates a ConnectRPC interceptor for authentication.
// Procedures listed in public may be called anonymously; a token sent to them
// is still validated.
func NewAuthInterceptor(signer *Signer, public ...string) connect.UnaryInterceptorFunc {
	anonymous := make(map[string]bool, len(public))
	for _, p := range public {
		anonymous[p] = true
	}

	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			authHeader := req.Header().Get(tokenHeader)
			if authHeader == "" && anonymous[req.Spec().Procedure] {
				return next(ctx, req)
			}

			claims, err := authenticate(signer, authHeader)
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}
			return next(WithClaims(ctx, claims), req)
		}
	}
}

// AuthenticateRequest validates the bearer token of a plain HTTP request.
// Browsers cannot set headers on websocket upgrades, so the token query
// parameter is accepted as well. It returns ErrMissingToken when neither is present.
func AuthenticateRequest(signer *Signer, r *http.Request) (*Claims, error) {
	if header := r.Header.Get(tokenHeader); header != "" {
		return authenticate(signer, header)
	}
	if token := r.URL.Query().Get(tokenQueryParam); token != "" {
		return authenticate(signer, tokenPrefix+token)
	}
	return nil, ErrMissingToken
}

func authenticate(signer *Signer, authHeader string) (*Claims, error) {
	if authHeader == "" {
		return nil, ErrMissingToken
	}
	if !strings.HasPrefix(authHeader, tokenPrefix) {
		return nil, ErrBadHeader
	}

	claims, err := signer.ValidateToken(strings.TrimPrefix(authHeader, tokenPrefix))
	if err != nil {
		return nil, ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// WithClaims injects the caller's identity into the context
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	userID, _ := claims.UserID()
	ctx = context.WithValue(ctx, UserClaimsKey, claims)
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, RoleKey, claims.Role)
	return ctx
}

// GetUserClaims retrieves the full claims from the context.
func GetUserClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserClaimsKey).(*Claims)
	return claims, ok
}

// GetUserID retrieves the user ID from the context.
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return id, ok
}

// MustGetUserID is GetUserID for handlers behind the interceptor. It panics
// if the context carries no user.
func MustGetUserID(ctx context.Context) uuid.UUID {
	id, ok := GetUserID(ctx)
	if !ok {
		panic("auth: no user in context")
	}
	return id
}

// GetRole retrieves the caller's role, empty for anonymous callers.
func GetRole(ctx context.Context) string {
	role, _ := ctx.Value(RoleKey).(string)
	return role
}
