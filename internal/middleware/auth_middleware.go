package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/libris/libris/internal/service"
	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	claimsKey contextKey = "claims"
	userIDKey contextKey = "user_id"
)

// ClaimsFromContext returns the access token claims set by RequireAuth or OptionalAuth.
func ClaimsFromContext(ctx context.Context) (*service.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*service.Claims)
	return claims, ok
}

func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// WithClaims stores claims in ctx the way RequireAuth does.
func WithClaims(ctx context.Context, claims *service.Claims) context.Context {
	ctx = context.WithValue(ctx, claimsKey, claims)
	return context.WithValue(ctx, userIDKey, claims.UserID())
}

type AuthMiddleware struct {
	jwtService          *service.JWTService
	refreshTokenService *service.RefreshTokenService
	otpService          *service.OTPService
	logger              *logrus.Logger
}

func NewAuthMiddleware(
	jwtService *service.JWTService,
	refreshTokenService *service.RefreshTokenService,
	otpService *service.OTPService,
	logger *logrus.Logger,
) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService:          jwtService,
		refreshTokenService: refreshTokenService,
		otpService:          otpService,
		logger:              logger,
	}
}

// authenticate resolves the bearer token of r. A missing header yields
// (nil, "") and a rejected token yields (nil, reason).
func (m *AuthMiddleware) authenticate(r *http.Request) (*service.Claims, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return nil, "Invalid authorization header format"
	}

	claims, err := m.jwtService.VerifyToken(parts[1])
	if err != nil {
		m.logger.WithError(err).Debug("Token verification failed")
		return nil, "Invalid or expired token"
	}

	if claims.Type != service.TokenTypeAccess {
		return nil, "Invalid token type"
	}

	revoked, err := m.refreshTokenService.IsRevoked(r.Context(), claims.ID)
	if err != nil {
		m.logger.WithError(err).Error("Failed to check token revocation")
		return nil, "Unable to verify token"
	}
	if revoked {
		return nil, "Token has been revoked"
	}

	return claims, ""
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, reason := m.authenticate(r)
		if claims == nil {
			if reason == "" {
				reason = "Missing authorization header"
			}
			WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", reason)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// OptionalAuth attaches claims when a valid bearer token is present and
// otherwise passes the request through unchanged.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, _ := m.authenticate(r); claims != nil {
			r = r.WithContext(WithClaims(r.Context(), claims))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireOTP admits only users holding a live elevated session. It must run
// after RequireAuth.
func (m *AuthMiddleware) RequireOTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := UserIDFromContext(r.Context())
		if userID == "" {
			WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}

		if err := m.otpService.RequireOTP(r.Context(), userID); err != nil {
			if errors.Is(err, service.ErrNotElevated) {
				WriteError(w, http.StatusForbidden, "OTP_REQUIRED", "OTP verification required")
				return
			}
			m.logger.WithError(err).Error("Failed to check elevated session")
			WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Unable to check OTP status")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) RequireSuperuser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}
		if !claims.IsSuperuser {
			WriteError(w, http.StatusForbidden, "FORBIDDEN", "Superuser privileges required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
