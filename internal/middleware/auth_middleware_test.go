package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/libris/libris/internal/cache"
	"github.com/libris/libris/internal/config"
	"github.com/libris/libris/internal/models"
	"github.com/libris/libris/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	auth   *AuthMiddleware
	jwt    *service.JWTService
	tokens *service.RefreshTokenService
	cache  *cache.MemoryCache
	otpCfg *config.OTPConfig
	alice  *models.User
	root   *models.User
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := quietLogger()

	jwtService, err := service.NewJWTService(&config.JWTConfig{
		SecretKey:     "0123456789abcdef0123456789abcdef",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: time.Hour,
	}, logger)
	require.NoError(t, err)

	mem := cache.NewMemoryCache()
	otpCfg := &config.OTPConfig{ChallengeTTL: 300 * time.Second, ElevationTTL: 600 * time.Second}
	tokens := service.NewRefreshTokenService(mem, logger)
	otp := service.NewOTPService(nil, nil, mem, nil, nil, nil, otpCfg, logger)

	return &fixture{
		auth:   NewAuthMiddleware(jwtService, tokens, otp, logger),
		jwt:    jwtService,
		tokens: tokens,
		cache:  mem,
		otpCfg: otpCfg,
		alice:  &models.User{ID: "u-alice", Username: "alice"},
		root:   &models.User{ID: "u-root", Username: "root", IsSuperuser: true},
	}
}

func (f *fixture) token(t *testing.T, user *models.User) (string, *service.Claims) {
	t.Helper()
	pair, _, err := f.jwt.GenerateTokens(user, "")
	require.NoError(t, err)
	claims, err := f.jwt.VerifyToken(pair.AccessToken)
	require.NoError(t, err)
	return pair.AccessToken, claims
}

func (f *fixture) elevate(t *testing.T, userID string, verifiedAt time.Time) {
	t.Helper()
	raw, err := json.Marshal(models.ElevatedSession{Elevated: true, VerifiedAt: verifiedAt})
	require.NoError(t, err)
	require.NoError(t, f.cache.Set(context.Background(), service.ElevatedKey(userID), raw, f.otpCfg.ElevationTTL))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, UserIDFromContext(r.Context()))
})

func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestRequireAuth(t *testing.T) {
	f := newFixture(t)
	h := f.auth.RequireAuth(okHandler)

	token, _ := f.token(t, f.alice)
	rec := serve(h, token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-alice", rec.Body.String())

	rec = serve(h, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))

	rec = serve(h, "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	pair, _, err := f.jwt.GenerateTokens(f.alice, "")
	require.NoError(t, err)
	rec = serve(h, pair.RefreshToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "refresh tokens are not accepted as access tokens")
}

func TestRequireAuth_RevokedToken(t *testing.T) {
	f := newFixture(t)
	h := f.auth.RequireAuth(okHandler)

	token, claims := f.token(t, f.alice)
	require.NoError(t, f.tokens.Revoke(context.Background(), claims.ID, claims.ExpiresAt.Time))

	rec := serve(h, token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOptionalAuth(t *testing.T) {
	f := newFixture(t)
	h := f.auth.OptionalAuth(okHandler)

	rec := serve(h, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = serve(h, "garbage")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	token, _ := f.token(t, f.alice)
	rec = serve(h, token)
	assert.Equal(t, "u-alice", rec.Body.String())
}

func TestRequireOTP(t *testing.T) {
	f := newFixture(t)
	h := f.auth.RequireAuth(f.auth.RequireOTP(okHandler))
	token, _ := f.token(t, f.alice)

	rec := serve(h, token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "OTP_REQUIRED", errorCode(t, rec))

	f.elevate(t, f.alice.ID, time.Now())
	rec = serve(h, token)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.elevate(t, f.alice.ID, time.Now().Add(-601*time.Second))
	rec = serve(h, token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireOTP_WithoutAuth(t *testing.T) {
	f := newFixture(t)
	rec := serve(f.auth.RequireOTP(okHandler), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireSuperuser(t *testing.T) {
	f := newFixture(t)
	h := f.auth.RequireAuth(f.auth.RequireSuperuser(okHandler))

	token, _ := f.token(t, f.alice)
	rec := serve(h, token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, rec))

	token, _ = f.token(t, f.root)
	rec = serve(h, token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	rec := httptest.NewRecorder()
	CORSMiddleware(okHandler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	router := mux.NewRouter()
	router.Use(m.Middleware)
	router.Use(LoggingMiddleware(quietLogger()))
	router.HandleFunc("/api/v1/books/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/books/"+id, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("/api/v1/books/{id}", "GET", "404")))
}
