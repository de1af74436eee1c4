package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/libris/libris/internal/middleware"
	"github.com/libris/libris/internal/models"
	"github.com/libris/libris/internal/service"
	"github.com/sirupsen/logrus"
)

// AuthHandlers serves the /userprofile endpoints: the two-step login, session
// status, token refresh, logout and account registration.
type AuthHandlers struct {
	otpService          *service.OTPService
	jwtService          *service.JWTService
	refreshTokenService *service.RefreshTokenService
	userService         *service.UserService
	logger              *logrus.Logger
}

func NewAuthHandlers(
	otpService *service.OTPService,
	jwtService *service.JWTService,
	refreshTokenService *service.RefreshTokenService,
	userService *service.UserService,
	logger *logrus.Logger,
) *AuthHandlers {
	return &AuthHandlers{
		otpService:          otpService,
		jwtService:          jwtService,
		refreshTokenService: refreshTokenService,
		userService:         userService,
		logger:              logger,
	}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	IsAuthenticated bool   `json:"is_authenticated"`
	OTPSent         bool   `json:"otp_sent,omitempty"`
	Username        string `json:"username,omitempty"`
	Email           string `json:"email,omitempty"`
	IsSuperuser     bool   `json:"is_superuser,omitempty"`
	Error           string `json:"error,omitempty"`
}

type OTPLoginRequest struct {
	Username string `json:"username"`
	Key      string `json:"key"`
}

type OTPLoginResponse struct {
	Success         bool   `json:"success"`
	IsAuthenticated bool   `json:"is_authenticated,omitempty"`
	IsSuperuser     bool   `json:"is_superuser,omitempty"`
	AccessToken     string `json:"access_token,omitempty"`
	RefreshToken    string `json:"refresh_token,omitempty"`
	TokenType       string `json:"token_type,omitempty"`
	ExpiresIn       int64  `json:"expires_in,omitempty"`
	Error           string `json:"error,omitempty"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RefreshTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type RegisterRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	IsSuperuser bool   `json:"is_superuser"`
}

type RegisterResponse struct {
	ID          string         `json:"id"`
	Username    string         `json:"username"`
	Email       string         `json:"email"`
	IsSuperuser bool           `json:"is_superuser"`
	Member      *models.Member `json:"member,omitempty"`
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, LoginResponse{Error: "Invalid request body"})
		return
	}

	challenge, err := h.otpService.BeginLogin(r.Context(), req.Username, req.Password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		middleware.WriteJSON(w, http.StatusUnauthorized, LoginResponse{Error: "Invalid username or password"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to begin login")
		middleware.WriteJSON(w, http.StatusInternalServerError, LoginResponse{Error: "Login failed"})
		return
	}

	middleware.WriteJSON(w, http.StatusOK, LoginResponse{
		OTPSent:     true,
		Username:    challenge.Username,
		Email:       challenge.Email,
		IsSuperuser: challenge.IsSuperuser,
	})
}

func (h *AuthHandlers) OTPLogin(w http.ResponseWriter, r *http.Request) {
	var req OTPLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, OTPLoginResponse{Error: "Invalid request body"})
		return
	}

	key := strings.TrimSpace(req.Key)
	if key == "" || strings.TrimSpace(req.Username) == "" {
		middleware.WriteJSON(w, http.StatusBadRequest, OTPLoginResponse{Error: "username and key are required"})
		return
	}

	user, err := h.otpService.VerifyOTP(r.Context(), req.Username, key)
	if err != nil {
		status, message := otpFailure(err)
		if status == http.StatusInternalServerError {
			h.logger.WithError(err).Error("Failed to verify OTP")
		}
		middleware.WriteJSON(w, status, OTPLoginResponse{Error: message})
		return
	}

	tokenPair, refreshClaims, err := h.jwtService.GenerateTokens(user, "")
	if err != nil {
		middleware.WriteJSON(w, http.StatusInternalServerError, OTPLoginResponse{Error: "Failed to generate tokens"})
		return
	}

	if err := h.refreshTokenService.Store(r.Context(), refreshClaims); err != nil {
		h.logger.WithError(err).Error("Failed to store refresh token")
		middleware.WriteJSON(w, http.StatusInternalServerError, OTPLoginResponse{Error: "Failed to generate tokens"})
		return
	}

	middleware.WriteJSON(w, http.StatusOK, OTPLoginResponse{
		Success:         true,
		IsAuthenticated: true,
		IsSuperuser:     user.IsSuperuser,
		AccessToken:     tokenPair.AccessToken,
		RefreshToken:    tokenPair.RefreshToken,
		TokenType:       tokenPair.TokenType,
		ExpiresIn:       tokenPair.ExpiresIn,
	})
}

func otpFailure(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrCodeMismatch):
		return http.StatusUnauthorized, "Invalid OTP code"
	case errors.Is(err, service.ErrChallengeNotFound), errors.Is(err, service.ErrChallengeExpired):
		return http.StatusUnauthorized, "No pending login or code expired"
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid username or password"
	default:
		return http.StatusInternalServerError, "OTP verification failed"
	}
}

// CheckLogin reports whether the request carries a valid access token.
func (h *AuthHandlers) CheckLogin(w http.ResponseWriter, r *http.Request) {
	_, ok := middleware.ClaimsFromContext(r.Context())
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"is_authenticated": ok})
}

func (h *AuthHandlers) OTPStatus(w http.ResponseWriter, r *http.Request) {
	elevated, err := h.otpService.CheckElevated(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"otp_good": elevated})
}

func (h *AuthHandlers) Info(w http.ResponseWriter, r *http.Request) {
	profile, err := h.userService.GetProfile(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, profile)
}

func (h *AuthHandlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if req.RefreshToken == "" {
		middleware.WriteError(w, http.StatusBadRequest, "MISSING_TOKEN", "Refresh token is required")
		return
	}

	claims, err := h.jwtService.VerifyToken(req.RefreshToken)
	if err != nil {
		middleware.WriteError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid refresh token")
		return
	}

	if claims.Type != service.TokenTypeRefresh {
		middleware.WriteError(w, http.StatusUnauthorized, "INVALID_TOKEN_TYPE", "Token is not a refresh token")
		return
	}

	// Rotation: the presented token must still be stored and is consumed here.
	tokenData, err := h.refreshTokenService.Consume(r.Context(), claims.ID)
	if errors.Is(err, service.ErrRefreshTokenNotFound) {
		middleware.WriteError(w, http.StatusUnauthorized, "TOKEN_REVOKED", "Refresh token has been revoked")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to consume refresh token")
		middleware.WriteError(w, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate tokens")
		return
	}

	// Claims are re-derived from the credential store so privilege changes
	// take effect at the next rotation.
	user, err := h.userService.GetUser(r.Context(), tokenData.UserID)
	if errors.Is(err, service.ErrRecordNotFound) {
		middleware.WriteError(w, http.StatusUnauthorized, "USER_NOT_FOUND", "Account no longer exists")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to load user for token refresh")
		middleware.WriteError(w, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate tokens")
		return
	}

	tokenPair, newClaims, err := h.jwtService.GenerateTokens(user, tokenData.FamilyID)
	if err != nil {
		middleware.WriteError(w, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate tokens")
		return
	}

	if err := h.refreshTokenService.Store(r.Context(), newClaims); err != nil {
		h.logger.WithError(err).Error("Failed to store new refresh token")
		middleware.WriteError(w, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate tokens")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, RefreshTokenResponse{
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		TokenType:    tokenPair.TokenType,
		ExpiresIn:    tokenPair.ExpiresIn,
	})
}

// Logout revokes the access token, an optional refresh token from the body,
// and clears the elevated session.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	// The body is optional; without one only the access token is revoked.
	var req RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if err := h.refreshTokenService.Revoke(r.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
		h.logger.WithError(err).Error("Failed to revoke access token")
	}

	if req.RefreshToken != "" {
		refreshClaims, err := h.jwtService.VerifyToken(req.RefreshToken)
		if err == nil && refreshClaims.Type == service.TokenTypeRefresh && refreshClaims.UserID() == claims.UserID() {
			if err := h.refreshTokenService.Revoke(r.Context(), refreshClaims.ID, refreshClaims.ExpiresAt.Time); err != nil {
				h.logger.WithError(err).Error("Failed to revoke refresh token")
			}
		}
	}

	if err := h.otpService.Logout(r.Context(), claims.UserID()); err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	reg, err := h.userService.Register(r.Context(), service.RegisterInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		IsSuperuser: req.IsSuperuser,
	})
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, RegisterResponse{
		ID:          reg.User.ID,
		Username:    reg.User.Username,
		Email:       reg.User.Email,
		IsSuperuser: reg.User.IsSuperuser,
		Member:      reg.Member,
	})
}
