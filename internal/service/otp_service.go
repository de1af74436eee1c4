package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/libris/libris/internal/cache"
	"github.com/libris/libris/internal/config"
	"github.com/libris/libris/internal/models"
	"github.com/libris/libris/internal/repository"
	"github.com/sirupsen/logrus"
)

// UserStore is the part of the credential store the login flow reads.
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// SecretStore holds one TOTP secret per user.
type SecretStore interface {
	Get(ctx context.Context, userID string) (*models.OTPSecret, error)
	Create(ctx context.Context, secret models.OTPSecret) error
}

// LoginChallenge is returned once the password step succeeds.
type LoginChallenge struct {
	Username    string
	Email       string
	IsSuperuser bool
}

func PendingKey(username string) string {
	return "pending:" + username
}

func ElevatedKey(userID string) string {
	return "elevated:" + userID
}

// OTPService runs the two-step login: password, then a one-time code, then a
// time-boxed elevated session. All shared state lives in the cache.
type OTPService struct {
	users   UserStore
	secrets SecretStore
	cache   cache.Cache
	hasher  *PasswordHasher
	totp    *TOTPGenerator
	sender  CodeSender
	cfg     *config.OTPConfig
	metrics *Metrics
	logger  *logrus.Logger
	now     func() time.Time
}

type OTPServiceOption func(*OTPService)

func WithClock(now func() time.Time) OTPServiceOption {
	return func(s *OTPService) {
		s.now = now
	}
}

func WithMetrics(m *Metrics) OTPServiceOption {
	return func(s *OTPService) {
		s.metrics = m
	}
}

func NewOTPService(
	users UserStore,
	secrets SecretStore,
	c cache.Cache,
	hasher *PasswordHasher,
	generator *TOTPGenerator,
	sender CodeSender,
	cfg *config.OTPConfig,
	logger *logrus.Logger,
	opts ...OTPServiceOption,
) *OTPService {
	s := &OTPService{
		users:   users,
		secrets: secrets,
		cache:   c,
		hasher:  hasher,
		totp:    generator,
		sender:  sender,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BeginLogin checks the password and issues a pending challenge for username.
// Unknown users and wrong passwords both return ErrInvalidCredentials.
func (s *OTPService) BeginLogin(ctx context.Context, username, password string) (*LoginChallenge, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		s.metrics.login("invalid")
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		s.hasher.CompareDummy(password)
		s.metrics.login("invalid")
		return nil, ErrInvalidCredentials
	}
	if !s.hasher.Compare(user.PasswordHash, password) {
		s.metrics.login("invalid")
		return nil, ErrInvalidCredentials
	}

	secret, err := s.ensureSecret(ctx, user)
	if err != nil {
		return nil, err
	}

	now := s.now()
	code, err := s.totp.Code(secret.Secret, now)
	if err != nil {
		return nil, err
	}

	challenge := models.PendingChallenge{
		UserID:    user.ID,
		Username:  user.Username,
		Code:      code,
		Password:  password,
		CreatedAt: now,
	}
	data, err := json.Marshal(challenge)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal challenge: %w", err)
	}

	if err := s.cache.Set(ctx, PendingKey(user.Username), data, s.cfg.ChallengeTTL); err != nil {
		s.logger.WithError(err).Error("Failed to store OTP challenge")
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	if err := s.sender.SendCode(ctx, user, code); err != nil {
		if delErr := s.cache.Delete(ctx, PendingKey(user.Username)); delErr != nil {
			s.logger.WithError(delErr).Warn("Failed to drop undelivered OTP challenge")
		}
		s.metrics.login("delivery_failed")
		return nil, fmt.Errorf("failed to deliver OTP: %w", err)
	}

	s.metrics.login("otp_sent")
	s.logger.WithField("user_id", user.ID).Info("OTP challenge issued")

	return &LoginChallenge{
		Username:    user.Username,
		Email:       user.Email,
		IsSuperuser: user.IsSuperuser,
	}, nil
}

// VerifyOTP consumes the pending challenge for username when code matches and
// starts an elevated session. A wrong code leaves the challenge in place.
func (s *OTPService) VerifyOTP(ctx context.Context, username, code string) (*models.User, error) {
	username = strings.TrimSpace(username)
	code = strings.TrimSpace(code)
	key := PendingKey(username)

	raw, err := s.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		s.metrics.verification("not_found")
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}

	var challenge models.PendingChallenge
	if err := json.Unmarshal(raw, &challenge); err != nil {
		_ = s.cache.Delete(ctx, key)
		return nil, fmt.Errorf("failed to unmarshal challenge: %w", err)
	}

	now := s.now()
	if cache.IsExpired(challenge.CreatedAt, s.cfg.ChallengeTTL, now) {
		_ = s.cache.Delete(ctx, key)
		s.metrics.verification("expired")
		return nil, ErrChallengeExpired
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(challenge.Code)) != 1 {
		s.metrics.verification("mismatch")
		s.logger.WithField("user_id", challenge.UserID).Warn("OTP code mismatch")
		return nil, ErrCodeMismatch
	}

	user, err := s.users.GetByID(ctx, challenge.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil || user.Username != challenge.Username || !s.hasher.Compare(user.PasswordHash, challenge.Password) {
		_ = s.cache.Delete(ctx, key)
		s.metrics.verification("stale")
		return nil, ErrInvalidCredentials
	}

	consumed, err := s.cache.DeleteIfEqual(ctx, key, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}
	if !consumed {
		s.metrics.verification("not_found")
		return nil, ErrChallengeNotFound
	}

	session, err := json.Marshal(models.ElevatedSession{Elevated: true, VerifiedAt: now})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal elevated session: %w", err)
	}
	if err := s.cache.Set(ctx, ElevatedKey(user.ID), session, s.cfg.ElevationTTL); err != nil {
		s.logger.WithError(err).Error("Failed to store elevated session")
		return nil, fmt.Errorf("failed to store elevated session: %w", err)
	}

	s.metrics.verification("success")
	s.logger.WithField("user_id", user.ID).Info("OTP verified")

	return user, nil
}

// CheckElevated reports whether userID holds a live elevated session. Stale
// entries are removed.
func (s *OTPService) CheckElevated(ctx context.Context, userID string) (bool, error) {
	key := ElevatedKey(userID)

	raw, err := s.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get elevated session: %w", err)
	}

	var session models.ElevatedSession
	if err := json.Unmarshal(raw, &session); err != nil || !session.Elevated ||
		cache.IsExpired(session.VerifiedAt, s.cfg.ElevationTTL, s.now()) {
		if err := s.cache.Delete(ctx, key); err != nil {
			s.logger.WithError(err).Warn("Failed to clear stale elevated session")
		}
		return false, nil
	}

	return true, nil
}

// RequireOTP is the authorization gate for sensitive operations.
func (s *OTPService) RequireOTP(ctx context.Context, userID string) error {
	ok, err := s.CheckElevated(ctx, userID)
	if err != nil {
		return err
	}
	s.metrics.gate(ok)
	if !ok {
		return ErrNotElevated
	}
	return nil
}

// Logout clears the elevated session regardless of its remaining lifetime.
func (s *OTPService) Logout(ctx context.Context, userID string) error {
	if err := s.cache.Delete(ctx, ElevatedKey(userID)); err != nil {
		return fmt.Errorf("failed to clear elevated session: %w", err)
	}
	s.logger.WithField("user_id", userID).Info("User logged out")
	return nil
}

// ensureSecret returns the user's TOTP secret, creating it on first use for
// accounts that predate secret provisioning.
func (s *OTPService) ensureSecret(ctx context.Context, user *models.User) (*models.OTPSecret, error) {
	secret, err := s.secrets.Get(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP secret: %w", err)
	}
	if secret != nil {
		return secret, nil
	}

	value, err := s.totp.GenerateSecret(user.Username)
	if err != nil {
		return nil, err
	}
	created := models.OTPSecret{UserID: user.ID, Secret: value, CreatedAt: s.now().UTC()}
	if err := s.secrets.Create(ctx, created); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			existing, getErr := s.secrets.Get(ctx, user.ID)
			if getErr != nil || existing == nil {
				return nil, fmt.Errorf("failed to reload OTP secret: %v", getErr)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create OTP secret: %w", err)
	}
	return &created, nil
}
