package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/libris/libris/internal/cache"
	"github.com/libris/libris/internal/config"
	"github.com/libris/libris/internal/models"
	"github.com/libris/libris/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

type fakeSecrets struct {
	mu      sync.Mutex
	secrets map[string]models.OTPSecret
	creates int
}

func (f *fakeSecrets) Get(_ context.Context, userID string) (*models.OTPSecret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.secrets[userID]; ok {
		return &s, nil
	}
	return nil, nil
}

func (f *fakeSecrets) Create(_ context.Context, secret models.OTPSecret) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.secrets[secret.UserID]; ok {
		return repository.ErrAlreadyExists
	}
	f.creates++
	f.secrets[secret.UserID] = secret
	return nil
}

type recordingSender struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (r *recordingSender) SendCode(_ context.Context, user *models.User, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.codes[user.Username] = code
	return nil
}

func (r *recordingSender) last(username string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.codes[username]
}

type otpFixture struct {
	svc     *OTPService
	cache   *cache.MemoryCache
	clock   *fakeClock
	users   *fakeUsers
	secrets *fakeSecrets
	sender  *recordingSender
	alice   *models.User
	cfg     *config.OTPConfig
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newOTPFixture(t *testing.T) *otpFixture {
	t.Helper()

	hasher, err := NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)

	hash, err := hasher.Hash("pw123")
	require.NoError(t, err)

	alice := &models.User{ID: "u-alice", Username: "alice", Email: "alice@example.com", PasswordHash: hash}
	users := &fakeUsers{users: map[string]*models.User{alice.ID: alice}}
	secrets := &fakeSecrets{secrets: map[string]models.OTPSecret{
		alice.ID: {UserID: alice.ID, Secret: "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"},
	}}

	cfg := &config.OTPConfig{
		Issuer:       "Libris",
		Digits:       6,
		Period:       30 * time.Second,
		ChallengeTTL: 300 * time.Second,
		ElevationTTL: 600 * time.Second,
	}

	clock := newFakeClock()
	mem := cache.NewMemoryCache(cache.WithClock(clock.Now))
	sender := &recordingSender{codes: map[string]string{}}

	svc := NewOTPService(users, secrets, mem, hasher, NewTOTPGenerator(cfg), sender, cfg, testLogger(), WithClock(clock.Now))

	return &otpFixture{
		svc:     svc,
		cache:   mem,
		clock:   clock,
		users:   users,
		secrets: secrets,
		sender:  sender,
		alice:   alice,
		cfg:     cfg,
	}
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestOTPService_AliceScenario(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t)

	challenge, err := f.svc.BeginLogin(ctx, "alice", "pw123")
	require.NoError(t, err)
	assert.Equal(t, "alice", challenge.Username)
	assert.Equal(t, "alice@example.com", challenge.Email)
	assert.False(t, challenge.IsSuperuser)

	code := f.sender.last("alice")
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), code)

	_, err = f.svc.VerifyOTP(ctx, "alice", wrongCode(code))
	assert.ErrorIs(t, err, ErrCodeMismatch)

	f.clock.Advance(60 * time.Second)
	user, err := f.svc.VerifyOTP(ctx, "alice", code)
	require.NoError(t, err)
	assert.Equal(t, f.alice.ID, user.ID)

	elevated, err := f.svc.CheckElevated(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.True(t, elevated)

	require.NoError(t, f.svc.Logout(ctx, f.alice.ID))

	elevated, err = f.svc.CheckElevated(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.False(t, elevated)
}

func TestOTPService_BeginLoginRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t)

	tests := []struct {
		name     string
		username string
		password string
	}{
		{name: "wrong password", username: "alice", password: "nope"},
		{name: "unknown user", username: "mallory", password: "pw123"},
		{name: "empty password", username: "alice", password: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.BeginLogin(ctx, tt.username, tt.password)
			assert.ErrorIs(t, err, ErrInvalidCredentials)

			_, err = f.cache.Get(ctx, PendingKey(tt.username))
			assert.ErrorIs(t, err, cache.ErrCacheMiss, "no challenge may be created")
		})
	}
	assert.Empty(t, f.sender.codes)
}

func TestOTPService_BeginLoginIssuesOneChallenge(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t)

	_, err := f.svc.BeginLogin(ctx, "alice", "pw123")
	require.NoError(t, err)

	raw, err := f.cache.Get(ctx, PendingKey("alice"))
	require.NoError(t, err)

	var challenge models.PendingChallenge
	require.NoError(t, json.Unmarshal(raw, &challenge))
	assert.Equal(t, f.alice.ID, challenge.UserID)
	assert.Equal(t, f.sender.last("alice"), challenge.Code)
	assert.True(t, f.clock.Now().Equal(challenge.CreatedAt))
}

func TestOTPService_VerifySucceedsOnce(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t)

	_, err := f.svc.BeginLogin(ctx, "alice", "pw123")
	require.NoError(t, err)
	code := f.sender.last("alice")

	_, err = f.svc.VerifyOTP(ctx, "alice", code)
	require.NoError(t, err)

	_, err = f.svc.VerifyOTP(ctx, "alice", code)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestOTPService_VerifyWithoutChallenge(t *testing.T) {
	f := newOTPFixture(t)

	_, err := f.svc.VerifyOTP(context.Background(), "alice", "123456")
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestOTPService_VerifyAfterWindow(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t)

	_, err := f.svc.BeginLogin(ctx, "alice", "pw123")
	require.NoError(t, err)
	code := f.sender.last("alice")

	f.clock.Advance(301 * time.Second)

	_, err = f.svc.VerifyOTP(ctx, "alice", code)
	assert.True(t, errors.Is(err, ErrChallengeNotFound) || errors.Is(err, ErrChallengeExpired), "got %v", err)

	elevated, err := f.svc.CheckElevated(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.False(t, elevated)
}

func TestOTPService_DefensiveExpiryCheck(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t)

	// An entry that outlived its window but is still present in the cache.
	stale := models.PendingChallenge{
		UserID:    f.alice.ID,
		Username:  "alice",
		Code:      "123456",
		Password:  "pw123",
		CreatedAt: f.clock.Now().Add(-10 * time.Minute),
	}
	raw, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, f.cache.Set(ctx, PendingKey("alice"), raw, 0))

	_, err = f.svc.VerifyOTP(ctx, "alice", "123456")
	assert.ErrorIs(t, err, ErrChallengeExpired)

	_, err = f.cache.Get(ctx, PendingKey("alice"))
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestOTPService_PasswordChangedBetweenSteps(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t)

	_, err := f.svc.BeginLogin(ctx, "alice", "pw123")
	require.NoError(t, err)
	code := f.sender.last("alice")

	newHash, err := f.svc.hasher.Hash("rotated")
	require.NoError(t, err)
	f.users.users[f.alice.ID].PasswordHash = newHash

	_, err = f.svc.VerifyOTP(ctx, "alice", code)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	elevated, err := f.svc.CheckElevated(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.False(t, elevated)
}

func TestOTPService_ElevationExpires(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t)

	_, err := f.svc.BeginLogin(ctx, "alice", "pw123")
	require.NoError(t, err)
	_, err = f.svc.VerifyOTP(ctx, "alice", f.sender.last("alice"))
	require.NoError(t, err)

	f.clock.Advance(599 * time.Second)
	elevated, err := f.svc.CheckElevated(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.True(t, elevated)

	f.clock.Advance(2 * time.Second)
	elevated, err = f.svc.CheckElevated(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.False(t, elevated)
}

func TestOTPService_CheckElevatedClearsStaleEntry(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t)

	raw, err := json.Marshal(models.ElevatedSession{Elevated: true, VerifiedAt: f.clock.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.NoError(t, f.cache.Set(ctx, ElevatedKey(f.alice.ID), raw, 0))

	elevated, err := f.svc.CheckElevated(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.False(t, elevated)

	_, err = f.cache.Get(ctx, ElevatedKey(f.alice.ID))
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestOTPService_RequireOTP(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t)

	assert.ErrorIs(t, f.svc.RequireOTP(ctx, f.alice.ID), ErrNotElevated)

	_, err := f.svc.BeginLogin(ctx, "alice", "pw123")
	require.NoError(t, err)
	_, err = f.svc.VerifyOTP(ctx, "alice", f.sender.last("alice"))
	require.NoError(t, err)

	assert.NoError(t, f.svc.RequireOTP(ctx, f.alice.ID))
}

func TestOTPService_ConcurrentVerifyIsSingleUse(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t)

	_, err := f.svc.BeginLogin(ctx, "alice", "pw123")
	require.NoError(t, err)
	code := f.sender.last("alice")

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.VerifyOTP(ctx, "alice", code); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrChallengeNotFound)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestOTPService_CreatesMissingSecretOnce(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t)
	delete(f.secrets.secrets, f.alice.ID)

	_, err := f.svc.BeginLogin(ctx, "alice", "pw123")
	require.NoError(t, err)
	_, err = f.svc.BeginLogin(ctx, "alice", "pw123")
	require.NoError(t, err)

	assert.Equal(t, 1, f.secrets.creates)
	assert.NotEmpty(t, f.secrets.secrets[f.alice.ID].Secret)
}

func TestOTPService_SenderFailure(t *testing.T) {
	f := newOTPFixture(t)
	f.sender.err = errors.New("smtp down")

	ctx := context.Background()
	_, err := f.svc.BeginLogin(ctx, "alice", "pw123")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.cache.Get(ctx, PendingKey("alice"))
	assert.ErrorIs(t, err, cache.ErrCacheMiss, "undelivered challenge must not stay redeemable")
}

func TestOTPService_ErrorsDoNotLeakSecrets(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t)

	_, err := f.svc.BeginLogin(ctx, "alice", "pw123")
	require.NoError(t, err)
	code := f.sender.last("alice")

	_, err = f.svc.VerifyOTP(ctx, "alice", wrongCode(code))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), code)
	assert.NotContains(t, err.Error(), "pw123")
}
