package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/libris/libris/internal/models"
	"github.com/libris/libris/internal/repository"
	"github.com/sirupsen/logrus"
)

// UserWriter is the credential store as seen by account management.
type UserWriter interface {
	UserStore
	Create(ctx context.Context, user *models.User) error
}

type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	FirstName   string
	LastName    string
	IsSuperuser bool
}

// Registration is the outcome of Register. Member is nil when no library
// exists yet.
type Registration struct {
	User   *models.User
	Member *models.Member
}

// Profile is the user view returned by the info endpoint.
type Profile struct {
	ID          string         `json:"id"`
	Username    string         `json:"username"`
	Email       string         `json:"email"`
	IsSuperuser bool           `json:"is_superuser"`
	Member      *models.Member `json:"member,omitempty"`
}

type UserService struct {
	users   UserWriter
	secrets SecretStore
	catalog *Catalog
	hasher  *PasswordHasher
	totp    *TOTPGenerator
	logger  *logrus.Logger
}

func NewUserService(
	users UserWriter,
	secrets SecretStore,
	catalog *Catalog,
	hasher *PasswordHasher,
	generator *TOTPGenerator,
	logger *logrus.Logger,
) *UserService {
	return &UserService{
		users:   users,
		secrets: secrets,
		catalog: catalog,
		hasher:  hasher,
		totp:    generator,
		logger:  logger,
	}
}

// Register creates an account together with its TOTP secret and, when at
// least one library exists, a member profile at the first library by name.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*Registration, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if in.Username == "" || in.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidRecord)
	}
	if in.Email != "" && !validEmail(in.Email) {
		return nil, fmt.Errorf("%w: email is malformed", ErrInvalidRecord)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		IsSuperuser:  in.IsSuperuser,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}

	secret, err := s.totp.GenerateSecret(user.Username)
	if err != nil {
		return nil, err
	}
	if err := s.secrets.Create(ctx, models.OTPSecret{UserID: user.ID, Secret: secret, CreatedAt: time.Now().UTC()}); err != nil {
		return nil, fmt.Errorf("failed to store OTP secret: %w", err)
	}

	member, err := s.attachMember(ctx, user, in)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"user_id": user.ID, "superuser": user.IsSuperuser}).Info("User registered")

	return &Registration{User: user, Member: member}, nil
}

func (s *UserService) attachMember(ctx context.Context, user *models.User, in RegisterInput) (*models.Member, error) {
	libraries, err := s.catalog.Libraries.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(libraries) == 0 {
		s.logger.WithField("user_id", user.ID).Warn("No library exists, member profile not created")
		return nil, nil
	}

	first := libraries[0]
	for _, l := range libraries[1:] {
		if l.Name < first.Name {
			first = l
		}
	}

	firstName := in.FirstName
	if firstName == "" {
		firstName = user.Username
	}
	member := &models.Member{
		FirstName: firstName,
		LastName:  in.LastName,
		UserID:    user.ID,
		LibraryID: first.ID,
	}
	if err := s.catalog.Members.Create(ctx, member); err != nil {
		return nil, fmt.Errorf("failed to create member profile: %w", err)
	}
	return member, nil
}

// GetUser loads the current credential record of userID.
func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrRecordNotFound
	}
	return user, nil
}

// GetProfile returns the account and linked member profile of userID.
func (s *UserService) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	member, err := s.catalog.MemberForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return &Profile{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		IsSuperuser: user.IsSuperuser,
		Member:      member,
	}, nil
}

// validEmail accepts a bare addr-spec only. The address ends up in a mail
// header, so display names and line breaks are rejected.
func validEmail(email string) bool {
	if strings.ContainsAny(email, "\r\n") {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
