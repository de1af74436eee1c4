package service

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/libris/libris/internal/config"
	"github.com/libris/libris/internal/models"
	"github.com/sirupsen/logrus"
)

// CodeSender delivers an issued login code to its user.
type CodeSender interface {
	SendCode(ctx context.Context, user *models.User, code string) error
}

// LogCodeSender writes codes to the log. Development only.
type LogCodeSender struct {
	logger *logrus.Logger
}

func NewLogCodeSender(logger *logrus.Logger) *LogCodeSender {
	return &LogCodeSender{logger: logger}
}

func (s *LogCodeSender) SendCode(_ context.Context, user *models.User, code string) error {
	s.logger.WithFields(logrus.Fields{
		"username": user.Username,
		"otp":      code,
	}).Info("OTP generated (logged for development)")
	return nil
}

// SMTPCodeSender mails the code to the user's address.
type SMTPCodeSender struct {
	cfg    config.SMTPConfig
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	logger *logrus.Logger
}

func NewSMTPCodeSender(cfg config.SMTPConfig, logger *logrus.Logger) *SMTPCodeSender {
	return &SMTPCodeSender{cfg: cfg, send: smtp.SendMail, logger: logger}
}

func (s *SMTPCodeSender) SendCode(_ context.Context, user *models.User, code string) error {
	if user.Email == "" {
		return fmt.Errorf("user %s has no email address", user.ID)
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		host := s.cfg.Addr
		if i := strings.LastIndex(host, ":"); i > 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, host)
	}

	msg := strings.Join([]string{
		"From: " + s.cfg.From,
		"To: " + user.Email,
		"Subject: Your Libris login code",
		"",
		"Your login code is " + code + ". It is valid for a few minutes.",
		"",
	}, "\r\n")

	if err := s.send(s.cfg.Addr, auth, s.cfg.From, []string{user.Email}, []byte(msg)); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Error("Failed to send OTP email")
		return fmt.Errorf("failed to send OTP email: %w", err)
	}
	return nil
}
