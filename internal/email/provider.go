// Package email provides the transactional email provider interface.
package email

import (
	"context"
	"fmt"
	"log/slog"
)

type Provider interface {
	SendEmail(ctx context.Context, email *Email) error
}

type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

type Config struct {
	Provider string
	APIKey   string
	From     string
	Logger   *slog.Logger
}

func NewProvider(config Config) (Provider, error) {
	switch config.Provider {
	case "resend":
		return NewResendProvider(config.APIKey, config.From), nil
	case "console", "":
		return NewConsoleProvider(config.Logger), nil
	default:
		return nil, fmt.Errorf("EMAIL_PROVIDER must be either 'resend' or 'console'")
	}
}
