package email

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// ConsoleProvider logs emails instead of delivering them. Used in
// development and whenever no real provider is configured.
type ConsoleProvider struct {
	logger *slog.Logger
}

func NewConsoleProvider(logger *slog.Logger) *ConsoleProvider {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ConsoleProvider{logger: logger}
}

func (c *ConsoleProvider) SendEmail(ctx context.Context, email *Email) error {
	if email == nil {
		return fmt.Errorf("email is required")
	}
	c.logger.InfoContext(ctx, "email (console provider)",
		"to", email.To,
		"subject", email.Subject,
	)
	return nil
}
