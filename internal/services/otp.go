package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"time"

	"github.com/aelleshop/aelle-api/internal/cache"
	"github.com/aelleshop/aelle-api/internal/logging"
	"github.com/aelleshop/aelle-api/internal/observability"
)

const (
	otpLength = 6
	otpTTL    = 2 * time.Minute
)

var mobilePattern = regexp.MustCompile(`^\+?[0-9]{10,15}$`)

// SMSSender delivers an OTP code to a mobile number.
type SMSSender interface {
	SendOTP(ctx context.Context, mobile, code string) error
}

// OTPService issues and verifies login codes. Codes live in the shared
// cache so verification works on any instance and codes expire on
// their own.
type OTPService struct {
	store  cache.Provider
	sender SMSSender
	logger *slog.Logger
}

func NewOTPService(store cache.Provider, sender SMSSender, logger *slog.Logger) *OTPService {
	if sender == nil {
		sender = NewLogSMSSender(logger)
	}
	return &OTPService{store: store, sender: sender, logger: logger}
}

// Send generates a fresh code for the mobile number, replacing any
// outstanding one, and dispatches it over SMS.
func (s *OTPService) Send(ctx context.Context, mobile string) error {
	if !mobilePattern.MatchString(mobile) {
		return invalidInputf("invalid mobile number")
	}

	code, err := generateOTP()
	if err != nil {
		return fmt.Errorf("failed to generate otp: %w", err)
	}
	if err := s.store.Set(ctx, cache.OTPKey(mobile), code, otpTTL); err != nil {
		return fmt.Errorf("failed to store otp: %w", err)
	}
	if err := s.sender.SendOTP(ctx, mobile, code); err != nil {
		return upstreamError("failed to send otp", err)
	}

	observability.MeterFromContext(ctx).Count("otp.sent", 1)
	logging.FromContext(ctx, s.logger).Info("otp sent", "mobile", maskMobile(mobile))
	return nil
}

// Verify checks the submitted code. A matching code is consumed so it
// cannot be replayed.
func (s *OTPService) Verify(ctx context.Context, mobile, code string) error {
	if !mobilePattern.MatchString(mobile) {
		return invalidInputf("invalid mobile number")
	}
	if code == "" {
		return invalidInputf("otp code is required")
	}

	key := cache.OTPKey(mobile)
	stored, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return verificationFailedf("otp expired or not requested")
		}
		return fmt.Errorf("failed to read otp: %w", err)
	}
	if stored != code {
		observability.MeterFromContext(ctx).Count("otp.rejected", 1)
		return verificationFailedf("incorrect otp")
	}

	if err := s.store.Delete(ctx, key); err != nil {
		logging.FromContext(ctx, s.logger).Warn("failed to consume otp", "error", err, "mobile", maskMobile(mobile))
	}
	observability.MeterFromContext(ctx).Count("otp.verified", 1)
	return nil
}

func generateOTP() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < otpLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpLength, n), nil
}

func maskMobile(mobile string) string {
	if len(mobile) <= 4 {
		return "****"
	}
	return "****" + mobile[len(mobile)-4:]
}

// LogSMSSender writes codes to the log instead of a carrier. Used in
// development and wherever no SMS provider is provisioned.
type LogSMSSender struct {
	logger *slog.Logger
}

func NewLogSMSSender(logger *slog.Logger) *LogSMSSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSMSSender{logger: logger}
}

func (s *LogSMSSender) SendOTP(ctx context.Context, mobile, code string) error {
	s.logger.InfoContext(ctx, "otp code issued", "mobile", mobile, "code", code)
	return nil
}
