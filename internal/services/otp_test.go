package services

import (
	"context"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/aelleshop/aelle-api/internal/cache"
)

type capturingSMSSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (c *capturingSMSSender) SendOTP(_ context.Context, mobile, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.codes == nil {
		c.codes = make(map[string]string)
	}
	c.codes[mobile] = code
	return nil
}

func (c *capturingSMSSender) lastCode(mobile string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[mobile]
}

func newOTPFixture(t *testing.T) (*OTPService, *capturingSMSSender, cache.Provider) {
	t.Helper()

	store, err := cache.NewMemoryProvider()
	if err != nil {
		t.Fatalf("NewMemoryProvider() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	sender := &capturingSMSSender{}
	return NewOTPService(store, sender, slog.New(slog.DiscardHandler)), sender, store
}

func TestOTPSendAndVerify(t *testing.T) {
	t.Parallel()

	svc, sender, _ := newOTPFixture(t)
	const mobile = "+919876543210"

	if err := svc.Send(context.Background(), mobile); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	code := sender.lastCode(mobile)
	if !regexp.MustCompile(`^[0-9]{6}$`).MatchString(code) {
		t.Fatalf("code %q is not 6 digits", code)
	}

	if err := svc.Verify(context.Background(), mobile, code); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	// A code is single use.
	if err := svc.Verify(context.Background(), mobile, code); KindOf(err) != KindVerificationFailed {
		t.Errorf("replayed code: kind = %q, want %q", KindOf(err), KindVerificationFailed)
	}
}

func TestOTPVerifyRejectsWrongCode(t *testing.T) {
	t.Parallel()

	svc, sender, _ := newOTPFixture(t)
	const mobile = "+919876543210"

	if err := svc.Send(context.Background(), mobile); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	wrong := "000000"
	if wrong == sender.lastCode(mobile) {
		wrong = "000001"
	}
	if err := svc.Verify(context.Background(), mobile, wrong); KindOf(err) != KindVerificationFailed {
		t.Errorf("wrong code: kind = %q, want %q", KindOf(err), KindVerificationFailed)
	}

	// The stored code survives a failed attempt.
	if err := svc.Verify(context.Background(), mobile, sender.lastCode(mobile)); err != nil {
		t.Errorf("correct code rejected after a failed attempt: %v", err)
	}
}

func TestOTPVerifyWithoutSend(t *testing.T) {
	t.Parallel()

	svc, _, _ := newOTPFixture(t)
	if err := svc.Verify(context.Background(), "+919876543210", "123456"); KindOf(err) != KindVerificationFailed {
		t.Errorf("kind = %q, want %q", KindOf(err), KindVerificationFailed)
	}
}

func TestOTPResendReplacesCode(t *testing.T) {
	t.Parallel()

	svc, sender, store := newOTPFixture(t)
	const mobile = "9876543210"

	if err := svc.Send(context.Background(), mobile); err != nil {
		t.Fatal(err)
	}
	first := sender.lastCode(mobile)

	if err := svc.Send(context.Background(), mobile); err != nil {
		t.Fatal(err)
	}
	second := sender.lastCode(mobile)

	stored, err := store.Get(context.Background(), cache.OTPKey(mobile))
	if err != nil {
		t.Fatal(err)
	}
	if stored != second {
		t.Errorf("stored code = %q, want latest %q", stored, second)
	}
	if first != second {
		if err := svc.Verify(context.Background(), mobile, first); KindOf(err) != KindVerificationFailed {
			t.Errorf("stale code accepted after resend")
		}
	}
}

func TestOTPExpires(t *testing.T) {
	t.Parallel()

	store, err := cache.NewMemoryProvider()
	if err != nil {
		t.Fatal(err)
	}
	const mobile = "+919876543210"

	// Plant an already-expired code directly; the service only ever sets
	// the real TTL.
	if err := store.Set(context.Background(), cache.OTPKey(mobile), "123456", -time.Second); err != nil {
		t.Fatal(err)
	}

	svc := NewOTPService(store, &capturingSMSSender{}, slog.New(slog.DiscardHandler))
	if err := svc.Verify(context.Background(), mobile, "123456"); KindOf(err) != KindVerificationFailed {
		t.Errorf("expired code: kind = %q, want %q", KindOf(err), KindVerificationFailed)
	}
}

func TestOTPRejectsBadMobile(t *testing.T) {
	t.Parallel()

	svc, _, _ := newOTPFixture(t)
	for _, mobile := range []string{"", "abc", "12345", "+91 98765 43210"} {
		if err := svc.Send(context.Background(), mobile); KindOf(err) != KindInvalidInput {
			t.Errorf("Send(%q): kind = %q, want %q", mobile, KindOf(err), KindInvalidInput)
		}
	}
}
