package payment

import (
	"context"
	"fmt"

	razorpay "github.com/razorpay/razorpay-go"
)

// gatewayTimeoutSeconds bounds every outbound Razorpay call so a stuck
// gateway fails the request instead of hanging it.
const gatewayTimeoutSeconds = 10

// Intent is the gateway-side reservation the client completes payment
// against. Amount is in the smallest currency unit (paise).
type Intent struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// RazorpayClient wraps the Razorpay SDK for payment intent creation.
type RazorpayClient struct {
	client *razorpay.Client
}

func NewRazorpayClient(keyID, keySecret string) *RazorpayClient {
	client := razorpay.NewClient(keyID, keySecret)
	client.SetTimeout(gatewayTimeoutSeconds)
	return &RazorpayClient{client: client}
}

// CreateIntent creates a Razorpay order for amountPaise with automatic
// capture. The context is checked before the call; the SDK enforces its
// own request timeout.
func (c *RazorpayClient) CreateIntent(ctx context.Context, amountPaise int64, receipt string) (*Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if amountPaise <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %d", amountPaise)
	}

	data := map[string]interface{}{
		"amount":          amountPaise,
		"currency":        "INR",
		"receipt":         receipt,
		"payment_capture": 1,
	}
	body, err := c.client.Order.Create(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create razorpay order: %w", err)
	}

	intent := &Intent{Currency: "INR"}
	if id, ok := body["id"].(string); ok {
		intent.ID = id
	}
	if intent.ID == "" {
		return nil, fmt.Errorf("razorpay order response missing id")
	}
	if amount, ok := body["amount"].(float64); ok {
		intent.Amount = int64(amount)
	} else {
		intent.Amount = amountPaise
	}
	if currency, ok := body["currency"].(string); ok && currency != "" {
		intent.Currency = currency
	}

	return intent, nil
}
