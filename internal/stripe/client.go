package stripe

import (
	"context"
	"fmt"

	stripeapi "github.com/stripe/stripe-go/v84"
)

// Client creates payment intents for orders that chose Stripe as the
// payment method. Confirmation arrives later via webhook.
type Client struct {
	client *stripeapi.Client
}

func NewClient(secretKey string) *Client {
	return &Client{client: stripeapi.NewClient(secretKey)}
}

type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// CreatePaymentIntent creates a card payment intent for amountCents,
// tagging it with the order id so the webhook can find its order.
func (c *Client) CreatePaymentIntent(ctx context.Context, amountCents int64, orderID string) (*Intent, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if amountCents <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %d", amountCents)
	}

	params := &stripeapi.PaymentIntentCreateParams{
		Amount:             stripeapi.Int64(amountCents),
		Currency:           stripeapi.String(string(stripeapi.CurrencyINR)),
		PaymentMethodTypes: stripeapi.StringSlice([]string{"card"}),
		Metadata: map[string]string{
			"order_id": orderID,
		},
	}

	intent, err := c.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	return &Intent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     string(intent.Currency),
	}, nil
}
