// Package pricing holds the store-wide pricing policy and the
// server-side amount checks applied to every incoming order.
package pricing

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aelleshop/aelle-api/internal/models"
)

// AmountTolerance absorbs float rounding between the client's arithmetic
// and ours. Anything beyond a paisa apart is a real mismatch.
const AmountTolerance = 0.01

type Policy struct {
	Currency         string  `yaml:"currency"`
	ShippingCost     float64 `yaml:"shipping_cost"`
	FreeShippingOver float64 `yaml:"free_shipping_over"`
	TaxRate          float64 `yaml:"tax_rate"`
	DeliveryLeadDays int     `yaml:"delivery_lead_days"`
}

func Default() *Policy {
	return &Policy{
		Currency:         "INR",
		ShippingCost:     0,
		FreeShippingOver: 0,
		TaxRate:          0,
		DeliveryLeadDays: 10,
	}
}

// Load reads the pricing policy from a YAML file. An empty path returns
// the default policy.
func Load(path string) (*Policy, error) {
	if path == "" {
		return Default(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing config: %w", err)
	}

	policy := Default()
	if err := yaml.Unmarshal(raw, policy); err != nil {
		return nil, fmt.Errorf("failed to parse pricing config: %w", err)
	}
	if err := policy.validate(); err != nil {
		return nil, err
	}
	return policy, nil
}

func (p *Policy) validate() error {
	if p.ShippingCost < 0 {
		return fmt.Errorf("shipping_cost must not be negative")
	}
	if p.TaxRate < 0 || p.TaxRate > 1 {
		return fmt.Errorf("tax_rate must be between 0 and 1")
	}
	if p.DeliveryLeadDays <= 0 {
		return fmt.Errorf("delivery_lead_days must be positive")
	}
	return nil
}

// EstimatedDelivery returns the promised delivery date for an order
// created at the given time.
func (p *Policy) EstimatedDelivery(createdAt time.Time) time.Time {
	return createdAt.AddDate(0, 0, p.DeliveryLeadDays)
}

// Amounts is the client-declared money breakdown of an order.
type Amounts struct {
	TotalAmount  float64
	ShippingCost float64
	Tax          float64
	FinalAmount  float64
}

// CheckAmounts recomputes the order totals server-side and rejects any
// breakdown that does not add up. The client's finalAmount is never
// trusted on its own.
func (p *Policy) CheckAmounts(items []models.OrderItem, amounts Amounts) error {
	if amounts.FinalAmount <= 0 {
		return fmt.Errorf("finalAmount must be positive")
	}
	if amounts.ShippingCost < 0 || amounts.Tax < 0 {
		return fmt.Errorf("shippingCost and tax must not be negative")
	}

	subtotal := 0.0
	for _, item := range items {
		subtotal += item.Price * float64(item.Quantity)
	}
	if math.Abs(subtotal-amounts.TotalAmount) > AmountTolerance {
		return fmt.Errorf("totalAmount %.2f does not match item subtotal %.2f", amounts.TotalAmount, subtotal)
	}

	expected := amounts.TotalAmount + amounts.ShippingCost + amounts.Tax
	if math.Abs(expected-amounts.FinalAmount) > AmountTolerance {
		return fmt.Errorf("finalAmount %.2f does not match totalAmount + shippingCost + tax = %.2f", amounts.FinalAmount, expected)
	}

	return nil
}
