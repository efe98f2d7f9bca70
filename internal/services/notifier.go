package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/aelleshop/aelle-api/internal/email"
	"github.com/aelleshop/aelle-api/internal/models"
)

// OrderEmailSender delivers the customer-facing order emails. All calls
// are best-effort: the order flow never depends on the result.
type OrderEmailSender interface {
	SendOrderConfirmation(ctx context.Context, order *models.Order) error
	SendInvoice(ctx context.Context, order *models.Order) error
}

type EmailOrderNotifier struct {
	provider email.Provider
	renderer *email.Renderer
}

func NewEmailOrderNotifier(provider email.Provider) (*EmailOrderNotifier, error) {
	if provider == nil {
		return nil, fmt.Errorf("email provider is required")
	}
	renderer, err := email.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("failed to build email renderer: %w", err)
	}
	return &EmailOrderNotifier{provider: provider, renderer: renderer}, nil
}

func (n *EmailOrderNotifier) SendOrderConfirmation(ctx context.Context, order *models.Order) error {
	return n.send(ctx, "order_confirmation", order)
}

func (n *EmailOrderNotifier) SendInvoice(ctx context.Context, order *models.Order) error {
	return n.send(ctx, "invoice", order)
}

func (n *EmailOrderNotifier) send(ctx context.Context, templateName string, order *models.Order) error {
	if order == nil {
		return fmt.Errorf("order is required")
	}
	to := strings.TrimSpace(order.ShippingAddress.Email)
	if to == "" {
		return fmt.Errorf("order %s has no customer email", order.OrderNumber)
	}

	msg, err := n.renderer.Render(templateName, to, buildOrderInfo(order))
	if err != nil {
		return err
	}
	return n.provider.SendEmail(ctx, msg)
}

func buildOrderInfo(order *models.Order) email.OrderInfo {
	items := make([]email.OrderItemInfo, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, email.OrderItemInfo{
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: formatAmount(item.Price),
			LineTotal: formatAmount(item.Price * float64(item.Quantity)),
		})
	}

	return email.OrderInfo{
		OrderNumber:       order.OrderNumber,
		CustomerName:      order.ShippingAddress.FullName,
		CustomerEmail:     order.ShippingAddress.Email,
		PaymentMethod:     string(order.PaymentMethod),
		Items:             items,
		TotalAmount:       formatAmount(order.TotalAmount),
		ShippingCost:      formatAmount(order.ShippingCost),
		Tax:               formatAmount(order.Tax),
		FinalAmount:       formatAmount(order.FinalAmount),
		EstimatedDelivery: order.EstimatedDelivery,
		ShippingAddress:   formatShippingAddress(order.ShippingAddress),
		OrderDate:         order.CreatedAt.Format("January 2, 2006"),
	}
}

func formatAmount(v float64) string {
	return fmt.Sprintf("₹%.2f", v)
}

func formatShippingAddress(addr models.ShippingAddress) string {
	parts := []string{addr.FullName, addr.Address, addr.City, addr.State + " " + addr.ZipCode, addr.Country}
	return strings.Join(parts, ", ")
}

type noopOrderEmailSender struct{}

func (noopOrderEmailSender) SendOrderConfirmation(context.Context, *models.Order) error {
	return nil
}

func (noopOrderEmailSender) SendInvoice(context.Context, *models.Order) error {
	return nil
}
