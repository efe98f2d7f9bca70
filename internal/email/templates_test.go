package email

import (
	"strings"
	"testing"
	"time"
)

func TestRendererRender(t *testing.T) {
	t.Parallel()

	renderer, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}

	info := OrderInfo{
		OrderNumber:   "ORD-1700000000000-AB12C",
		CustomerName:  "Priya Sharma",
		CustomerEmail: "priya@example.com",
		PaymentMethod: "razorpay",
		Items: []OrderItemInfo{
			{Title: "Shirt", Quantity: 2, UnitPrice: "₹500.00", LineTotal: "₹1000.00"},
		},
		TotalAmount:       "₹1000.00",
		ShippingCost:      "₹50.00",
		Tax:               "₹45.00",
		FinalAmount:       "₹1095.00",
		EstimatedDelivery: time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC),
		ShippingAddress:   "Priya Sharma, 12 MG Road, Bengaluru, Karnataka 560001, India",
		OrderDate:         "March 5, 2026",
	}

	msg, err := renderer.Render("order_confirmation", "priya@example.com", info)
	if err != nil {
		t.Fatalf("Render(order_confirmation) error = %v", err)
	}
	if msg.To != "priya@example.com" {
		t.Errorf("To = %q", msg.To)
	}
	if !strings.Contains(msg.Subject, "ORD-1700000000000-AB12C") {
		t.Errorf("subject missing order number: %q", msg.Subject)
	}
	for _, want := range []string{"Shirt", "₹1095.00", "March 15, 2026"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("text body missing %q", want)
		}
		if !strings.Contains(msg.HTML, want) {
			t.Errorf("html body missing %q", want)
		}
	}

	invoice, err := renderer.Render("invoice", "priya@example.com", info)
	if err != nil {
		t.Fatalf("Render(invoice) error = %v", err)
	}
	if !strings.Contains(invoice.Text, "Amount due: ₹1095.00") {
		t.Errorf("invoice text missing amount due: %q", invoice.Text)
	}

	if _, err := renderer.Render("order_shipped", "priya@example.com", info); err == nil {
		t.Error("Render(unknown template) error = nil, want error")
	}
}
