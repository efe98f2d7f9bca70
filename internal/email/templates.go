// Package email provides email templates.
package email

import (
	"bytes"
	"fmt"
	"text/template"
	"time"
)

// OrderInfo carries everything the order email templates need.
type OrderInfo struct {
	OrderNumber       string
	CustomerName      string
	CustomerEmail     string
	PaymentMethod     string
	Items             []OrderItemInfo
	TotalAmount       string
	ShippingCost      string
	Tax               string
	FinalAmount       string
	EstimatedDelivery time.Time
	ShippingAddress   string
	OrderDate         string
}

// OrderItemInfo represents a single line item in an order email.
type OrderItemInfo struct {
	Title     string
	Quantity  int
	UnitPrice string
	LineTotal string
}

type emailTemplate struct {
	subject string
	text    string
	html    string
}

// Renderer renders order emails from the built-in templates.
type Renderer struct {
	templates *template.Template
	subjects  map[string]string
}

func NewRenderer() (*Renderer, error) {
	definitions := map[string]emailTemplate{
		"order_confirmation": {
			subject: "Order Confirmed - {{.OrderNumber}} - The Aellè",
			text:    orderConfirmationText,
			html:    orderConfirmationHTML,
		},
		"invoice": {
			subject: "Invoice - {{.OrderNumber}} - The Aellè",
			text:    invoiceText,
			html:    invoiceHTML,
		},
	}

	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			return t.Format("January 2, 2006")
		},
	}

	tmpl := template.New("email").Funcs(funcMap)
	subjects := make(map[string]string, len(definitions))
	for name, def := range definitions {
		if _, err := tmpl.New(name + ".subject").Parse(def.subject); err != nil {
			return nil, fmt.Errorf("failed to parse %s subject: %w", name, err)
		}
		if _, err := tmpl.New(name + ".text").Parse(def.text); err != nil {
			return nil, fmt.Errorf("failed to parse %s text body: %w", name, err)
		}
		if _, err := tmpl.New(name + ".html").Parse(def.html); err != nil {
			return nil, fmt.Errorf("failed to parse %s html body: %w", name, err)
		}
		subjects[name] = def.subject
	}

	return &Renderer{templates: tmpl, subjects: subjects}, nil
}

// Render produces a ready-to-send email for the named template.
func (r *Renderer) Render(name, to string, info OrderInfo) (*Email, error) {
	if _, ok := r.subjects[name]; !ok {
		return nil, fmt.Errorf("unknown email template: %s", name)
	}

	subject, err := r.execute(name+".subject", info)
	if err != nil {
		return nil, err
	}
	text, err := r.execute(name+".text", info)
	if err != nil {
		return nil, err
	}
	html, err := r.execute(name+".html", info)
	if err != nil {
		return nil, err
	}

	return &Email{
		To:      to,
		Subject: subject,
		Text:    text,
		HTML:    html,
	}, nil
}

func (r *Renderer) execute(name string, info OrderInfo) (string, error) {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, info); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}

const orderConfirmationText = `Hi {{.CustomerName}},

Your order {{.OrderNumber}} is confirmed.

Items:
{{range .Items}}  - {{.Title}} x{{.Quantity}} @ {{.UnitPrice}} = {{.LineTotal}}
{{end}}
Subtotal: {{.TotalAmount}}
Shipping: {{.ShippingCost}}
Tax: {{.Tax}}
Total: {{.FinalAmount}}

Payment method: {{.PaymentMethod}}
Estimated delivery: {{formatDate .EstimatedDelivery}}

Shipping to:
{{.ShippingAddress}}

Thank you for shopping with The Aellè.
`

const orderConfirmationHTML = `<h2>Order Confirmed</h2>
<p>Hi {{.CustomerName}},</p>
<p>Your order <strong>{{.OrderNumber}}</strong> is confirmed.</p>
<table>
{{range .Items}}<tr><td>{{.Title}}</td><td>x{{.Quantity}}</td><td>{{.UnitPrice}}</td><td>{{.LineTotal}}</td></tr>
{{end}}</table>
<p>Subtotal: {{.TotalAmount}}<br>Shipping: {{.ShippingCost}}<br>Tax: {{.Tax}}<br><strong>Total: {{.FinalAmount}}</strong></p>
<p>Payment method: {{.PaymentMethod}}<br>Estimated delivery: {{formatDate .EstimatedDelivery}}</p>
<p>Shipping to:<br>{{.ShippingAddress}}</p>
<p>Thank you for shopping with The Aellè.</p>
`

const invoiceText = `Invoice for order {{.OrderNumber}}

Date: {{.OrderDate}}
Billed to: {{.CustomerName}} <{{.CustomerEmail}}>

{{range .Items}}  - {{.Title}} x{{.Quantity}} @ {{.UnitPrice}} = {{.LineTotal}}
{{end}}
Subtotal: {{.TotalAmount}}
Shipping: {{.ShippingCost}}
Tax: {{.Tax}}
Amount due: {{.FinalAmount}}

Payment method: {{.PaymentMethod}}
`

const invoiceHTML = `<h2>Invoice</h2>
<p>Order <strong>{{.OrderNumber}}</strong> — {{.OrderDate}}</p>
<p>Billed to: {{.CustomerName}} &lt;{{.CustomerEmail}}&gt;</p>
<table>
{{range .Items}}<tr><td>{{.Title}}</td><td>x{{.Quantity}}</td><td>{{.UnitPrice}}</td><td>{{.LineTotal}}</td></tr>
{{end}}</table>
<p>Subtotal: {{.TotalAmount}}<br>Shipping: {{.ShippingCost}}<br>Tax: {{.Tax}}<br><strong>Amount due: {{.FinalAmount}}</strong></p>
<p>Payment method: {{.PaymentMethod}}</p>
`
