package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aelleshop/aelle-api/internal/db"
	"github.com/aelleshop/aelle-api/internal/logging"
	"github.com/aelleshop/aelle-api/internal/models"
	"github.com/aelleshop/aelle-api/internal/observability"
	"github.com/aelleshop/aelle-api/internal/payment"
	"github.com/aelleshop/aelle-api/internal/pricing"
	"github.com/aelleshop/aelle-api/internal/stripe"
)

const (
	maxOrderNumberAttempts = 5
	notifyTimeout          = 15 * time.Second
)

// OrderService owns every valid state transition of an order. It is the
// sole writer of order and payment status.
type OrderService struct {
	orders      orderStore
	products    productLookup
	razorpay    RazorpayGateway
	stripe      StripeGateway
	secret      string
	policy      *pricing.Policy
	emailSender OrderEmailSender
	logger      *slog.Logger

	notifyWG sync.WaitGroup
}

type orderStore interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Order, error)
	List(ctx context.Context, filter db.OrderFilter) ([]*models.Order, int64, error)
	ConfirmPayment(ctx context.Context, orderID uuid.UUID, transactionID string) (bool, error)
	FailPayment(ctx context.Context, orderID uuid.UUID) error
	UpdateStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus) (*models.Order, error)
	Stats(ctx context.Context) (db.OrderStats, error)
}

type productLookup interface {
	Exists(ctx context.Context, productID uuid.UUID) (bool, error)
}

// RazorpayGateway creates Razorpay orders for online payment.
type RazorpayGateway interface {
	CreateIntent(ctx context.Context, amountPaise int64, receipt string) (*payment.Intent, error)
}

// StripeGateway creates Stripe payment intents for card payment.
type StripeGateway interface {
	CreatePaymentIntent(ctx context.Context, amountCents int64, orderID string) (*stripe.Intent, error)
}

// NewOrderService wires the lifecycle controller. The gateways may be
// nil when not provisioned; the operations that need them fail with a
// configuration error instead.
func NewOrderService(orders orderStore, products productLookup, razorpayClient RazorpayGateway, stripeClient StripeGateway, razorpaySecret string, policy *pricing.Policy, emailSender OrderEmailSender, logger *slog.Logger) *OrderService {
	if policy == nil {
		policy = pricing.Default()
	}
	if emailSender == nil {
		emailSender = noopOrderEmailSender{}
	}

	return &OrderService{
		orders:      orders,
		products:    products,
		razorpay:    razorpayClient,
		stripe:      stripeClient,
		secret:      razorpaySecret,
		policy:      policy,
		emailSender: emailSender,
		logger:      logger,
	}
}

func (s *OrderService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// Close waits for in-flight notification sends to finish. Called on
// shutdown so best-effort emails are not cut off mid-send.
func (s *OrderService) Close() {
	s.notifyWG.Wait()
}

type CreateOrderInput struct {
	Items           []models.OrderItem
	ShippingAddress models.ShippingAddress
	PaymentMethod   models.PaymentMethod
	Amounts         pricing.Amounts
	Notes           string
}

// CreateOrder creates a gateway-paid order in pending state. Payment is
// confirmed later through VerifyAndConfirmPayment or the Stripe webhook.
func (s *OrderService) CreateOrder(ctx context.Context, userID uuid.UUID, input CreateOrderInput) (*models.Order, error) {
	if input.PaymentMethod == models.MethodCOD {
		return nil, invalidInputf("cash-on-delivery orders must use the place endpoint")
	}
	if !input.PaymentMethod.Valid() {
		return nil, invalidInputf("unknown payment method: %s", input.PaymentMethod)
	}

	order, err := s.createOrder(ctx, userID, input, models.StatusPending)
	if err != nil {
		return nil, err
	}

	s.loggerFromContext(ctx).Info("order created, awaiting payment",
		"order_number", order.OrderNumber, "user_id", userID, "method", order.PaymentMethod)
	return order, nil
}

// PlaceCODOrder creates a cash-on-delivery order. No online
// authorization is needed, so the order is confirmed immediately while
// payment stays pending until collection at delivery.
func (s *OrderService) PlaceCODOrder(ctx context.Context, userID uuid.UUID, input CreateOrderInput) (*models.Order, error) {
	input.PaymentMethod = models.MethodCOD

	order, err := s.createOrder(ctx, userID, input, models.StatusConfirmed)
	if err != nil {
		return nil, err
	}

	s.loggerFromContext(ctx).Info("cod order placed", "order_number", order.OrderNumber, "user_id", userID)
	s.dispatchOrderEmails(ctx, order)
	return order, nil
}

func (s *OrderService) createOrder(ctx context.Context, userID uuid.UUID, input CreateOrderInput, status models.OrderStatus) (*models.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.order.create",
		sentry.WithOpName("service.order"),
		sentry.WithDescription("createOrder"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	meter := observability.MeterFromContext(ctx)
	recordRejection := func(reason string) {
		meter.Count("order.create.rejected", 1, sentry.WithAttributes(
			attribute.String("reason", reason),
		))
	}

	if userID == uuid.Nil {
		recordRejection("missing_user")
		return nil, invalidInputf("user is required")
	}
	if err := validateItems(input.Items); err != nil {
		recordRejection("invalid_items")
		return nil, err
	}
	address, err := normalizeShippingAddress(input.ShippingAddress)
	if err != nil {
		recordRejection("invalid_address")
		return nil, err
	}
	if err := s.policy.CheckAmounts(input.Items, input.Amounts); err != nil {
		recordRejection("amount_mismatch")
		return nil, invalidInputf("%s", err.Error())
	}

	for _, item := range input.Items {
		exists, lookupErr := s.products.Exists(ctx, item.ProductID)
		if lookupErr != nil {
			return nil, fmt.Errorf("failed to look up product %s: %w", item.ProductID, lookupErr)
		}
		if !exists {
			recordRejection("product_missing")
			return nil, notFoundf("product %s not found", item.Title)
		}
	}

	now := time.Now()
	order := &models.Order{
		UserID:            userID,
		Items:             input.Items,
		ShippingAddress:   address,
		PaymentMethod:     input.PaymentMethod,
		PaymentStatus:     models.PaymentPending,
		Status:            status,
		TotalAmount:       input.Amounts.TotalAmount,
		ShippingCost:      input.Amounts.ShippingCost,
		Tax:               input.Amounts.Tax,
		FinalAmount:       input.Amounts.FinalAmount,
		EstimatedDelivery: s.policy.EstimatedDelivery(now),
		Notes:             input.Notes,
	}

	for attempt := 0; attempt < maxOrderNumberAttempts; attempt++ {
		order.OrderNumber = generateOrderNumber()
		createErr := s.orders.Create(ctx, order)
		if createErr == nil {
			meter.Count("order.created", 1, sentry.WithAttributes(
				attribute.String("method", string(order.PaymentMethod)),
			))
			return order, nil
		}
		if !errors.Is(createErr, db.ErrDuplicateOrderNumber) {
			return nil, fmt.Errorf("failed to create order: %w", createErr)
		}
		s.loggerFromContext(ctx).Warn("order number collision, regenerating", "order_number", order.OrderNumber)
	}

	return nil, fmt.Errorf("failed to generate a unique order number after %d attempts", maxOrderNumberAttempts)
}

// PaymentIntent is what the client needs to complete payment with the
// gateway directly. ClientSecret is only set for Stripe.
type PaymentIntent struct {
	ID           string `json:"id"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// CreatePaymentIntent reserves a payment with the order's gateway for
// amount (major currency units). The card data never touches us.
func (s *OrderService) CreatePaymentIntent(ctx context.Context, orderID, requesterID uuid.UUID, admin bool, amount float64) (*PaymentIntent, error) {
	if amount <= 0 {
		return nil, invalidInputf("amount must be positive")
	}

	order, err := s.getOwnedOrder(ctx, orderID, requesterID, admin)
	if err != nil {
		return nil, err
	}
	if math.Abs(amount-order.FinalAmount) > pricing.AmountTolerance {
		return nil, invalidInputf("amount %.2f does not match order total %.2f", amount, order.FinalAmount)
	}

	subunits := int64(math.Round(amount * 100))

	switch order.PaymentMethod {
	case models.MethodStripe:
		if s.stripe == nil {
			return nil, configurationErrorf("stripe gateway is not configured")
		}
		intent, intentErr := s.stripe.CreatePaymentIntent(ctx, subunits, order.ID.String())
		if intentErr != nil {
			return nil, upstreamError("failed to create stripe payment intent", intentErr)
		}
		return &PaymentIntent{ID: intent.ID, Amount: intent.Amount, Currency: intent.Currency, ClientSecret: intent.ClientSecret}, nil
	case models.MethodRazorpay:
		if s.razorpay == nil {
			return nil, configurationErrorf("razorpay gateway is not configured")
		}
		receipt := fmt.Sprintf("order_%s", order.ID)
		intent, intentErr := s.razorpay.CreateIntent(ctx, subunits, receipt)
		if intentErr != nil {
			return nil, upstreamError("failed to create razorpay order", intentErr)
		}
		return &PaymentIntent{ID: intent.ID, Amount: intent.Amount, Currency: intent.Currency}, nil
	default:
		return nil, invalidInputf("order %s does not use an online gateway", order.OrderNumber)
	}
}

type VerifyPaymentInput struct {
	OrderID           uuid.UUID
	GatewayOrderRef   string
	GatewayPaymentRef string
	Signature         string
}

// VerifyAndConfirmPayment authenticates a Razorpay payment callback and
// finalizes the order. The confirm transition is a single conditional
// update in the store, so redelivered callbacks are idempotent and the
// confirmation email is sent at most once per transaction.
func (s *OrderService) VerifyAndConfirmPayment(ctx context.Context, input VerifyPaymentInput) (*models.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.order.verify_payment",
		sentry.WithOpName("service.order"),
		sentry.WithDescription("VerifyAndConfirmPayment"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)

	if input.GatewayOrderRef == "" || input.GatewayPaymentRef == "" || input.Signature == "" {
		return nil, invalidInputf("gateway order id, payment id and signature are required")
	}
	if s.secret == "" {
		return nil, configurationErrorf("razorpay secret is not configured")
	}

	order, err := s.orders.GetByID(ctx, input.OrderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("order not found")
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	if !payment.VerifySignature(s.secret, input.GatewayOrderRef, input.GatewayPaymentRef, input.Signature) {
		meter.Count("payment.verification_failed", 1)
		if failErr := s.orders.FailPayment(ctx, order.ID); failErr != nil {
			// An already-completed payment stays completed; the bogus
			// callback is rejected either way.
			logger.Warn("could not mark order failed after signature mismatch", "error", failErr, "order_id", order.ID)
		}
		logger.Warn("payment signature mismatch", "order_number", order.OrderNumber, "gateway_order", input.GatewayOrderRef)
		return nil, verificationFailedf("payment verification failed")
	}

	confirmedNow, err := s.orders.ConfirmPayment(ctx, order.ID, input.GatewayPaymentRef)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrTransactionMismatch):
			return nil, verificationFailedf("order is already confirmed with a different transaction")
		case errors.Is(err, db.ErrInvalidStatusTransition):
			return nil, transitionError("order can no longer be confirmed", err)
		case errors.Is(err, pgx.ErrNoRows):
			return nil, notFoundf("order not found")
		}
		return nil, fmt.Errorf("failed to confirm payment: %w", err)
	}

	updated, err := s.orders.GetByID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload order: %w", err)
	}

	if confirmedNow {
		meter.Count("payment.verified", 1)
		logger.Info("payment verified and order confirmed",
			"order_number", updated.OrderNumber, "transaction_id", input.GatewayPaymentRef)
		s.dispatchOrderEmails(ctx, updated)
	} else {
		logger.Info("payment confirmation redelivered, no-op", "order_number", updated.OrderNumber)
	}

	return updated, nil
}

// ConfirmStripePayment finalizes a Stripe-paid order from a
// payment_intent.succeeded webhook. Shares the idempotent store
// transition with the Razorpay path.
func (s *OrderService) ConfirmStripePayment(ctx context.Context, orderID uuid.UUID, paymentIntentID string) error {
	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)

	if paymentIntentID == "" {
		return invalidInputf("payment intent id is required")
	}

	confirmedNow, err := s.orders.ConfirmPayment(ctx, orderID, paymentIntentID)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return notFoundf("order not found")
		case errors.Is(err, db.ErrTransactionMismatch):
			return verificationFailedf("order is already confirmed with a different transaction")
		case errors.Is(err, db.ErrInvalidStatusTransition):
			return transitionError("order can no longer be confirmed", err)
		}
		return fmt.Errorf("failed to confirm payment: %w", err)
	}
	if !confirmedNow {
		logger.Info("stripe confirmation redelivered, no-op", "order_id", orderID)
		return nil
	}

	meter.Count("payment.verified", 1, sentry.WithAttributes(
		attribute.String("gateway", "stripe"),
	))

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		logger.Error("confirmed order could not be reloaded for notification", "error", err, "order_id", orderID)
		return nil
	}
	logger.Info("stripe payment confirmed", "order_number", order.OrderNumber, "transaction_id", paymentIntentID)
	s.dispatchOrderEmails(ctx, order)
	return nil
}

// UpdateOrderStatus is the operator override. Terminal states are
// protected by the store's conditional update.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status string) (*models.Order, error) {
	newStatus := models.OrderStatus(status)
	if !newStatus.Valid() {
		return nil, invalidInputf("invalid order status: %s", status)
	}

	order, err := s.orders.UpdateStatus(ctx, orderID, newStatus)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, notFoundf("order not found")
		case errors.Is(err, db.ErrInvalidStatusTransition):
			return nil, transitionError(fmt.Sprintf("cannot move order to %s", newStatus), err)
		}
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	s.loggerFromContext(ctx).Info("order status updated", "order_number", order.OrderNumber, "status", newStatus)
	return order, nil
}

func (s *OrderService) ListUserOrders(ctx context.Context, userID uuid.UUID) ([]*models.Order, error) {
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

func (s *OrderService) ListAllOrders(ctx context.Context, filter db.OrderFilter) ([]*models.Order, int64, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, invalidInputf("invalid status filter: %s", filter.Status)
	}
	orders, total, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, total, nil
}

// GetOrder returns an order, restricted to its owner unless the
// requester is an operator.
func (s *OrderService) GetOrder(ctx context.Context, orderID, requesterID uuid.UUID, admin bool) (*models.Order, error) {
	return s.getOwnedOrder(ctx, orderID, requesterID, admin)
}

func (s *OrderService) Stats(ctx context.Context) (db.OrderStats, error) {
	stats, err := s.orders.Stats(ctx)
	if err != nil {
		return db.OrderStats{}, fmt.Errorf("failed to compute order stats: %w", err)
	}
	return stats, nil
}

// SendInvoice re-sends the invoice email for an owned order. Unlike the
// lifecycle notifications this is user-initiated, so delivery failure
// is surfaced.
func (s *OrderService) SendInvoice(ctx context.Context, orderID, requesterID uuid.UUID, admin bool) error {
	order, err := s.getOwnedOrder(ctx, orderID, requesterID, admin)
	if err != nil {
		return err
	}
	if err := s.emailSender.SendInvoice(ctx, order); err != nil {
		return upstreamError("failed to send invoice email", err)
	}
	return nil
}

func (s *OrderService) getOwnedOrder(ctx context.Context, orderID, requesterID uuid.UUID, admin bool) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("order not found")
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if !admin && order.UserID != requesterID {
		return nil, forbiddenf("order belongs to another user")
	}
	return order, nil
}

// dispatchOrderEmails fires the confirmation and invoice emails in the
// background with a bounded deadline. Failures are logged and dropped;
// they never affect the order operation that triggered them.
func (s *OrderService) dispatchOrderEmails(ctx context.Context, order *models.Order) {
	logger := s.loggerFromContext(ctx)

	s.notifyWG.Add(1)
	go func() {
		defer s.notifyWG.Done()

		sendCtx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if err := s.emailSender.SendOrderConfirmation(sendCtx, order); err != nil {
			logger.Warn("order confirmation email failed", "error", err, "order_number", order.OrderNumber)
			sentry.NewMeter(sendCtx).Count("order.notify.failed", 1, sentry.WithAttributes(
				attribute.String("email", "order_confirmation"),
			))
		}
		if err := s.emailSender.SendInvoice(sendCtx, order); err != nil {
			logger.Warn("invoice email failed", "error", err, "order_number", order.OrderNumber)
			sentry.NewMeter(sendCtx).Count("order.notify.failed", 1, sentry.WithAttributes(
				attribute.String("email", "invoice"),
			))
		}
	}()
}

func validateItems(items []models.OrderItem) error {
	if len(items) == 0 {
		return invalidInputf("no items in order")
	}
	for i, item := range items {
		switch {
		case item.ProductID == uuid.Nil:
			return invalidInputf("items[%d]: product_id is required", i)
		case strings.TrimSpace(item.Title) == "":
			return invalidInputf("items[%d]: title is required", i)
		case item.Price <= 0:
			return invalidInputf("items[%d]: price must be positive", i)
		case item.Quantity <= 0:
			return invalidInputf("items[%d]: quantity must be positive", i)
		}
	}
	return nil
}

// normalizeShippingAddress checks the required fields in a stable order
// so the first missing one is named, and applies the country default.
func normalizeShippingAddress(addr models.ShippingAddress) (models.ShippingAddress, error) {
	required := []struct {
		name  string
		value string
	}{
		{"fullName", addr.FullName},
		{"email", addr.Email},
		{"phone", addr.Phone},
		{"address", addr.Address},
		{"city", addr.City},
		{"state", addr.State},
		{"zipCode", addr.ZipCode},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return models.ShippingAddress{}, invalidInputf("%s is required in shipping address", field.name)
		}
	}
	if strings.TrimSpace(addr.Country) == "" {
		addr.Country = "India"
	}
	return addr, nil
}

const orderNumberCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generateOrderNumber() string {
	suffix := make([]byte, 5)
	if _, err := rand.Read(suffix); err != nil {
		// crypto/rand failing is not survivable for anything else either.
		panic(fmt.Sprintf("failed to read random bytes: %v", err))
	}
	for i, b := range suffix {
		suffix[i] = orderNumberCharset[int(b)%len(orderNumberCharset)]
	}
	return fmt.Sprintf("ORD-%d-%s", time.Now().UnixMilli(), suffix)
}
