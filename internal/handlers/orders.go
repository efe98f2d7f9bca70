package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/aelleshop/aelle-api/internal/auth"
	"github.com/aelleshop/aelle-api/internal/models"
	"github.com/aelleshop/aelle-api/internal/pricing"
	"github.com/aelleshop/aelle-api/internal/services"
)

// Wire representation of an order. The API speaks camelCase regardless
// of how the storage layer names things.
type orderItemPayload struct {
	ProductID string  `json:"productId"`
	Title     string  `json:"title"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Size      string  `json:"size,omitempty"`
	Color     string  `json:"color,omitempty"`
}

type shippingAddressPayload struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	City     string `json:"city"`
	State    string `json:"state"`
	ZipCode  string `json:"zipCode"`
	Country  string `json:"country,omitempty"`
}

type createOrderRequest struct {
	Items           []orderItemPayload     `json:"items"`
	ShippingAddress shippingAddressPayload `json:"shippingAddress"`
	PaymentDetails  struct {
		Method string `json:"method"`
	} `json:"paymentDetails"`
	TotalAmount  float64 `json:"totalAmount"`
	ShippingCost float64 `json:"shippingCost"`
	Tax          float64 `json:"tax"`
	FinalAmount  float64 `json:"finalAmount"`
	Notes        string  `json:"notes,omitempty"`
}

type orderResponse struct {
	ID                uuid.UUID              `json:"id"`
	OrderNumber       string                 `json:"orderNumber"`
	Items             []orderItemPayload     `json:"items"`
	ShippingAddress   shippingAddressPayload `json:"shippingAddress"`
	PaymentMethod     string                 `json:"paymentMethod"`
	PaymentStatus     string                 `json:"paymentStatus"`
	OrderStatus       string                 `json:"orderStatus"`
	TransactionID     string                 `json:"transactionId,omitempty"`
	TotalAmount       float64                `json:"totalAmount"`
	ShippingCost      float64                `json:"shippingCost"`
	Tax               float64                `json:"tax"`
	FinalAmount       float64                `json:"finalAmount"`
	EstimatedDelivery time.Time              `json:"estimatedDelivery"`
	Notes             string                 `json:"notes,omitempty"`
	CreatedAt         time.Time              `json:"createdAt"`
	UpdatedAt         time.Time              `json:"updatedAt"`
}

func toOrderResponse(order *models.Order) orderResponse {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID: item.ProductID.String(),
			Title:     item.Title,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Size:      item.Size,
			Color:     item.Color,
		})
	}

	return orderResponse{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Items:       items,
		ShippingAddress: shippingAddressPayload{
			FullName: order.ShippingAddress.FullName,
			Email:    order.ShippingAddress.Email,
			Phone:    order.ShippingAddress.Phone,
			Address:  order.ShippingAddress.Address,
			City:     order.ShippingAddress.City,
			State:    order.ShippingAddress.State,
			ZipCode:  order.ShippingAddress.ZipCode,
			Country:  order.ShippingAddress.Country,
		},
		PaymentMethod:     string(order.PaymentMethod),
		PaymentStatus:     string(order.PaymentStatus),
		OrderStatus:       string(order.Status),
		TransactionID:     order.TransactionID,
		TotalAmount:       order.TotalAmount,
		ShippingCost:      order.ShippingCost,
		Tax:               order.Tax,
		FinalAmount:       order.FinalAmount,
		EstimatedDelivery: order.EstimatedDelivery,
		Notes:             order.Notes,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}
}

func (req *createOrderRequest) toInput() (services.CreateOrderInput, error) {
	items := make([]models.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		productID, err := uuid.Parse(item.ProductID)
		if err != nil {
			return services.CreateOrderInput{}, err
		}
		items = append(items, models.OrderItem{
			ProductID: productID,
			Title:     item.Title,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Size:      item.Size,
			Color:     item.Color,
		})
	}

	return services.CreateOrderInput{
		Items: items,
		ShippingAddress: models.ShippingAddress{
			FullName: req.ShippingAddress.FullName,
			Email:    req.ShippingAddress.Email,
			Phone:    req.ShippingAddress.Phone,
			Address:  req.ShippingAddress.Address,
			City:     req.ShippingAddress.City,
			State:    req.ShippingAddress.State,
			ZipCode:  req.ShippingAddress.ZipCode,
			Country:  req.ShippingAddress.Country,
		},
		PaymentMethod: models.PaymentMethod(req.PaymentDetails.Method),
		Amounts: pricing.Amounts{
			TotalAmount:  req.TotalAmount,
			ShippingCost: req.ShippingCost,
			Tax:          req.Tax,
			FinalAmount:  req.FinalAmount,
		},
		Notes: req.Notes,
	}, nil
}

// CreateOrder handles POST /orders/create for gateway-paid orders.
func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())

	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeBadRequest(w, r, err)
		return
	}
	input, err := req.toInput()
	if err != nil {
		h.writeBadRequest(w, r, err)
		return
	}

	order, err := h.orderService.CreateOrder(r.Context(), identity.UserID, input)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusCreated, map[string]any{
		"success": true,
		"order":   toOrderResponse(order),
	})
}

// PlaceOrder handles POST /orders/place for cash-on-delivery orders.
func (h *Handlers) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())

	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeBadRequest(w, r, err)
		return
	}
	input, err := req.toInput()
	if err != nil {
		h.writeBadRequest(w, r, err)
		return
	}

	order, err := h.orderService.PlaceCODOrder(r.Context(), identity.UserID, input)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusCreated, map[string]any{
		"success": true,
		"order":   toOrderResponse(order),
	})
}

type createPaymentIntentRequest struct {
	OrderID string  `json:"orderId"`
	Amount  float64 `json:"amount"`
}

// CreatePaymentIntent handles POST /orders/create-payment-intent.
func (h *Handlers) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())

	var req createPaymentIntentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeBadRequest(w, r, err)
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		h.writeBadRequest(w, r, err)
		return
	}

	intent, err := h.orderService.CreatePaymentIntent(r.Context(), orderID, identity.UserID, identity.Admin, req.Amount)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"success": true,
		"intent":  intent,
	})
}

type verifyPaymentRequest struct {
	OrderID           string `json:"orderId"`
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

// VerifyPayment handles POST /orders/verify-payment, the Razorpay
// checkout callback.
func (h *Handlers) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeBadRequest(w, r, err)
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		h.writeBadRequest(w, r, err)
		return
	}

	order, err := h.orderService.VerifyAndConfirmPayment(r.Context(), services.VerifyPaymentInput{
		OrderID:           orderID,
		GatewayOrderRef:   req.RazorpayOrderID,
		GatewayPaymentRef: req.RazorpayPaymentID,
		Signature:         req.RazorpaySignature,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"success": true,
		"message": "payment verified successfully",
		"order":   toOrderResponse(order),
	})
}

// MyOrders handles GET /orders/my-orders.
func (h *Handlers) MyOrders(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())

	orders, err := h.orderService.ListUserOrders(r.Context(), identity.UserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	responses := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		responses = append(responses, toOrderResponse(order))
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"success": true,
		"orders":  responses,
	})
}

// GetOrder handles GET /orders/order/{id}.
func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())

	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeBadRequest(w, r, err)
		return
	}

	order, err := h.orderService.GetOrder(r.Context(), orderID, identity.UserID, identity.Admin)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"success": true,
		"order":   toOrderResponse(order),
	})
}

// SendInvoice handles POST /orders/invoice/{id}.
func (h *Handlers) SendInvoice(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())

	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeBadRequest(w, r, err)
		return
	}

	if err := h.orderService.SendInvoice(r.Context(), orderID, identity.UserID, identity.Admin); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"success": true,
		"message": "invoice sent",
	})
}
