package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/aelleshop/aelle-api/internal/config"
	"github.com/aelleshop/aelle-api/internal/handlers"
)

type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	handlers   *handlers.Handlers
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger, h *handlers.Handlers) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if h == nil {
		return nil, fmt.Errorf("handlers are required")
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		handlers: h,
	}

	router := s.buildRouter()
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

func (s *Server) Run() error {
	s.logger.Info("server starting", "port", s.cfg.Port)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) buildRouter() *mux.Router {
	h := s.handlers

	r := mux.NewRouter()
	r.Use(h.RequestLogger)
	r.Use(h.SecurityHeaders)
	r.Use(h.MetricsContext)
	r.HandleFunc("/health", h.Health).Methods("GET").Name("health")
	r.HandleFunc("/webhooks/stripe", h.StripeWebhook).Methods("POST").Name("webhooks.stripe")

	r.HandleFunc("/auth/otp/send", h.SendOTP).Methods("POST").Name("auth.otp.send")
	r.HandleFunc("/auth/otp/verify", h.VerifyOTP).Methods("POST").Name("auth.otp.verify")

	// Admin routes must be registered before /orders so the more
	// specific prefix wins.
	adminRouter := r.PathPrefix("/orders/admin").Subrouter()
	adminRouter.Use(h.RequireUser)
	adminRouter.Use(h.RequireAdmin)
	adminRouter.HandleFunc("/all", h.AdminAllOrders).Methods("GET").Name("orders.admin.all")
	adminRouter.HandleFunc("/stats", h.AdminOrderStats).Methods("GET").Name("orders.admin.stats")
	adminRouter.HandleFunc("/{id}/status", h.AdminUpdateOrderStatus).Methods("PUT").Name("orders.admin.status")

	orderRouter := r.PathPrefix("/orders").Subrouter()
	orderRouter.Use(h.RequireUser)
	orderRouter.HandleFunc("/create", h.CreateOrder).Methods("POST").Name("orders.create")
	orderRouter.HandleFunc("/place", h.PlaceOrder).Methods("POST").Name("orders.place")
	orderRouter.HandleFunc("/create-payment-intent", h.CreatePaymentIntent).Methods("POST").Name("orders.payment_intent")
	orderRouter.HandleFunc("/verify-payment", h.VerifyPayment).Methods("POST").Name("orders.verify_payment")
	orderRouter.HandleFunc("/my-orders", h.MyOrders).Methods("GET").Name("orders.mine")
	orderRouter.HandleFunc("/order/{id}", h.GetOrder).Methods("GET").Name("orders.get")
	orderRouter.HandleFunc("/invoice/{id}", h.SendInvoice).Methods("POST").Name("orders.invoice")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"not_found","message":"route not found"}}`))
	})

	return r
}
