package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aelleshop/aelle-api/internal/auth"
	"github.com/aelleshop/aelle-api/internal/cache"
	"github.com/aelleshop/aelle-api/internal/config"
	"github.com/aelleshop/aelle-api/internal/logging"
	"github.com/aelleshop/aelle-api/internal/services"
)

const (
	maxWebhookBodyBytes = 1 << 20 // 1 MB
	maxRequestBodyBytes = 256 << 10
)

// Handlers provides the HTTP request handlers for the order API.
type Handlers struct {
	config        *config.Config
	db            *pgxpool.Pool
	cacheProvider cache.Provider
	authMW        *auth.Middleware
	orderService  *services.OrderService
	otpService    *services.OTPService
	logger        *slog.Logger
}

type Dependencies struct {
	Config        *config.Config
	DB            *pgxpool.Pool
	CacheProvider cache.Provider
	AuthMW        *auth.Middleware
	OrderService  *services.OrderService
	OTPService    *services.OTPService
	Logger        *slog.Logger
}

func New(deps Dependencies) (*Handlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if deps.Config == nil {
		return nil, fmt.Errorf("handlers dependencies: config is required")
	}
	if deps.CacheProvider == nil {
		return nil, fmt.Errorf("handlers dependencies: cacheProvider is required")
	}
	if deps.AuthMW == nil {
		return nil, fmt.Errorf("handlers dependencies: authMW is required")
	}
	if deps.OrderService == nil {
		return nil, fmt.Errorf("handlers dependencies: orderService is required")
	}
	if deps.OTPService == nil {
		return nil, fmt.Errorf("handlers dependencies: otpService is required")
	}

	return &Handlers{
		config:        deps.Config,
		db:            deps.DB,
		cacheProvider: deps.CacheProvider,
		authMW:        deps.AuthMW,
		orderService:  deps.OrderService,
		otpService:    deps.OTPService,
		logger:        logger.With("component", "handlers"),
	}, nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			logger.Error("database health check failed", "error", err)
			http.Error(w, "Database unhealthy", http.StatusServiceUnavailable)
			return
		}
	}

	h.writeJSON(w, r, http.StatusOK, map[string]string{"status": "healthy"})
}

// RequireUser and RequireAdmin expose the auth middleware so the server
// can guard route groups.
func (h *Handlers) RequireUser(next http.Handler) http.Handler {
	return h.authMW.RequireUser(next)
}

func (h *Handlers) RequireAdmin(next http.Handler) http.Handler {
	return h.authMW.RequireAdmin(next)
}

func (h *Handlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.loggerFromContext(r.Context()).Error("failed to encode response", "error", err)
	}
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
// Internal details of unclassified errors stay out of the response body.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := services.KindOf(err)

	status := http.StatusInternalServerError
	message := "internal server error"
	switch kind {
	case services.KindInvalidInput, services.KindVerificationFailed:
		status = http.StatusBadRequest
		message = err.Error()
	case services.KindNotFound:
		status = http.StatusNotFound
		message = err.Error()
	case services.KindForbidden:
		status = http.StatusForbidden
		message = err.Error()
	case services.KindInvalidTransition:
		status = http.StatusConflict
		message = err.Error()
	case services.KindUpstreamUnavailable:
		status = http.StatusBadGateway
		message = "upstream service unavailable"
	case services.KindConfigurationError:
		status = http.StatusInternalServerError
		message = "service misconfigured"
	}

	if status >= http.StatusInternalServerError {
		h.loggerFromContext(r.Context()).Error("request failed", "error", err, "path", r.URL.Path)
	}

	h.writeJSON(w, r, status, map[string]any{
		"success": false,
		"error": map[string]string{
			"code":    string(orDefaultKind(kind)),
			"message": message,
		},
	})
}

func orDefaultKind(kind services.ErrorKind) services.ErrorKind {
	if kind == "" {
		return "internal_error"
	}
	return kind
}

// decodeJSON reads a bounded JSON body into dst, rejecting unknown and
// trailing content.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("invalid request body: unexpected trailing data")
	}
	return nil
}

func (h *Handlers) writeBadRequest(w http.ResponseWriter, r *http.Request, err error) {
	h.writeJSON(w, r, http.StatusBadRequest, map[string]any{
		"success": false,
		"error": map[string]string{
			"code":    "invalid_input",
			"message": err.Error(),
		},
	})
}
