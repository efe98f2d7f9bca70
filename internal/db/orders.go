package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aelleshop/aelle-api/internal/models"
)

var (
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrDuplicateOrderNumber    = errors.New("order number already exists")
	ErrTransactionMismatch     = errors.New("order already confirmed with a different transaction")
)

const pgUniqueViolation = "23505"

type OrderStore struct {
	pool *pgxpool.Pool
}

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderColumns = `id, order_number, user_id, items, shipping_address, payment_method,
	transaction_id, payment_status, order_status, total_amount, shipping_cost, tax,
	final_amount, estimated_delivery, notes, created_at, updated_at`

// Create persists a new order. The order number must already be set; a
// collision surfaces as ErrDuplicateOrderNumber so the caller can
// regenerate and retry.
func (s *OrderStore) Create(ctx context.Context, order *models.Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to encode order items: %w", err)
	}
	addressJSON, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("failed to encode shipping address: %w", err)
	}

	query := `
		INSERT INTO orders (order_number, user_id, items, shipping_address, payment_method,
			payment_status, order_status, total_amount, shipping_cost, tax, final_amount,
			estimated_delivery, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`
	row := s.pool.QueryRow(ctx, query,
		order.OrderNumber,
		order.UserID,
		itemsJSON,
		addressJSON,
		string(order.PaymentMethod),
		string(order.PaymentStatus),
		string(order.Status),
		order.TotalAmount,
		order.ShippingCost,
		order.Tax,
		order.FinalAmount,
		order.EstimatedDelivery,
		order.Notes,
	)

	var createdAt, updatedAt pgtype.Timestamptz
	if err := row.Scan(&order.ID, &createdAt, &updatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateOrderNumber
		}
		return err
	}
	order.CreatedAt = createdAt.Time
	order.UpdatedAt = updatedAt.Time
	return nil
}

func (s *OrderStore) GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return s.scanOrder(s.pool.QueryRow(ctx, query, orderID))
}

func (s *OrderStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanOrders(rows)
}

type OrderFilter struct {
	Status models.OrderStatus
	Page   int
	Limit  int
}

// List returns a page of orders, newest first, plus the total count
// matching the filter.
func (s *OrderStore) List(ctx context.Context, filter OrderFilter) ([]*models.Order, int64, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	var (
		orders []*models.Order
		total  int64
	)
	if filter.Status != "" {
		countQuery := `SELECT COUNT(*) FROM orders WHERE order_status = $1`
		if err := s.pool.QueryRow(ctx, countQuery, string(filter.Status)).Scan(&total); err != nil {
			return nil, 0, err
		}
		query := `SELECT ` + orderColumns + ` FROM orders WHERE order_status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		rows, err := s.pool.Query(ctx, query, string(filter.Status), limit, offset)
		if err != nil {
			return nil, 0, err
		}
		defer rows.Close()
		orders, err = s.scanOrders(rows)
		if err != nil {
			return nil, 0, err
		}
		return orders, total, nil
	}

	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders`).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	orders, err = s.scanOrders(rows)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ConfirmPayment moves an order to payment_status=completed and
// order_status=confirmed in a single conditional update. Only orders
// still awaiting payment qualify: a failed payment or a terminal order
// status never matches, so a late callback cannot resurrect a
// cancelled order. It returns true when this call performed the
// transition. A repeat call for an order already completed with the
// same transaction id returns (false, nil): the idempotent case where
// no side effects may rerun.
func (s *OrderStore) ConfirmPayment(ctx context.Context, orderID uuid.UUID, transactionID string) (bool, error) {
	query := `
		UPDATE orders
		SET payment_status = 'completed', transaction_id = $2, order_status = 'confirmed', updated_at = NOW()
		WHERE id = $1
		  AND payment_status = 'pending'
		  AND order_status NOT IN ('delivered', 'cancelled')
	`
	cmdTag, err := s.pool.Exec(ctx, query, orderID, transactionID)
	if err != nil {
		return false, err
	}
	if cmdTag.RowsAffected() == 1 {
		return true, nil
	}

	var (
		paymentStatus string
		orderStatus   string
		existingTxn   pgtype.Text
	)
	row := s.pool.QueryRow(ctx, `SELECT payment_status, order_status, transaction_id FROM orders WHERE id = $1`, orderID)
	if err := row.Scan(&paymentStatus, &orderStatus, &existingTxn); err != nil {
		return false, err
	}
	return false, classifyConfirmConflict(paymentStatus, orderStatus, existingTxn, transactionID)
}

// classifyConfirmConflict explains why the confirm update matched no
// row. A nil return is the idempotent redelivery case.
func classifyConfirmConflict(paymentStatus, orderStatus string, existingTxn pgtype.Text, transactionID string) error {
	if paymentStatus == string(models.PaymentCompleted) {
		if existingTxn.Valid && existingTxn.String == transactionID {
			return nil
		}
		return ErrTransactionMismatch
	}
	return fmt.Errorf("%w: payment is %s, order is %s", ErrInvalidStatusTransition, paymentStatus, orderStatus)
}

// FailPayment cancels an order after a failed verification. The guard
// on payment_status means a late mismatched callback can never clobber
// an already-completed payment. Repeat failures are no-ops.
func (s *OrderStore) FailPayment(ctx context.Context, orderID uuid.UUID) error {
	query := `
		UPDATE orders
		SET payment_status = 'failed', order_status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND payment_status = 'pending'
	`
	cmdTag, err := s.pool.Exec(ctx, query, orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 1 {
		return nil
	}

	var paymentStatus string
	if err := s.pool.QueryRow(ctx, `SELECT payment_status FROM orders WHERE id = $1`, orderID).Scan(&paymentStatus); err != nil {
		return err
	}
	if paymentStatus == string(models.PaymentFailed) {
		return nil
	}
	return fmt.Errorf("%w: payment is %s", ErrInvalidStatusTransition, paymentStatus)
}

// UpdateStatus sets the order status. Terminal states (delivered,
// cancelled) are protected in the WHERE clause, and a completed payment
// can never be pushed back to pending.
func (s *OrderStore) UpdateStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus) (*models.Order, error) {
	query := `
		UPDATE orders
		SET order_status = $2, updated_at = NOW()
		WHERE id = $1
		  AND order_status NOT IN ('delivered', 'cancelled')
		  AND NOT (payment_status = 'completed' AND $2 = 'pending')
		RETURNING ` + orderColumns
	order, err := s.scanOrder(s.pool.QueryRow(ctx, query, orderID, string(status)))
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var current string
	if scanErr := s.pool.QueryRow(ctx, `SELECT order_status FROM orders WHERE id = $1`, orderID).Scan(&current); scanErr != nil {
		return nil, scanErr
	}
	return nil, fmt.Errorf("%w: order is %s", ErrInvalidStatusTransition, current)
}

type OrderStats struct {
	TotalOrders  int64   `json:"total_orders"`
	TotalRevenue float64 `json:"total_revenue"`
}

func (s *OrderStore) Stats(ctx context.Context) (OrderStats, error) {
	var stats OrderStats
	query := `SELECT COUNT(*), COALESCE(SUM(final_amount), 0) FROM orders`
	if err := s.pool.QueryRow(ctx, query).Scan(&stats.TotalOrders, &stats.TotalRevenue); err != nil {
		return OrderStats{}, err
	}
	return stats, nil
}

func (s *OrderStore) scanOrders(rows pgx.Rows) ([]*models.Order, error) {
	var orders []*models.Order
	for rows.Next() {
		order, err := s.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (s *OrderStore) scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		order             models.Order
		itemsJSON         []byte
		addressJSON       []byte
		paymentMethod     string
		transactionID     pgtype.Text
		paymentStatus     string
		orderStatus       string
		estimatedDelivery pgtype.Timestamptz
		notes             pgtype.Text
		createdAt         pgtype.Timestamptz
		updatedAt         pgtype.Timestamptz
	)

	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.UserID,
		&itemsJSON,
		&addressJSON,
		&paymentMethod,
		&transactionID,
		&paymentStatus,
		&orderStatus,
		&order.TotalAmount,
		&order.ShippingCost,
		&order.Tax,
		&order.FinalAmount,
		&estimatedDelivery,
		&notes,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if itemsJSON != nil {
		if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
			return nil, fmt.Errorf("failed to decode order items: %w", err)
		}
	}
	if addressJSON != nil {
		if err := json.Unmarshal(addressJSON, &order.ShippingAddress); err != nil {
			return nil, fmt.Errorf("failed to decode shipping address: %w", err)
		}
	}

	order.PaymentMethod = models.PaymentMethod(paymentMethod)
	order.PaymentStatus = models.PaymentStatus(paymentStatus)
	order.Status = models.OrderStatus(orderStatus)
	if transactionID.Valid {
		order.TransactionID = transactionID.String
	}
	if notes.Valid {
		order.Notes = notes.String
	}
	order.EstimatedDelivery = estimatedDelivery.Time
	order.CreatedAt = createdAt.Time
	order.UpdatedAt = updatedAt.Time

	return &order, nil
}
