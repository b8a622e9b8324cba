package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aq2208/gcheckout/internal/apperr"
	domain "github.com/aq2208/gcheckout/internal/entity"
	"github.com/aq2208/gcheckout/internal/usecase"
)

type MySQLOrderRepo struct{ db *sql.DB }

func NewMySQLOrderRepo(db *sql.DB) *MySQLOrderRepo { return &MySQLOrderRepo{db: db} }

var _ usecase.OrderStore = (*MySQLOrderRepo)(nil)

const orderColumns = `id,payment_intent_id,payment_method,customer_json,items_json,subtotal,tax,total,currency,payment_status,status,created_at,updated_at`

// Create inserts the order once. Writing the same order id again is a no-op,
// so a retried outcome never duplicates or rewrites the row.
func (r *MySQLOrderRepo) Create(ctx context.Context, o *domain.Order) error {
	if err := o.Validate(); err != nil {
		return apperr.Validation("order", err.Error())
	}
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return fmt.Errorf("marshal customer: %w", err)
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO orders (`+orderColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE id = id`,
		o.ID, o.PaymentIntentID, o.PaymentMethod, customer, items,
		o.Subtotal.StringFixed(2), o.Tax.StringFixed(2), o.Total.StringFixed(2),
		o.Currency, string(o.PaymentStatus), string(o.OrderStatus), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return nil
}

func (r *MySQLOrderRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("order " + id)
	}
	return o, err
}

func (r *MySQLOrderRepo) GetPaymentStatus(ctx context.Context, intentID string) (domain.PaymentStatus, error) {
	var st string
	err := r.db.QueryRowContext(ctx, `SELECT payment_status FROM orders WHERE payment_intent_id = ?`, intentID).Scan(&st)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.NotFound("payment " + intentID)
	}
	if err != nil {
		return "", fmt.Errorf("read payment status: %w", err)
	}
	return domain.PaymentStatus(st), nil
}

// UpdateOrderStatusIf moves the order only while it is still in from.
func (r *MySQLOrderRepo) UpdateOrderStatusIf(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
        UPDATE orders
        SET status = ?, updated_at = NOW(3)
        WHERE id = ? AND status = ?`,
		string(to), id, string(from),
	)
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	// rows == 0 → either not found or status mismatch
	return rows > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                 domain.Order
		customer, items   []byte
		payStatus, status string
	)
	if err := row.Scan(&o.ID, &o.PaymentIntentID, &o.PaymentMethod, &customer, &items,
		&o.Subtotal, &o.Tax, &o.Total, &o.Currency, &payStatus, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return nil, fmt.Errorf("decode customer of %s: %w", o.ID, err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items of %s: %w", o.ID, err)
	}
	o.PaymentStatus = domain.PaymentStatus(payStatus)
	o.OrderStatus = domain.OrderStatus(status)
	return &o, nil
}
