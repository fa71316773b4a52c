package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/IJaes/jeogiyo-server-sub000/internal/domain"
)

const paymentColumns = `
	id, order_id, status, billing_key, payment_key, amount_minor,
	approved_at, fail_log, cancel_reason, retry_count, created_at, updated_at
`

type paymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository создаёт PostgreSQL-реализацию PaymentRepository.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepository{db: store.DB()}
}

func (r *paymentRepository) Create(payment domain.Payment) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		payment.ID, payment.OrderID, string(payment.Status),
		payment.BillingKey, payment.PaymentKey, payment.AmountMinor,
		payment.ApprovedAt, payment.FailLog, payment.CancelReason,
		payment.RetryCount, payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("payment %s: %w", payment.ID, domain.ErrPaymentExists)
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

func (r *paymentRepository) Get(id string) (domain.Payment, error) {
	return r.getOne(`
		SELECT `+paymentColumns+`
		FROM payments
		WHERE id = $1
	`, id)
}

func (r *paymentRepository) GetByOrderID(orderID string) (domain.Payment, error) {
	// При нескольких платежах одного заказа активным считается последний.
	return r.getOne(`
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, orderID)
}

func (r *paymentRepository) GetByPaymentKey(paymentKey string) (domain.Payment, error) {
	if paymentKey == "" {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return r.getOne(`
		SELECT `+paymentColumns+`
		FROM payments
		WHERE payment_key = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, paymentKey)
}

func (r *paymentRepository) Save(payment domain.Payment) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $1,
		    billing_key = $2,
		    payment_key = $3,
		    approved_at = $4,
		    fail_log = $5,
		    cancel_reason = $6,
		    retry_count = $7,
		    updated_at = $8
		WHERE id = $9
	`,
		string(payment.Status),
		payment.BillingKey,
		payment.PaymentKey,
		payment.ApprovedAt,
		payment.FailLog,
		payment.CancelReason,
		payment.RetryCount,
		payment.UpdatedAt,
		payment.ID,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrPaymentNotFound
	}

	return nil
}

func (r *paymentRepository) ListStaleRequested(before time.Time, limit int) ([]domain.Payment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = $1
		  AND created_at < $2
		ORDER BY created_at ASC, id ASC
		LIMIT $3
	`, string(domain.PaymentStatusRequested), before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale payments: %w", err)
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}

	return payments, nil
}

func (r *paymentRepository) getOne(query string, arg any) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	payment, err := scanPayment(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment: %w", err)
	}

	return payment, nil
}

func scanPayment(row rowScanner) (domain.Payment, error) {
	var (
		payment domain.Payment
		status  string
	)
	if err := row.Scan(
		&payment.ID, &payment.OrderID, &status,
		&payment.BillingKey, &payment.PaymentKey, &payment.AmountMinor,
		&payment.ApprovedAt, &payment.FailLog, &payment.CancelReason,
		&payment.RetryCount, &payment.CreatedAt, &payment.UpdatedAt,
	); err != nil {
		return domain.Payment{}, err
	}
	payment.Status = domain.PaymentStatus(status)
	return payment, nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
