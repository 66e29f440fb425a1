package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eka-ai/billing/internal/domain/invoice"
	ierr "github.com/eka-ai/billing/internal/errors"
	"github.com/eka-ai/billing/internal/logger"
	"github.com/eka-ai/billing/internal/postgres"
	"github.com/eka-ai/billing/internal/types"
	"github.com/shopspring/decimal"
)

type invoiceRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewInvoiceRepository(db *postgres.DB, logger *logger.Logger) invoice.Repository {
	return &invoiceRepository{db: db, logger: logger}
}

// lineItemsJSON persists invoice line items as a jsonb column
type lineItemsJSON []invoice.LineItem

func (l lineItemsJSON) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *lineItemsJSON) Scan(src interface{}) error {
	if src == nil {
		*l = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unexpected type %T for line_items", src)
	}
	return json.Unmarshal(b, l)
}

type invoiceRow struct {
	ID                string              `db:"id"`
	InvoiceNumber     string              `db:"invoice_number"`
	UserID            string              `db:"user_id"`
	SubscriptionID    *string             `db:"subscription_id"`
	InvoiceStatus     types.InvoiceStatus `db:"invoice_status"`
	Amount            decimal.Decimal     `db:"amount"`
	TaxAmount         decimal.Decimal     `db:"tax_amount"`
	DiscountAmount    decimal.Decimal     `db:"discount_amount"`
	TotalAmount       decimal.Decimal     `db:"total_amount"`
	Currency          string              `db:"currency"`
	LineItems         lineItemsJSON       `db:"line_items"`
	PaymentProvider   string              `db:"payment_provider"`
	StripeInvoiceID   *string             `db:"stripe_invoice_id"`
	RazorpayInvoiceID *string             `db:"razorpay_invoice_id"`
	PeriodStart       *time.Time          `db:"period_start"`
	PeriodEnd         *time.Time          `db:"period_end"`
	DueDate           *time.Time          `db:"due_date"`
	PaidAt            *time.Time          `db:"paid_at"`
	CreatedAt         time.Time           `db:"created_at"`
	UpdatedAt         time.Time           `db:"updated_at"`

	invoice.BillingDetails
	invoice.PaymentDetails
}

func toInvoiceRow(i *invoice.Invoice) *invoiceRow {
	return &invoiceRow{
		ID:                i.ID,
		InvoiceNumber:     i.InvoiceNumber,
		UserID:            i.UserID,
		SubscriptionID:    i.SubscriptionID,
		InvoiceStatus:     i.InvoiceStatus,
		Amount:            i.Amount,
		TaxAmount:         i.TaxAmount,
		DiscountAmount:    i.DiscountAmount,
		TotalAmount:       i.TotalAmount,
		Currency:          i.Currency,
		LineItems:         lineItemsJSON(i.LineItems),
		PaymentProvider:   string(i.PaymentProvider),
		StripeInvoiceID:   i.StripeInvoiceID,
		RazorpayInvoiceID: i.RazorpayInvoiceID,
		PeriodStart:       i.PeriodStart,
		PeriodEnd:         i.PeriodEnd,
		DueDate:           i.DueDate,
		PaidAt:            i.PaidAt,
		CreatedAt:         i.CreatedAt,
		UpdatedAt:         i.UpdatedAt,
		BillingDetails:    i.BillingDetails,
		PaymentDetails:    i.PaymentDetails,
	}
}

func (r *invoiceRow) toDomain() *invoice.Invoice {
	return &invoice.Invoice{
		ID:                r.ID,
		InvoiceNumber:     r.InvoiceNumber,
		UserID:            r.UserID,
		SubscriptionID:    r.SubscriptionID,
		InvoiceStatus:     r.InvoiceStatus,
		Amount:            r.Amount,
		TaxAmount:         r.TaxAmount,
		DiscountAmount:    r.DiscountAmount,
		TotalAmount:       r.TotalAmount,
		Currency:          r.Currency,
		LineItems:         []invoice.LineItem(r.LineItems),
		BillingDetails:    r.BillingDetails,
		PaymentProvider:   types.PaymentProvider(r.PaymentProvider),
		PaymentDetails:    r.PaymentDetails,
		StripeInvoiceID:   r.StripeInvoiceID,
		RazorpayInvoiceID: r.RazorpayInvoiceID,
		PeriodStart:       r.PeriodStart,
		PeriodEnd:         r.PeriodEnd,
		DueDate:           r.DueDate,
		PaidAt:            r.PaidAt,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

const invoiceColumns = `
	id, invoice_number, user_id, subscription_id, invoice_status,
	amount, tax_amount, discount_amount, total_amount, currency, line_items,
	billing_name, billing_email, billing_phone,
	billing_address_line1, billing_address_line2, billing_address_city,
	billing_address_state, billing_address_postal_code, billing_address_country,
	billing_gstin,
	payment_provider, payment_transaction_id, payment_receipt_url,
	stripe_invoice_id, razorpay_invoice_id,
	period_start, period_end, due_date, paid_at,
	created_at, updated_at`

func (r *invoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	query := `
		INSERT INTO invoices (` + invoiceColumns + `
		) VALUES (
			:id, :invoice_number, :user_id, :subscription_id, :invoice_status,
			:amount, :tax_amount, :discount_amount, :total_amount, :currency, :line_items,
			:billing_name, :billing_email, :billing_phone,
			:billing_address_line1, :billing_address_line2, :billing_address_city,
			:billing_address_state, :billing_address_postal_code, :billing_address_country,
			:billing_gstin,
			:payment_provider, :payment_transaction_id, :payment_receipt_url,
			:stripe_invoice_id, :razorpay_invoice_id,
			:period_start, :period_end, :due_date, :paid_at,
			:created_at, :updated_at
		)`

	bound, args, err := r.db.BindNamed(query, toInvoiceRow(inv))
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to create invoice").
			Mark(ierr.ErrDatabase)
	}
	if _, err := r.db.GetQuerier(ctx).ExecContext(ctx, bound, args...); err != nil {
		if isUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("An invoice with this number already exists").
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create invoice").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *invoiceRepository) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`

	var row invoiceRow
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("invoice not found").
				WithHint("Invoice not found").
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get invoice").
			Mark(ierr.ErrDatabase)
	}
	return row.toDomain(), nil
}

func (r *invoiceRepository) Update(ctx context.Context, inv *invoice.Invoice) error {
	query := `
		UPDATE invoices SET
			invoice_status = :invoice_status,
			payment_transaction_id = :payment_transaction_id,
			payment_receipt_url = :payment_receipt_url,
			stripe_invoice_id = :stripe_invoice_id,
			razorpay_invoice_id = :razorpay_invoice_id,
			paid_at = :paid_at,
			updated_at = :updated_at
		WHERE id = :id`

	bound, args, err := r.db.BindNamed(query, toInvoiceRow(inv))
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update invoice").
			Mark(ierr.ErrDatabase)
	}
	res, err := r.db.GetQuerier(ctx).ExecContext(ctx, bound, args...)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update invoice").
			Mark(ierr.ErrDatabase)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ierr.NewError("invoice not found").
			WithHint("Invoice not found").
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *invoiceRepository) ListByUserID(ctx context.Context, userID string) ([]*invoice.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE user_id = $1 ORDER BY created_at DESC`

	var rows []invoiceRow
	if err := r.db.GetQuerier(ctx).SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list invoices").
			Mark(ierr.ErrDatabase)
	}

	out := make([]*invoice.Invoice, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (r *invoiceRepository) GetByProviderInvoiceRef(ctx context.Context, provider types.PaymentProvider, ref string) (*invoice.Invoice, error) {
	var column string
	switch provider {
	case types.PaymentProviderStripe:
		column = "stripe_invoice_id"
	case types.PaymentProviderRazorpay:
		column = "razorpay_invoice_id"
	default:
		return nil, ierr.NewError("invalid payment provider").
			WithHint("Invalid payment method").
			Mark(ierr.ErrValidation)
	}

	query := fmt.Sprintf(
		`SELECT %s FROM invoices WHERE %s = $1 ORDER BY created_at DESC LIMIT 1`,
		invoiceColumns, column,
	)

	var row invoiceRow
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &row, query, ref); err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("invoice not found").
				WithHint("Invoice not found").
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get invoice").
			Mark(ierr.ErrDatabase)
	}
	return row.toDomain(), nil
}

// NextSequence allocates the next invoice number for the month with a
// single upsert, so concurrent callers get distinct, increasing values.
func (r *invoiceRepository) NextSequence(ctx context.Context, yearMonth string) (int64, error) {
	query := `
		INSERT INTO invoice_sequences (id, year_month, last_value, created_at, updated_at)
		VALUES ($1, $2, 1, $3, $3)
		ON CONFLICT (year_month)
		DO UPDATE SET last_value = invoice_sequences.last_value + 1, updated_at = $3
		RETURNING last_value`

	now := time.Now().UTC()
	var value int64
	err := r.db.GetQuerier(ctx).QueryRowContext(ctx, query, types.GenerateUUID(), yearMonth, now).Scan(&value)
	if err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to allocate invoice number").
			Mark(ierr.ErrDatabase)
	}
	return value, nil
}
