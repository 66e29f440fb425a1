package invoice

import (
	"fmt"
	"time"
)

// InvoiceSequence represents the invoice number sequence for one calendar
// month. Allocation goes through Repository.NextSequence, which must be
// atomic; counting existing invoices is not safe under concurrency.
type InvoiceSequence struct {
	ID        string    `db:"id"`
	YearMonth string    `db:"year_month"`
	LastValue int64     `db:"last_value"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// YearMonthKey formats the month key used by the sequence, e.g. "202608"
func YearMonthKey(t time.Time) string {
	return t.UTC().Format("200601")
}

// FormatInvoiceNumber renders the human-readable invoice number,
// e.g. INV-202608-0042
func FormatInvoiceNumber(yearMonth string, seq int64) string {
	return fmt.Sprintf("INV-%s-%04d", yearMonth, seq)
}
