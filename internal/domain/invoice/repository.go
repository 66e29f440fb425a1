package invoice

import (
	"context"

	"github.com/eka-ai/billing/internal/types"
)

type Repository interface {
	Create(ctx context.Context, invoice *Invoice) error
	Get(ctx context.Context, id string) (*Invoice, error)
	Update(ctx context.Context, invoice *Invoice) error
	ListByUserID(ctx context.Context, userID string) ([]*Invoice, error)

	// GetByProviderInvoiceRef resolves the local invoice for a provider's
	// invoice ref. Used by the webhook processor.
	GetByProviderInvoiceRef(ctx context.Context, provider types.PaymentProvider, ref string) (*Invoice, error)

	// NextSequence atomically allocates the next invoice sequence number
	// for the given YYYYMM month key. Concurrent callers must receive
	// distinct, strictly increasing values.
	NextSequence(ctx context.Context, yearMonth string) (int64, error)
}
