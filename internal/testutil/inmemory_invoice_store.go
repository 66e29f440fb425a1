package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/eka-ai/billing/internal/domain/invoice"
	ierr "github.com/eka-ai/billing/internal/errors"
	"github.com/eka-ai/billing/internal/types"
)

// InMemoryInvoiceStore implements invoice.Repository
type InMemoryInvoiceStore struct {
	mu        sync.Mutex
	invoices  map[string]*invoice.Invoice
	sequences map[string]int64
}

func NewInMemoryInvoiceStore() *InMemoryInvoiceStore {
	return &InMemoryInvoiceStore{
		invoices:  make(map[string]*invoice.Invoice),
		sequences: make(map[string]int64),
	}
}

func (s *InMemoryInvoiceStore) Create(ctx context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invoices[inv.ID]; exists {
		return ierr.NewError("invoice already exists").
			WithHint("An invoice with this number already exists").
			Mark(ierr.ErrAlreadyExists)
	}
	for _, existing := range s.invoices {
		if existing.InvoiceNumber == inv.InvoiceNumber {
			return ierr.NewError("duplicate invoice number").
				WithHint("An invoice with this number already exists").
				Mark(ierr.ErrAlreadyExists)
		}
	}

	copied := *inv
	s.invoices[inv.ID] = &copied
	return nil
}

func (s *InMemoryInvoiceStore) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, exists := s.invoices[id]
	if !exists {
		return nil, ierr.NewError("invoice not found").
			WithHint("Invoice not found").
			Mark(ierr.ErrNotFound)
	}
	copied := *inv
	return &copied, nil
}

func (s *InMemoryInvoiceStore) Update(ctx context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invoices[inv.ID]; !exists {
		return ierr.NewError("invoice not found").
			WithHint("Invoice not found").
			Mark(ierr.ErrNotFound)
	}
	copied := *inv
	s.invoices[inv.ID] = &copied
	return nil
}

func (s *InMemoryInvoiceStore) ListByUserID(ctx context.Context, userID string) ([]*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*invoice.Invoice
	for _, inv := range s.invoices {
		if inv.UserID == userID {
			copied := *inv
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryInvoiceStore) GetByProviderInvoiceRef(ctx context.Context, provider types.PaymentProvider, ref string) (*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *invoice.Invoice
	for _, inv := range s.invoices {
		if inv.ProviderInvoiceRef(provider) != ref {
			continue
		}
		if latest == nil || inv.CreatedAt.After(latest.CreatedAt) {
			latest = inv
		}
	}
	if latest == nil {
		return nil, ierr.NewError("invoice not found").
			WithHint("Invoice not found").
			Mark(ierr.ErrNotFound)
	}
	copied := *latest
	return &copied, nil
}

func (s *InMemoryInvoiceStore) NextSequence(ctx context.Context, yearMonth string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequences[yearMonth]++
	return s.sequences[yearMonth], nil
}
