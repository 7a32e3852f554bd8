package stub

import (
	"context"
	"sync"

	"krist-payout/internal/krist"
)

// Payment is one MakeTransaction call recorded by the stub.
type Payment struct {
	To     string
	Amount int64
	Meta   krist.CommonMeta
}

// Transactor implements krist.Transactor for testing. Payments to an
// address listed in Fail return the mapped error.
type Transactor struct {
	Fail map[string]error

	mu       sync.Mutex
	payments []Payment
	nextID   int64
}

// NewTransactor creates a new stub transactor.
func NewTransactor() *Transactor {
	return &Transactor{Fail: make(map[string]error)}
}

// MakeTransaction records the payment.
func (t *Transactor) MakeTransaction(_ context.Context, to string, amount int64, meta krist.CommonMeta) (*krist.Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err, ok := t.Fail[to]; ok {
		return nil, err
	}

	t.payments = append(t.payments, Payment{To: to, Amount: amount, Meta: meta})
	t.nextID++
	return &krist.Transaction{
		ID:          t.nextID,
		To:          to,
		Value:       amount,
		Metadata:    meta,
		RawMetadata: meta.String(),
	}, nil
}

// Payments returns the recorded payments in call order.
func (t *Transactor) Payments() []Payment {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Payment, len(t.payments))
	copy(out, t.payments)
	return out
}

// Compile-time interface check.
var _ krist.Transactor = (*Transactor)(nil)
