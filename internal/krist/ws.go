package krist

import (
	"context"
	"encoding/json"
)

// Transactor sends transactions from the session's address.
type Transactor interface {
	// MakeTransaction sends amount to the address or name to, with meta attached.
	MakeTransaction(ctx context.Context, to string, amount int64, meta CommonMeta) (*Transaction, error)
}

// Handler receives the full message of a push event. Returned errors are
// logged by the client and go no further.
type Handler func(ctx context.Context, payload json.RawMessage) error

// TransactionHandler receives decoded transaction events.
type TransactionHandler func(ctx context.Context, tx *Transaction) error

// Event names pushed by the node.
const (
	EventTransaction = "transaction"
)

// Call types.
const (
	CallMe              = "me"
	CallMakeTransaction = "make_transaction"
)
