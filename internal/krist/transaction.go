package krist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Transaction is a decoded ledger transaction. It keeps a reference to
// the client it arrived on so it can be refunded.
type Transaction struct {
	ID          int64
	From        string
	To          string
	Value       int64
	Time        time.Time
	Metadata    CommonMeta
	RawMetadata string

	client Transactor
}

// NewTransaction decodes rtx. client may be nil, in which case Refund fails.
func NewTransaction(rtx RawTransaction, client Transactor) (*Transaction, error) {
	t, err := time.Parse(time.RFC3339, rtx.Time)
	if err != nil {
		return nil, fmt.Errorf("parse transaction %d time %q: %w", rtx.ID, rtx.Time, err)
	}

	return &Transaction{
		ID:          rtx.ID,
		From:        rtx.From,
		To:          rtx.To,
		Value:       rtx.Value,
		Time:        t,
		Metadata:    ParseCommonMeta(rtx.Metadata),
		RawMetadata: rtx.Metadata,
		client:      client,
	}, nil
}

// decodeTransactionEvent extracts the transaction from a "transaction" event.
func decodeTransactionEvent(payload json.RawMessage, client Transactor) (*Transaction, error) {
	var msg transactionMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: decode transaction event: %v", ErrProtocolViolation, err)
	}
	if msg.Transaction == nil {
		return nil, fmt.Errorf("%w: transaction event without transaction", ErrProtocolViolation)
	}
	return NewTransaction(*msg.Transaction, client)
}

// ReturnAddress is where refunds go: the "return" metadata field if the
// sender set one, otherwise the sending address.
func (t *Transaction) ReturnAddress() string {
	if t.Metadata.Return != "" {
		return t.Metadata.Return
	}
	return t.From
}

// Refund sends amount back to the sender with meta attached. An amount
// of zero or less refunds the full value.
func (t *Transaction) Refund(ctx context.Context, meta CommonMeta, amount int64) (*Transaction, error) {
	if t.client == nil {
		return nil, fmt.Errorf("refund transaction %d: %w", t.ID, ErrNotConnected)
	}
	if amount <= 0 {
		amount = t.Value
	}
	return t.client.MakeTransaction(ctx, t.ReturnAddress(), amount, meta)
}
