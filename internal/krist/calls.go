package krist

import (
	"context"
	"fmt"
	"time"
)

// Me fetches the status of the session's address. It returns nil for
// guest sessions.
func (c *Client) Me(ctx context.Context) (*AddressStatus, error) {
	resp, err := c.Call(ctx, CallMe, nil)
	if err != nil {
		return nil, err
	}

	var me meResponse
	if err := resp.Decode(&me); err != nil {
		return nil, err
	}
	if me.IsGuest || me.Address == nil {
		return nil, nil
	}

	status := &AddressStatus{
		Address:  me.Address.Address,
		Balance:  me.Address.Balance,
		TotalIn:  me.Address.TotalIn,
		TotalOut: me.Address.TotalOut,
	}
	if me.Address.FirstSeen != "" {
		firstSeen, err := time.Parse(time.RFC3339, me.Address.FirstSeen)
		if err != nil {
			return nil, fmt.Errorf("parse firstseen %q: %w", me.Address.FirstSeen, err)
		}
		status.FirstSeen = firstSeen
	}
	return status, nil
}

// RefetchAddress refreshes the cached status of the session's address.
func (c *Client) RefetchAddress(ctx context.Context) error {
	status, err := c.Me(ctx)
	if err != nil {
		return err
	}

	c.addrMu.Lock()
	c.address = status
	c.addrMu.Unlock()
	return nil
}

// Address returns the cached status of the session's address. ok is
// false for guest sessions and before Connect.
func (c *Client) Address() (status AddressStatus, ok bool) {
	c.addrMu.RLock()
	defer c.addrMu.RUnlock()

	if c.address == nil {
		return AddressStatus{}, false
	}
	return *c.address, true
}

func (c *Client) addressString() string {
	if status, ok := c.Address(); ok {
		return status.Address
	}
	return "guest"
}

// MakeTransaction sends amount to the address or name to, with meta
// attached. It returns the transaction the node recorded, or nil if the
// response did not include one.
func (c *Client) MakeTransaction(ctx context.Context, to string, amount int64, meta CommonMeta) (*Transaction, error) {
	resp, err := c.Call(ctx, CallMakeTransaction, makeTransactionRequest{
		To:       to,
		Amount:   amount,
		Metadata: meta.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("make transaction to %s: %w", to, err)
	}

	var msg transactionMessage
	if err := resp.Decode(&msg); err != nil {
		return nil, err
	}
	if msg.Transaction == nil {
		return nil, nil
	}
	return NewTransaction(*msg.Transaction, c)
}

// Compile-time interface check.
var _ Transactor = (*Client)(nil)
