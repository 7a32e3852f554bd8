package krist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// AddressStatus is the authenticated session's own address.
type AddressStatus struct {
	Address   string
	Balance   int64
	TotalIn   int64
	TotalOut  int64
	FirstSeen time.Time
}

// RawTransaction is a transaction as the node sends it.
type RawTransaction struct {
	ID       int64  `json:"id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Value    int64  `json:"value"`
	Time     string `json:"time"`
	Metadata string `json:"metadata"`
}

// Response is a positive acknowledgment to a call. Raw holds the whole
// message so callers can decode call-specific fields.
type Response struct {
	ID  int64
	Raw json.RawMessage
}

// Decode unmarshals the full response message into v.
func (r Response) Decode(v any) error {
	if err := json.Unmarshal(r.Raw, v); err != nil {
		return fmt.Errorf("decode response #%d: %w", r.ID, err)
	}
	return nil
}

// Message types

// envelope holds the routing fields shared by every inbound message.
type envelope struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	ID      *int64          `json:"id"`
	OK      json.RawMessage `json:"ok"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// acknowledged reports whether the ok field is truthy.
func (e *envelope) acknowledged() bool {
	raw := bytes.TrimSpace(e.OK)
	if len(raw) == 0 {
		return false
	}
	switch raw[0] {
	case 't':
		return true
	case '"':
		var s string
		return json.Unmarshal(raw, &s) == nil && s != ""
	case 'f', 'n', '{', '[':
		return false
	default:
		n, err := strconv.ParseFloat(string(raw), 64)
		return err == nil && n != 0
	}
}

type startRequest struct {
	PrivateKey string `json:"privatekey,omitempty"`
}

type startResponse struct {
	OK  bool   `json:"ok"`
	URL string `json:"url"`
}

type meResponse struct {
	IsGuest bool        `json:"isGuest"`
	Address *rawAddress `json:"address"`
}

type rawAddress struct {
	Address   string `json:"address"`
	Balance   int64  `json:"balance"`
	TotalIn   int64  `json:"totalin"`
	TotalOut  int64  `json:"totalout"`
	FirstSeen string `json:"firstseen"`
}

type makeTransactionRequest struct {
	To       string `json:"to"`
	Amount   int64  `json:"amount"`
	Metadata string `json:"metadata,omitempty"`
}

type transactionMessage struct {
	Transaction *RawTransaction `json:"transaction"`
}
