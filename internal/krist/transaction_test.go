package krist_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krist-payout/internal/krist"
	"krist-payout/internal/krist/stub"
)

func rawTx() krist.RawTransaction {
	return krist.RawTransaction{
		ID:       1234,
		From:     "ksender000",
		To:       "kservice00",
		Value:    101,
		Time:     "2024-05-01T12:30:00.000Z",
		Metadata: "split.kst;message=hello",
	}
}

func TestNewTransaction(t *testing.T) {
	tx, err := krist.NewTransaction(rawTx(), nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1234), tx.ID)
	assert.Equal(t, "ksender000", tx.From)
	assert.Equal(t, "kservice00", tx.To)
	assert.Equal(t, int64(101), tx.Value)
	assert.True(t, tx.Time.Equal(time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)))
	assert.Equal(t, "split.kst", tx.Metadata.Name)
	assert.Equal(t, "hello", tx.Metadata.Message)
	assert.Equal(t, "split.kst;message=hello", tx.RawMetadata)
}

func TestNewTransaction_BadTime(t *testing.T) {
	raw := rawTx()
	raw.Time = "yesterday"

	_, err := krist.NewTransaction(raw, nil)
	assert.Error(t, err)
}

func TestTransaction_RefundFullValueToSender(t *testing.T) {
	client := stub.NewTransactor()
	tx, err := krist.NewTransaction(rawTx(), client)
	require.NoError(t, err)

	_, err = tx.Refund(context.Background(), krist.CommonMeta{Error: "nope"}, 0)
	require.NoError(t, err)

	payments := client.Payments()
	require.Len(t, payments, 1)
	assert.Equal(t, "ksender000", payments[0].To)
	assert.Equal(t, int64(101), payments[0].Amount)
	assert.Equal(t, "nope", payments[0].Meta.Error)
}

func TestTransaction_RefundPartialToReturnAddress(t *testing.T) {
	raw := rawTx()
	raw.Metadata = "split.kst;return=change@shop.kst"

	client := stub.NewTransactor()
	tx, err := krist.NewTransaction(raw, client)
	require.NoError(t, err)

	_, err = tx.Refund(context.Background(), krist.CommonMeta{}, 1)
	require.NoError(t, err)

	payments := client.Payments()
	require.Len(t, payments, 1)
	assert.Equal(t, "change@shop.kst", payments[0].To)
	assert.Equal(t, int64(1), payments[0].Amount)
}

func TestTransaction_RefundError(t *testing.T) {
	client := stub.NewTransactor()
	rejected := &krist.CallError{Type: krist.CallMakeTransaction, Code: "insufficient_funds"}
	client.Fail["ksender000"] = rejected

	tx, err := krist.NewTransaction(rawTx(), client)
	require.NoError(t, err)

	_, err = tx.Refund(context.Background(), krist.CommonMeta{}, 0)
	assert.ErrorIs(t, err, krist.ErrCallRejected)
}

func TestTransaction_RefundWithoutClient(t *testing.T) {
	tx, err := krist.NewTransaction(rawTx(), nil)
	require.NoError(t, err)

	_, err = tx.Refund(context.Background(), krist.CommonMeta{}, 0)
	assert.ErrorIs(t, err, krist.ErrNotConnected)
}

func TestCallError(t *testing.T) {
	err := &krist.CallError{
		Type:    krist.CallMakeTransaction,
		ID:      7,
		Code:    "insufficient_funds",
		Message: "Insufficient funds",
		Raw:     json.RawMessage(`{}`),
	}

	assert.ErrorIs(t, err, krist.ErrCallRejected)
	assert.False(t, errors.Is(err, krist.ErrDisconnected))
	assert.Equal(t, "krist make_transaction #7 rejected: insufficient_funds: Insufficient funds", err.Error())
}

func TestDisconnectError(t *testing.T) {
	cause := errors.New("EOF")
	err := &krist.DisconnectError{Code: 4000, Text: "server stopping", Err: cause}

	assert.ErrorIs(t, err, krist.ErrDisconnected)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "4000")
}
