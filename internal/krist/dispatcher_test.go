package krist

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krist-payout/internal/observability"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	d := newDispatcher(testLogger(), nil, 16)
	d.release()
	defer func() {
		d.close()
		d.wait()
	}()

	got := make(chan string, 3)
	require.True(t, d.subscribe("transaction", func(_ context.Context, p json.RawMessage) error {
		got <- string(p)
		return nil
	}))

	for _, p := range []string{`1`, `2`, `3`} {
		assert.Equal(t, 1, d.dispatch("transaction", json.RawMessage(p)))
	}

	for _, want := range []string{`1`, `2`, `3`} {
		select {
		case p := <-got:
			assert.Equal(t, want, p)
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestDispatcher_OnlyMatchingEvent(t *testing.T) {
	d := newDispatcher(testLogger(), nil, 16)
	d.release()
	defer func() {
		d.close()
		d.wait()
	}()

	require.True(t, d.subscribe("transaction", func(context.Context, json.RawMessage) error {
		return nil
	}))

	assert.Equal(t, 0, d.dispatch("block", json.RawMessage(`{}`)))
	assert.Equal(t, 1, d.dispatch("transaction", json.RawMessage(`{}`)))
}

func TestDispatcher_HandlerFailuresAreContained(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test", reg)

	d := newDispatcher(testLogger(), metrics, 16)
	d.release()
	defer func() {
		d.close()
		d.wait()
	}()

	var mu sync.Mutex
	var calls int
	require.True(t, d.subscribe("transaction", func(_ context.Context, p json.RawMessage) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		switch n {
		case 1:
			return errors.New("handler failed")
		case 2:
			panic("handler panicked")
		}
		return nil
	}))

	second := make(chan struct{}, 3)
	require.True(t, d.subscribe("transaction", func(context.Context, json.RawMessage) error {
		second <- struct{}{}
		return nil
	}))

	for i := 0; i < 3; i++ {
		assert.Equal(t, 2, d.dispatch("transaction", json.RawMessage(`{}`)))
	}

	for i := 0; i < 3; i++ {
		select {
		case <-second:
		case <-time.After(2 * time.Second):
			t.Fatal("second listener starved")
		}
	}

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.HandlerErrors.WithLabelValues("transaction")) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls)
}

func TestDispatcher_SubscribeAfterClose(t *testing.T) {
	d := newDispatcher(testLogger(), nil, 16)
	d.close()
	d.wait()

	assert.False(t, d.subscribe("transaction", func(context.Context, json.RawMessage) error {
		return nil
	}))
}

func TestDispatcher_CloseCancelsHandlerContext(t *testing.T) {
	d := newDispatcher(testLogger(), nil, 16)
	d.release()

	started := make(chan struct{})
	require.True(t, d.subscribe("transaction", func(ctx context.Context, _ json.RawMessage) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	d.dispatch("transaction", json.RawMessage(`{}`))

	<-started
	d.close()

	finished := make(chan struct{})
	go func() {
		d.wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return after close")
	}
}

func TestDispatcher_HandlersWaitForRelease(t *testing.T) {
	d := newDispatcher(testLogger(), nil, 16)
	defer func() {
		d.close()
		d.wait()
	}()

	got := make(chan string, 2)
	require.True(t, d.subscribe("transaction", func(_ context.Context, p json.RawMessage) error {
		got <- string(p)
		return nil
	}))

	assert.Equal(t, 1, d.dispatch("transaction", json.RawMessage(`1`)))
	assert.Equal(t, 1, d.dispatch("transaction", json.RawMessage(`2`)))

	select {
	case p := <-got:
		t.Fatalf("handler ran before release with %s", p)
	case <-time.After(50 * time.Millisecond):
	}

	d.release()
	for _, want := range []string{`1`, `2`} {
		select {
		case p := <-got:
			assert.Equal(t, want, p)
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for event after release")
		}
	}
}

func TestDispatcher_CloseBeforeRelease(t *testing.T) {
	d := newDispatcher(testLogger(), nil, 16)
	require.True(t, d.subscribe("transaction", func(context.Context, json.RawMessage) error {
		return nil
	}))

	d.close()

	finished := make(chan struct{})
	go func() {
		d.wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("held workers did not exit on close")
	}
}
