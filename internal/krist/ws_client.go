package krist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"krist-payout/internal/observability"
)

// DefaultNodeURL is the public Krist node.
const DefaultNodeURL = "https://krist.dev"

// ClientConfig configures client behavior.
type ClientConfig struct {
	// HelloTimeout bounds the wait for the node's greeting.
	HelloTimeout time.Duration
	// CallTimeout bounds the wait for a call's response. Zero waits until
	// the context is done or the connection closes.
	CallTimeout time.Duration
	// PingInterval is interval for sending ping frames. Zero disables pings.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages. Zero disables it.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// EventQueueSize is the per-listener event buffer. While a listener's
	// queue is full the reader waits for room, so a handler blocked on a
	// Call stalls the session until CallTimeout. With CallTimeout zero the
	// stall lasts until the context is done or the client is closed.
	EventQueueSize int
}

// DefaultClientConfig returns default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HelloTimeout:   5 * time.Second,
		CallTimeout:    30 * time.Second,
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		EventQueueSize: 10000,
	}
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithHTTPClient sets the http.Client used for /ws/start.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithDialer sets the websocket dialer.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics the client records to.
func WithMetrics(m *observability.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// Client is a session on a Krist node's websocket API. It owns the
// socket: one goroutine reads and routes every inbound message, either
// to the call waiting for it or to the event listeners.
type Client struct {
	nodeURL    string
	config     ClientConfig
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *slog.Logger
	metrics    *observability.Metrics

	conn       *websocket.Conn
	writeMu    sync.Mutex
	connecting atomic.Bool
	connected  atomic.Bool
	closed     atomic.Bool

	pending *pendingCalls
	events  *dispatcher

	addrMu  sync.RWMutex
	address *AddressStatus

	// done is closed when the session ends, by Close or by disconnect
	done     chan struct{}
	doneOnce sync.Once
	err      error
	wg       sync.WaitGroup
}

// NewClient creates a client for the node at nodeURL. Listeners may be
// registered before Connect.
func NewClient(nodeURL string, config *ClientConfig, opts ...ClientOption) *Client {
	cfg := DefaultClientConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = DefaultClientConfig().EventQueueSize
	}
	if nodeURL == "" {
		nodeURL = DefaultNodeURL
	}

	c := &Client{
		nodeURL:    nodeURL,
		config:     cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		pending:    newPendingCalls(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.events = newDispatcher(c.logger, c.metrics, cfg.EventQueueSize)

	return c
}

// Connect starts a session authenticated with privateKey, or a guest
// session when privateKey is empty. It returns once the node has greeted
// the client and the session's address has been fetched.
//
// Errors match ErrHandshake when the node refuses the session or the
// channel cannot be opened, and ErrTimeout when no greeting arrives in
// time. A failed Connect may be retried; a successful one may not.
func (c *Client) Connect(ctx context.Context, privateKey string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.connecting.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}

	conn, err := c.open(ctx, privateKey)
	if err != nil {
		c.connecting.Store(false)
		return err
	}

	// Close may have run while open was waiting and could not see conn.
	c.writeMu.Lock()
	if c.closed.Load() {
		c.writeMu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.writeMu.Unlock()
	c.connected.Store(true)

	// Routing must be live before the first call.
	c.wg.Add(1)
	go c.readLoop(conn)

	if c.config.PingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop(conn)
	}

	if err := c.RefetchAddress(ctx); err != nil {
		c.Close()
		conn.Close()
		return fmt.Errorf("fetch own address: %w", err)
	}

	// Handlers see the session's address from their first event.
	c.events.release()

	c.logger.Info("connected to krist", "node", c.nodeURL, "address", c.addressString())
	return nil
}

// open runs /ws/start, dials the returned URL and waits for hello.
func (c *Client) open(ctx context.Context, privateKey string) (*websocket.Conn, error) {
	url, err := c.start(ctx, privateKey)
	if err != nil {
		return nil, err
	}

	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: websocket dial: %v", ErrHandshake, err)
	}

	if err := c.awaitHello(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// awaitHello reads until the node says hello. Anything else that arrives
// first is ignored.
func (c *Client) awaitHello(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(c.config.HelloTimeout))
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return fmt.Errorf("%w within %s", ErrTimeout, c.config.HelloTimeout)
			}
			return fmt.Errorf("%w: read greeting: %v", ErrHandshake, err)
		}

		var env envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.metrics.RecordDropped(observability.DropMalformed)
			c.logger.Warn("dropping malformed message before hello", "error", err)
			continue
		}
		if env.Type == "hello" {
			conn.SetReadDeadline(time.Time{})
			return nil
		}
		c.logger.Debug("ignoring message before hello", "type", env.Type)
	}
}

// Subscribe registers h for push events named event. Handlers for the
// same listener never run concurrently; a handler may issue calls. No
// handler runs before Connect has succeeded.
func (c *Client) Subscribe(event string, h Handler) error {
	if !c.events.subscribe(event, h) {
		return ErrClosed
	}
	return nil
}

// OnTransaction registers fn for every transaction event the node pushes.
func (c *Client) OnTransaction(fn TransactionHandler) error {
	return c.Subscribe(EventTransaction, func(ctx context.Context, payload json.RawMessage) error {
		tx, err := decodeTransactionEvent(payload, c)
		if err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

// Call sends a call of the given type and waits for its response.
// payload must marshal to a JSON object or be nil; its "type" and "id"
// fields are overwritten. A negative acknowledgment is returned as a
// *CallError.
func (c *Client) Call(ctx context.Context, callType string, payload any) (Response, error) {
	if c.closed.Load() {
		return Response{}, ErrClosed
	}
	if !c.connected.Load() {
		return Response{}, ErrNotConnected
	}
	select {
	case <-c.done:
		return Response{}, c.err
	default:
	}

	fields, err := payloadFields(payload)
	if err != nil {
		return Response{}, fmt.Errorf("%s payload: %w", callType, err)
	}

	id, ch := c.pending.register()
	fields["type"], _ = json.Marshal(callType)
	fields["id"] = json.RawMessage(strconv.FormatInt(id, 10))

	data, err := json.Marshal(fields)
	if err != nil {
		c.pending.forget(id)
		return Response{}, fmt.Errorf("marshal %s: %w", callType, err)
	}

	started := time.Now()
	c.metrics.RecordCallSent(callType)
	c.metrics.SetPendingCalls(c.pending.len())

	if err := c.write(data); err != nil {
		c.pending.forget(id)
		c.finishCall(callType, observability.ResultWriteError, started)
		return Response{}, fmt.Errorf("write %s: %w", callType, err)
	}

	var timeout <-chan time.Time
	if c.config.CallTimeout > 0 {
		timer := time.NewTimer(c.config.CallTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-ch:
		if res.err != nil {
			var callErr *CallError
			if errors.As(res.err, &callErr) {
				callErr.Type = callType
				c.finishCall(callType, observability.ResultRejected, started)
			} else {
				c.finishCall(callType, observability.ResultDisconnected, started)
			}
			return Response{}, res.err
		}
		c.finishCall(callType, observability.ResultOK, started)
		return res.resp, nil
	case <-timeout:
		c.pending.forget(id)
		c.finishCall(callType, observability.ResultTimeout, started)
		return Response{}, fmt.Errorf("%s #%d: %w after %s", callType, id, ErrCallTimeout, c.config.CallTimeout)
	case <-ctx.Done():
		c.pending.forget(id)
		c.finishCall(callType, observability.ResultCanceled, started)
		return Response{}, ctx.Err()
	case <-c.done:
		c.pending.forget(id)
		c.finishCall(callType, observability.ResultDisconnected, started)
		return Response{}, c.err
	}
}

func (c *Client) finishCall(callType, result string, started time.Time) {
	c.metrics.RecordCallResult(callType, result, time.Since(started).Seconds())
	c.metrics.SetPendingCalls(c.pending.len())
}

// payloadFields turns a call payload into an editable JSON object.
func payloadFields(payload any) (map[string]json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if payload == nil {
		return fields, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return fields, nil
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("must be a JSON object: %w", err)
	}
	return fields, nil
}

// write sends one text frame.
func (c *Client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Done returns a channel that is closed when the session ends, either
// through Close or because the node closed the connection.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns nil while the session is live. After Done is closed it
// returns ErrClosed or a *DisconnectError.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// finish records why the session ended and closes done.
func (c *Client) finish(err error) bool {
	first := false
	c.doneOnce.Do(func() {
		c.err = err
		close(c.done)
		first = true
	})
	return first
}

// Close ends the session. Pending calls fail with ErrClosed. Close must
// not be called from an event handler.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	c.finish(ErrClosed)

	c.writeMu.Lock()
	if c.conn != nil {
		c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.writeMu.Unlock()

	c.pending.failAll(ErrClosed)
	c.events.close()
	c.events.wait()
	c.wg.Wait()
	return nil
}

// readLoop reads messages from the socket and routes them in order.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	if c.config.ReadTimeout > 0 {
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		})
	}

	for {
		if c.config.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.disconnect(conn, err)
			return
		}

		c.handleMessage(message)
	}
}

// disconnect ends the session after the node went away.
func (c *Client) disconnect(conn *websocket.Conn, err error) {
	derr := &DisconnectError{Err: err}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		derr.Code = closeErr.Code
		derr.Text = closeErr.Text
	}

	if !c.finish(derr) {
		return
	}

	c.metrics.RecordDisconnect()
	c.logger.Error("krist connection lost", "error", derr)

	conn.Close()
	c.pending.failAll(derr)
	c.events.close()
}

// handleMessage routes one inbound message.
func (c *Client) handleMessage(message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.metrics.RecordDropped(observability.DropMalformed)
		c.logger.Warn("dropping malformed message",
			"error", fmt.Errorf("%w: %v", ErrProtocolViolation, err))
		return
	}

	switch {
	case env.Type == "event":
		c.metrics.RecordEvent(env.Event)
		if n := c.events.dispatch(env.Event, json.RawMessage(message)); n == 0 {
			c.logger.Debug("no listeners for event", "event", env.Event)
		}
	case env.ID != nil:
		c.handleResponse(&env, message)
	default:
		c.metrics.RecordDropped(observability.DropUnroutable)
		c.logger.Debug("dropping unroutable message", "type", env.Type)
	}
}

// handleResponse hands a response to the call waiting on its id.
func (c *Client) handleResponse(env *envelope, message []byte) {
	id := *env.ID

	res := callResult{resp: Response{ID: id, Raw: json.RawMessage(message)}}
	if !env.acknowledged() {
		res = callResult{err: &CallError{
			ID:      id,
			Code:    env.Error,
			Message: env.Message,
			Raw:     json.RawMessage(message),
		}}
	}

	if !c.pending.resolve(id, res) {
		c.metrics.RecordDropped(observability.DropUnmatched)
		c.logger.Debug("dropping response for unknown call", "id", id)
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *Client) pingLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				// Connection might be dead, reader will notice
				c.logger.Debug("ping failed", "error", err)
			}
			c.writeMu.Unlock()
		}
	}
}
