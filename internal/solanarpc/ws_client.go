package solanarpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrWSClosed is returned after Close.
var ErrWSClosed = errors.New("websocket client closed")

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	Commitment       string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		Commitment:       CommitmentConfirmed,
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     20 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// WSClient implements SignatureWatcher with signatureSubscribe.
// The connection is dialed lazily and redialed on the next wait after a drop.
// A drop fails every outstanding wait so callers can fall back to polling.
type WSClient struct {
	endpoint string
	config   WSClientConfig
	logger   *zap.Logger

	mu        sync.Mutex
	conn      *wsConn
	byRequest map[uint64]*waiter // awaiting subscribe reply
	bySub     map[int64]*waiter  // awaiting notification

	requestID atomic.Uint64
	closed    atomic.Bool
	wg        sync.WaitGroup
}

// Compile-time interface check.
var _ SignatureWatcher = (*WSClient)(nil)

type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
}

func (c *wsConn) writeJSON(v interface{}, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(timeout))
	return c.ws.WriteJSON(v)
}

type waiter struct {
	done   chan struct{}
	once   sync.Once
	subID  int64
	result SignatureResult
	err    error
}

func newWaiter() *waiter {
	return &waiter{done: make(chan struct{}), subID: -1}
}

func (w *waiter) finish(res SignatureResult, err error) {
	w.once.Do(func() {
		w.result = res
		w.err = err
		close(w.done)
	})
}

// NewWSClient creates a client. No connection is made until the first wait.
func NewWSClient(endpoint string, config *WSClientConfig, logger *zap.Logger) *WSClient {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSClient{
		endpoint:  endpoint,
		config:    cfg,
		logger:    logger.Named("ws"),
		byRequest: make(map[uint64]*waiter),
		bySub:     make(map[int64]*waiter),
	}
}

// WaitSignature subscribes to the signature and waits for its notification.
func (c *WSClient) WaitSignature(ctx context.Context, signature string) (*SignatureResult, error) {
	if c.closed.Load() {
		return nil, ErrWSClosed
	}

	conn, err := c.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	reqID := c.requestID.Add(1)
	w := newWaiter()
	c.mu.Lock()
	c.byRequest[reqID] = w
	c.mu.Unlock()

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "signatureSubscribe",
		Params: []interface{}{
			signature,
			map[string]string{"commitment": c.config.Commitment},
		},
	}
	if err := conn.writeJSON(req, c.config.WriteTimeout); err != nil {
		c.forget(reqID, w)
		c.drop(conn, err)
		return nil, fmt.Errorf("write subscribe: %w", err)
	}

	select {
	case <-w.done:
		if w.err != nil {
			return nil, w.err
		}
		res := w.result
		return &res, nil
	case <-ctx.Done():
		c.forget(reqID, w)
		if sub := c.subscriptionOf(w); sub >= 0 {
			c.unsubscribe(conn, sub)
		}
		return nil, ctx.Err()
	}
}

// Close closes the WebSocket connection and fails outstanding waits.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.writeMu.Lock()
		conn.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.writeMu.Unlock()
		c.drop(conn, ErrWSClosed)
	}

	c.wg.Wait()
	return nil
}

func (c *WSClient) ensureConn(ctx context.Context) (*wsConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	conn := &wsConn{ws: ws, done: make(chan struct{})}
	ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})
	c.conn = conn

	c.wg.Add(2)
	go c.readLoop(conn)
	go c.pingLoop(conn)

	c.logger.Debug("websocket connected")
	return conn, nil
}

// drop discards conn and fails every outstanding waiter bound to it.
func (c *WSClient) drop(conn *wsConn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	waiters := make([]*waiter, 0, len(c.byRequest)+len(c.bySub))
	for id, w := range c.byRequest {
		waiters = append(waiters, w)
		delete(c.byRequest, id)
	}
	for id, w := range c.bySub {
		waiters = append(waiters, w)
		delete(c.bySub, id)
	}
	c.mu.Unlock()

	close(conn.done)
	conn.ws.Close()

	err := fmt.Errorf("websocket disconnected: %w", cause)
	for _, w := range waiters {
		w.finish(SignatureResult{}, err)
	}
	if !errors.Is(cause, ErrWSClosed) {
		c.logger.Warn("websocket dropped", zap.Error(cause), zap.Int("failed_waits", len(waiters)))
	}
}

func (c *WSClient) forget(reqID uint64, w *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byRequest, reqID)
	if w.subID >= 0 {
		delete(c.bySub, w.subID)
	}
}

func (c *WSClient) subscriptionOf(w *waiter) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return w.subID
}

func (c *WSClient) unsubscribe(conn *wsConn, subID int64) {
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  "signatureUnsubscribe",
		Params:  []interface{}{subID},
	}
	if err := conn.writeJSON(req, c.config.WriteTimeout); err != nil {
		c.logger.Debug("unsubscribe failed", zap.Int64("subscription", subID), zap.Error(err))
	}
}

func (c *WSClient) readLoop(conn *wsConn) {
	defer c.wg.Done()

	for {
		_, message, err := conn.ws.ReadMessage()
		if err != nil {
			c.drop(conn, err)
			return
		}
		conn.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		c.handleMessage(message)
	}
}

func (c *WSClient) pingLoop(conn *wsConn) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			conn.writeMu.Lock()
			conn.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			err := conn.ws.WriteMessage(websocket.PingMessage, nil)
			conn.writeMu.Unlock()
			if err != nil {
				c.drop(conn, err)
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(message []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.logger.Debug("unparseable websocket message", zap.Error(err))
		return
	}

	if env.Method == "signatureNotification" {
		c.handleNotification(env.Params)
		return
	}
	if env.ID == nil {
		return
	}

	c.mu.Lock()
	w, ok := c.byRequest[*env.ID]
	if ok {
		delete(c.byRequest, *env.ID)
	}
	if ok && env.Error == nil {
		var subID int64
		if err := json.Unmarshal(env.Result, &subID); err != nil {
			c.mu.Unlock()
			w.finish(SignatureResult{}, fmt.Errorf("decode subscription id: %w", err))
			return
		}
		w.subID = subID
		c.bySub[subID] = w
	}
	c.mu.Unlock()

	if ok && env.Error != nil {
		w.finish(SignatureResult{}, env.Error)
	}
}

func (c *WSClient) handleNotification(raw json.RawMessage) {
	var params wsNotificationParams
	if err := json.Unmarshal(raw, &params); err != nil {
		c.logger.Debug("bad signature notification", zap.Error(err))
		return
	}

	c.mu.Lock()
	w, ok := c.bySub[params.Subscription]
	if ok {
		delete(c.bySub, params.Subscription)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	res := SignatureResult{Err: params.Result.Value.Err}
	if params.Result.Context != nil {
		res.Slot = params.Result.Context.Slot
	}
	w.finish(res, nil)
}

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsEnvelope struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	Params json.RawMessage `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64 `json:"subscription"`
	Result       struct {
		Context *struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Err json.RawMessage `json:"err"`
		} `json:"value"`
	} `json:"result"`
}
