package solanarpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsServer runs handle for each upgraded connection.
func wsServer(t *testing.T, handle func(c *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()
		handle(c)
	}))
	return server, "ws" + strings.TrimPrefix(server.URL, "http")
}

func readSubscribe(t *testing.T, c *websocket.Conn) wsRequest {
	t.Helper()
	var req wsRequest
	_, msg, err := c.ReadMessage()
	if err != nil {
		t.Errorf("read: %v", err)
		return req
	}
	if err := json.Unmarshal(msg, &req); err != nil {
		t.Errorf("unmarshal request: %v", err)
	}
	return req
}

func TestWSClient_WaitSignature(t *testing.T) {
	server, url := wsServer(t, func(c *websocket.Conn) {
		req := readSubscribe(t, c)
		if req.Method != "signatureSubscribe" {
			t.Errorf("expected signatureSubscribe, got %s", req.Method)
		}
		// Subscription id 0 is valid.
		c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": 0})
		c.WriteJSON(map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  "signatureNotification",
			"params": map[string]interface{}{
				"subscription": 0,
				"result": map[string]interface{}{
					"context": map[string]interface{}{"slot": 5207624},
					"value":   map[string]interface{}{"err": nil},
				},
			},
		})
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := NewWSClient(url, nil, nil)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := client.WaitSignature(ctx, "sig1")
	if err != nil {
		t.Fatalf("WaitSignature: %v", err)
	}
	if res.Slot != 5207624 {
		t.Errorf("expected slot 5207624, got %d", res.Slot)
	}
	if res.Failed() {
		t.Errorf("expected success, got err %s", res.Err)
	}
}

func TestWSClient_FailedTransaction(t *testing.T) {
	server, url := wsServer(t, func(c *websocket.Conn) {
		req := readSubscribe(t, c)
		c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": 7})
		c.WriteJSON(map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  "signatureNotification",
			"params": map[string]interface{}{
				"subscription": 7,
				"result": map[string]interface{}{
					"value": map[string]interface{}{
						"err": map[string]interface{}{"InstructionError": []interface{}{0, "IncorrectProgramId"}},
					},
				},
			},
		})
		c.ReadMessage()
	})
	defer server.Close()

	client := NewWSClient(url, nil, nil)
	defer client.Close()

	res, err := client.WaitSignature(context.Background(), "sig1")
	if err != nil {
		t.Fatalf("WaitSignature: %v", err)
	}
	if !res.Failed() {
		t.Error("expected failed result")
	}
}

func TestWSClient_DisconnectFailsWaiters(t *testing.T) {
	server, url := wsServer(t, func(c *websocket.Conn) {
		req := readSubscribe(t, c)
		c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": 1})
		// Drop the connection without notifying.
	})
	defer server.Close()

	client := NewWSClient(url, nil, nil)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.WaitSignature(ctx, "sig1")
	if err == nil {
		t.Fatal("expected error after disconnect")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("waiter should fail on disconnect, not on timeout")
	}
}

func TestWSClient_ContextCancel(t *testing.T) {
	server, url := wsServer(t, func(c *websocket.Conn) {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := NewWSClient(url, nil, nil)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := client.WaitSignature(ctx, "sig1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestWSClient_Closed(t *testing.T) {
	client := NewWSClient("ws://127.0.0.1:1", nil, nil)
	client.Close()

	if _, err := client.WaitSignature(context.Background(), "sig1"); !errors.Is(err, ErrWSClosed) {
		t.Fatalf("expected ErrWSClosed, got %v", err)
	}
}
