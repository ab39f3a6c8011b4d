package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/embedatlas/errors"
)

func newTestBridge(t *testing.T, opts ...Option) (*Bridge, string) {
	t.Helper()
	b := New(nil, opts...)
	srv := httptest.NewServer(http.HandlerFunc(b.ServeWS))
	t.Cleanup(srv.Close)
	return b, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialPeer(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitConnected(t *testing.T, b *Bridge) {
	t.Helper()
	require.Eventually(t, b.Connected, time.Second, 5*time.Millisecond)
}

// echoPeer answers every request with {"echo": <request>}.
func echoPeer(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	go func() {
		for {
			var env map[string]json.RawMessage
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if _, isControl := env["control"]; isControl {
				return
			}
			reply := map[string]any{
				"id":       json.RawMessage(env["id"]),
				"response": map[string]any{"echo": json.RawMessage(env["request"])},
			}
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
	}()
}

func TestSendRequestNoPeer(t *testing.T) {
	b, _ := newTestBridge(t)

	_, err := b.SendRequest(context.Background(), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, errors.ErrNoPeer)
}

func TestSendRequestRoundTrip(t *testing.T) {
	b, url := newTestBridge(t)
	conn := dialPeer(t, url)
	waitConnected(t, b)
	echoPeer(t, conn)

	resp, err := b.SendRequest(context.Background(), json.RawMessage(`{"tool":"list"}`))
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(resp, &decoded))
	assert.JSONEq(t, `{"tool":"list"}`, string(decoded["echo"]))
}

func TestOutOfOrderResponses(t *testing.T) {
	b, url := newTestBridge(t)
	conn := dialPeer(t, url)
	waitConnected(t, b)

	// Collect two requests, answer them in reverse order
	type received struct {
		ID      string          `json:"id"`
		Request json.RawMessage `json:"request"`
	}
	got := make(chan received, 2)
	go func() {
		for i := 0; i < 2; i++ {
			var env received
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			got <- env
		}
		first := <-got
		second := <-got
		_ = conn.WriteJSON(map[string]any{"id": second.ID, "response": json.RawMessage(second.Request)})
		_ = conn.WriteJSON(map[string]any{"id": first.ID, "response": json.RawMessage(first.Request)})
	}()

	results := make(chan string, 2)
	for _, payload := range []string{`{"n":1}`, `{"n":2}`} {
		go func(payload string) {
			resp, err := b.SendRequest(context.Background(), json.RawMessage(payload))
			if err != nil {
				results <- "error: " + err.Error()
				return
			}
			results <- string(resp)
		}(payload)
		time.Sleep(20 * time.Millisecond) // keep request order deterministic
	}

	collected := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			collected[r] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for responses")
		}
	}
	assert.True(t, collected[`{"n":1}`], "first caller got its own response: %v", collected)
	assert.True(t, collected[`{"n":2}`], "second caller got its own response: %v", collected)
}

func TestSupersession(t *testing.T) {
	b, url := newTestBridge(t, WithRequestTimeout(5*time.Second))

	first := dialPeer(t, url)
	waitConnected(t, b)

	// First peer reads but never answers; watch for the close control
	closeMsg := make(chan map[string]any, 1)
	go func() {
		for {
			var env map[string]any
			if err := first.ReadJSON(&env); err != nil {
				return
			}
			if env["control"] != nil {
				closeMsg <- env
				return
			}
		}
	}()

	// Leave a request pending on the first peer
	pendingErr := make(chan error, 1)
	go func() {
		_, err := b.SendRequest(context.Background(), json.RawMessage(`{"pending":true}`))
		pendingErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	second := dialPeer(t, url)
	echoPeer(t, second)

	// Old peer is told to close
	select {
	case env := <-closeMsg:
		assert.Equal(t, "close", env["control"])
	case <-time.After(time.Second):
		t.Fatal("superseded peer never received close control")
	}

	// Its pending request fails with a disconnection error
	select {
	case err := <-pendingErr:
		assert.ErrorIs(t, err, errors.ErrPeerDisconnected)
	case <-time.After(time.Second):
		t.Fatal("pending request on superseded peer never failed")
	}

	// New peer serves requests
	require.Eventually(t, func() bool {
		resp, err := b.SendRequest(context.Background(), json.RawMessage(`{"x":1}`))
		return err == nil && resp != nil
	}, time.Second, 10*time.Millisecond)
}

func TestSendRequestTimeout(t *testing.T) {
	b, url := newTestBridge(t, WithRequestTimeout(50*time.Millisecond))
	conn := dialPeer(t, url)
	waitConnected(t, b)

	// Peer reads but never answers
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	_, err := b.SendRequest(context.Background(), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, errors.ErrPeerTimeout)
}

func TestSendRequestPeerDisconnects(t *testing.T) {
	b, url := newTestBridge(t, WithRequestTimeout(2*time.Second))
	conn := dialPeer(t, url)
	waitConnected(t, b)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.SendRequest(context.Background(), json.RawMessage(`{}`))
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	_ = conn.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, errors.ErrPeerDisconnected)
	case <-time.After(time.Second):
		t.Fatal("request did not fail after peer disconnect")
	}
}

func TestSendRequestContextCancelled(t *testing.T) {
	b, url := newTestBridge(t, WithRequestTimeout(5*time.Second))
	conn := dialPeer(t, url)
	waitConnected(t, b)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := b.SendRequest(ctx, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDisconnectClearsState(t *testing.T) {
	b, url := newTestBridge(t)
	conn := dialPeer(t, url)
	waitConnected(t, b)

	_ = conn.Close()
	require.Eventually(t, func() bool { return !b.Connected() }, time.Second, 5*time.Millisecond)

	_, err := b.SendRequest(context.Background(), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, errors.ErrNoPeer)
}
