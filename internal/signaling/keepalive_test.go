package signaling

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebSocket_IdleTimeoutClosesWithoutPong(t *testing.T) {
	env := newTestEnv(t, nil, func(cfg *Config) {
		cfg.IdleTimeout = 500 * time.Millisecond
		cfg.PingInterval = 50 * time.Millisecond
	})

	c, _ := env.dialHello()

	pingSeen := make(chan struct{}, 1)
	c.SetPingHandler(func(string) error {
		select {
		case pingSeen <- struct{}{}:
		default:
		}
		// No pong.
		return nil
	})

	errCh := make(chan error, 1)
	go func() {
		_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, _, err := c.ReadMessage()
		errCh <- err
	}()

	select {
	case <-pingSeen:
	case err := <-errCh:
		t.Fatalf("connection closed before receiving ping: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for server ping")
	}

	select {
	case err := <-errCh:
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Fatalf("expected close normal closure, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for server to close idle websocket")
	}

	env.waitFor("connection removal", func() bool {
		return env.broker.Stats().Connections == 0
	})
}

func TestWebSocket_PongKeepsConnectionOpenBeyondIdleTimeout(t *testing.T) {
	idleTimeout := 300 * time.Millisecond
	env := newTestEnv(t, nil, func(cfg *Config) {
		cfg.IdleTimeout = idleTimeout
		cfg.PingInterval = 50 * time.Millisecond
	})

	c, _ := env.dialHello()

	// The default ping handler answers with a pong while a read is pending.
	errCh := make(chan error, 1)
	go func() {
		_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, _, err := c.ReadMessage()
		errCh <- err
	}()

	select {
	case err := <-errCh:
		t.Fatalf("connection closed despite pongs: %v", err)
	case <-time.After(4 * idleTimeout):
	}

	if got := env.broker.Stats().Connections; got != 1 {
		t.Fatalf("connections=%d, want 1", got)
	}
}
