// Command signal-probe-go checks a running queue-strategy server end to end:
// two clients seek, must be paired as caller and callee, and a signal sent by
// the caller must reach the callee unchanged. It prints "OK" on success and
// exits 1 otherwise.
//
// It deliberately uses a different WebSocket client library than the server
// so the wire format is exercised independently.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/net/websocket"
)

const probeTimeout = 5 * time.Second

type envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Role      string          `json:"role,omitempty"`
	PartnerID string          `json:"partnerId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func main() {
	url := envOrDefault("SIGNAL_URL", "ws://127.0.0.1:8080/ws")
	origin := envOrDefault("SIGNAL_ORIGIN", sameHostOrigin(url))

	if err := probe(url, origin); err != nil {
		fmt.Fprintf(os.Stderr, "probe failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func probe(url, origin string) error {
	first, firstID, err := dial(url, origin)
	if err != nil {
		return err
	}
	defer first.Close()
	second, secondID, err := dial(url, origin)
	if err != nil {
		return err
	}
	defer second.Close()

	if err := send(first, envelope{Type: "seek"}); err != nil {
		return err
	}
	if _, err := expect(first, "queued"); err != nil {
		return err
	}
	if err := send(second, envelope{Type: "seek"}); err != nil {
		return err
	}

	caller, err := expect(second, "paired")
	if err != nil {
		return err
	}
	if caller.Role != "caller" || caller.PartnerID != firstID {
		return fmt.Errorf("second client paired as %q with %q, want caller with %q", caller.Role, caller.PartnerID, firstID)
	}
	callee, err := expect(first, "paired")
	if err != nil {
		return err
	}
	if callee.Role != "callee" || callee.PartnerID != secondID {
		return fmt.Errorf("first client paired as %q with %q, want callee with %q", callee.Role, callee.PartnerID, secondID)
	}

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	if err := send(second, envelope{Type: "signal", Data: payload}); err != nil {
		return err
	}
	got, err := expect(first, "signal")
	if err != nil {
		return err
	}
	if string(got.Data) != string(payload) {
		return fmt.Errorf("signal data=%s, want %s", got.Data, payload)
	}

	if err := send(first, envelope{Type: "bye"}); err != nil {
		return err
	}
	if _, err := expect(second, "unpaired"); err != nil {
		return err
	}
	return nil
}

// dial connects and consumes the hello greeting.
func dial(url, origin string) (*websocket.Conn, string, error) {
	ws, err := websocket.Dial(url, "", origin)
	if err != nil {
		return nil, "", fmt.Errorf("dial %s: %w", url, err)
	}
	hello, err := expect(ws, "hello")
	if err != nil {
		ws.Close()
		return nil, "", err
	}
	if hello.ID == "" {
		ws.Close()
		return nil, "", errors.New("hello without id")
	}
	return ws, hello.ID, nil
}

func send(ws *websocket.Conn, env envelope) error {
	_ = ws.SetWriteDeadline(time.Now().Add(probeTimeout))
	return websocket.JSON.Send(ws, env)
}

func expect(ws *websocket.Conn, typ string) (envelope, error) {
	_ = ws.SetReadDeadline(time.Now().Add(probeTimeout))
	var raw string
	if err := websocket.Message.Receive(ws, &raw); err != nil {
		return envelope{}, fmt.Errorf("waiting for %s: %w", typ, err)
	}
	var env envelope
	if err := json.NewDecoder(strings.NewReader(raw)).Decode(&env); err != nil {
		return envelope{}, fmt.Errorf("decode %q: %w", raw, err)
	}
	if env.Type != typ {
		return envelope{}, fmt.Errorf("got %s, want %s", raw, typ)
	}
	return env, nil
}

// sameHostOrigin maps ws(s)://host/path to http(s)://host, which the server
// accepts without an ALLOWED_ORIGINS entry.
func sameHostOrigin(url string) string {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return url
	}
	host, _, _ := strings.Cut(rest, "/")
	switch scheme {
	case "wss":
		scheme = "https"
	default:
		scheme = "http"
	}
	return scheme + "://" + host
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
