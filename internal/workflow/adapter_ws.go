package workflow

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketAdapter implements the send/stream/listen modes described in
// §4.4. The response body is the last message for single-message runs, or a
// JSON array of messages otherwise.
type WebSocketAdapter struct{}

func NewWebSocketAdapter() *WebSocketAdapter { return &WebSocketAdapter{} }

func (a *WebSocketAdapter) Do(ctx context.Context, req *AdapterRequest, store *VariableStore) (*AdapterOutcome, error) {
	cfg := req.Step.WebSocket
	if cfg == nil {
		return nil, newErrf(KindArgument, req.Step.Name, "websocket", "websocket step missing websocket config")
	}

	dialer := websocket.DefaultDialer
	if cfg.Insecure {
		dialer = &websocket.Dialer{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}

	header := make(http.Header, len(req.Headers))
	for k, v := range req.Headers {
		header.Set(k, v)
	}

	start := time.Now()
	conn, resp, err := dialer.DialContext(ctx, req.URL, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, newErrf(KindAdapter, req.Step.Name, "websocket", "dial failed (status %d): %v", status, err)
	}
	defer conn.Close()

	switch cfg.Mode {
	case "send":
		return a.runSend(conn, cfg, start)
	case "stream":
		return a.runStream(conn, cfg, start)
	case "listen":
		return a.runListen(conn, cfg, start)
	default:
		return nil, newErrf(KindArgument, req.Step.Name, "websocket.mode", "unknown websocket mode %q", cfg.Mode)
	}
}

func (a *WebSocketAdapter) runSend(conn *websocket.Conn, cfg *WebSocketConfig, start time.Time) (*AdapterOutcome, error) {
	if err := sendAll(conn, cfg); err != nil {
		return nil, err
	}
	wait := waitDuration(cfg.WaitFor, 5*time.Second)
	msg, err := readOneWithin(conn, wait)
	elapsed := time.Since(start)
	if err != nil {
		// A send with no reply expected is not itself an error: return a
		// JSON null body rather than failing the step.
		return &AdapterOutcome{StatusCode: 0, Body: []byte("null"), Elapsed: elapsed}, nil
	}
	return &AdapterOutcome{StatusCode: 0, Body: msg, Elapsed: elapsed}, nil
}

func (a *WebSocketAdapter) runStream(conn *websocket.Conn, cfg *WebSocketConfig, start time.Time) (*AdapterOutcome, error) {
	if err := sendAll(conn, cfg); err != nil {
		return nil, err
	}
	wait := waitDuration(cfg.WaitFor, 5*time.Second)
	max := cfg.MaxMessages
	if max == 0 {
		max = 100
	}
	messages := readUpTo(conn, max, wait)
	elapsed := time.Since(start)
	return &AdapterOutcome{StatusCode: 0, Body: messagesToJSON(messages), Elapsed: elapsed}, nil
}

func (a *WebSocketAdapter) runListen(conn *websocket.Conn, cfg *WebSocketConfig, start time.Time) (*AdapterOutcome, error) {
	wait := waitDuration(cfg.WaitFor, 10*time.Second)
	max := cfg.MaxMessages
	if max == 0 {
		max = 100
	}
	messages := readUpTo(conn, max, wait)
	elapsed := time.Since(start)
	return &AdapterOutcome{StatusCode: 0, Body: messagesToJSON(messages), Elapsed: elapsed}, nil
}

func sendAll(conn *websocket.Conn, cfg *WebSocketConfig) error {
	for _, m := range cfg.Messages {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
			return newErr(KindAdapter, "", "websocket", err)
		}
	}
	for _, b64 := range cfg.BinaryB64 {
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return newErrf(KindArgument, "", "websocket.binary", "invalid base64 payload: %v", err)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return newErr(KindAdapter, "", "websocket", err)
		}
	}
	return nil
}

func readOneWithin(conn *websocket.Conn, wait time.Duration) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(wait))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func readUpTo(conn *websocket.Conn, max int, wait time.Duration) [][]byte {
	deadline := time.Now().Add(wait)
	var out [][]byte
	for len(out) < max {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		conn.SetReadDeadline(time.Now().Add(remaining))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		out = append(out, msg)
	}
	return out
}

func messagesToJSON(messages [][]byte) []byte {
	if len(messages) == 0 {
		return []byte("[]")
	}
	if len(messages) == 1 {
		if json.Valid(messages[0]) {
			return messages[0]
		}
		out, _ := json.Marshal(string(messages[0]))
		return out
	}
	parts := make([]json.RawMessage, len(messages))
	for i, m := range messages {
		if json.Valid(m) {
			parts[i] = m
		} else {
			enc, _ := json.Marshal(string(m))
			parts[i] = enc
		}
	}
	out, _ := json.Marshal(parts)
	return out
}

func waitDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
