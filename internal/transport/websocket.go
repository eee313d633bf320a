// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/decred/slog"

	"github.com/EXCCoin/exccidx/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsTransport implements RawTransport over a *websocket.Conn. Gorilla's
// connections require the caller to serialize writes, so every Send goes
// through writeMu — mirroring the mutex-guarded shared state exccd's
// own peer connections use around their long-lived sockets.
type wsTransport struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	connected atomic.Bool
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	t := &wsTransport{conn: conn}
	t.connected.Store(true)
	return t
}

func (t *wsTransport) Send(ctx context.Context, frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if !t.connected.Load() {
		return model.ErrNotConnected
	}
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *wsTransport) Connected() bool { return t.connected.Load() }

func (t *wsTransport) Close() error {
	t.connected.Store(false)
	return t.conn.Close()
}

// readLoop blocks reading frames off conn and dispatches each to
// consumer.HandleEnvelope, replying on the same connection. It returns
// when the connection errors or closes.
func readLoop(ctx context.Context, t *wsTransport, consumer *Consumer, log slog.Logger) {
	reply := func(ctx context.Context, env model.Envelope) error {
		frame, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshaling reply: %w", err)
		}
		t.writeMu.Lock()
		defer t.writeMu.Unlock()
		return t.conn.WriteMessage(websocket.TextMessage, frame)
	}

	defer t.Close()
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			log.Debugf("websocket transport: read loop ending: %v", err)
			return
		}
		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warnf("websocket transport: dropping malformed frame: %v", err)
			continue
		}
		if err := consumer.HandleEnvelope(ctx, env, reply); err != nil {
			log.Warnf("websocket transport: handling %s: %v", env.Action, err)
		}
	}
}

// NewWebSocketProducer upgrades an incoming HTTP request to a WebSocket
// connection and wires it to a Producer plus a read loop dispatching to
// consumer. The caller owns invoking this from its HTTP handler.
func NewWebSocketProducer(w http.ResponseWriter, r *http.Request, name string, cfg Config, consumerFactory func(*Producer) *Consumer, log slog.Logger) (*Producer, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrading websocket: %w", err)
	}
	raw := newWSTransport(conn)
	p := NewProducer(name, cfg, raw, log)
	consumer := consumerFactory(p)
	go readLoop(context.Background(), raw, consumer, log)
	return p, nil
}

// DialWebSocketProducer connects outbound to url and wires the resulting
// connection the same way NewWebSocketProducer does for an inbound one.
func DialWebSocketProducer(ctx context.Context, url, name string, cfg Config, consumerFactory func(*Producer) *Consumer, log slog.Logger) (*Producer, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing websocket %s: %w", url, err)
	}
	raw := newWSTransport(conn)
	p := NewProducer(name, cfg, raw, log)
	consumer := consumerFactory(p)
	go readLoop(ctx, raw, consumer, log)
	return p, nil
}
