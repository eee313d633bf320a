// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/decred/slog"

	"github.com/EXCCoin/exccidx/internal/model"
)

// ipcTransport implements RawTransport over a Unix domain socket using
// newline-delimited JSON frames — the simplest framing that satisfies
// the IPC (Unix domain socket) transport without inventing a new wire
// format beyond what the WebSocket path already uses.
type ipcTransport struct {
	conn      net.Conn
	writer    *bufio.Writer
	writeMu   sync.Mutex
	connected atomic.Bool
}

func newIPCTransport(conn net.Conn) *ipcTransport {
	t := &ipcTransport{conn: conn, writer: bufio.NewWriter(conn)}
	t.connected.Store(true)
	return t
}

func (t *ipcTransport) Send(ctx context.Context, frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if !t.connected.Load() {
		return model.ErrNotConnected
	}
	if _, err := t.writer.Write(frame); err != nil {
		return err
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		return err
	}
	return t.writer.Flush()
}

func (t *ipcTransport) Connected() bool { return t.connected.Load() }

func (t *ipcTransport) Close() error {
	t.connected.Store(false)
	return t.conn.Close()
}

func ipcReadLoop(ctx context.Context, t *ipcTransport, consumer *Consumer, log slog.Logger) {
	reply := func(ctx context.Context, env model.Envelope) error {
		frame, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshaling reply: %w", err)
		}
		return t.Send(ctx, frame)
	}

	defer t.Close()
	scanner := bufio.NewScanner(t.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var env model.Envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			log.Warnf("ipc transport: dropping malformed frame: %v", err)
			continue
		}
		if err := consumer.HandleEnvelope(ctx, env, reply); err != nil {
			log.Warnf("ipc transport: handling %s: %v", env.Action, err)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Debugf("ipc transport: read loop ending: %v", err)
	}
}

// NewIPCProducer wraps an already-accepted/dialed Unix domain socket
// connection in a Producer and starts its read loop.
func NewIPCProducer(conn net.Conn, name string, cfg Config, consumerFactory func(*Producer) *Consumer, log slog.Logger) *Producer {
	raw := newIPCTransport(conn)
	p := NewProducer(name, cfg, raw, log)
	consumer := consumerFactory(p)
	go ipcReadLoop(context.Background(), raw, consumer, log)
	return p
}

// DialIPCProducer connects to a Unix domain socket at path and wires it
// the same way NewIPCProducer does for an accepted connection.
func DialIPCProducer(path, name string, cfg Config, consumerFactory func(*Producer) *Consumer, log slog.Logger) (*Producer, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("dialing ipc socket %s: %w", path, err)
	}
	return NewIPCProducer(conn, name, cfg, consumerFactory, log), nil
}
