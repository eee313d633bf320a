// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/decred/slog"

	"github.com/EXCCoin/exccidx/internal/model"
)

// httpStreamTransport implements RawTransport over a single long-lived
// HTTP response body, one Envelope JSON object per line: the ndjson
// streaming variant of the HTTP transport. It never receives frames
// (the client side of an ndjson GET is read-only); incoming envelopes
// on this connection are not expected, so no read loop is started.
type httpStreamTransport struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	writeMu   sync.Mutex
	connected atomic.Bool
	closed    chan struct{}
}

func newHTTPStreamTransport(w http.ResponseWriter) (*httpStreamTransport, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	t := &httpStreamTransport{w: w, flusher: flusher, closed: make(chan struct{})}
	t.connected.Store(true)
	return t, nil
}

func (t *httpStreamTransport) Send(ctx context.Context, frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if !t.connected.Load() {
		return model.ErrNotConnected
	}
	if _, err := t.w.Write(frame); err != nil {
		return err
	}
	if _, err := t.w.Write([]byte("\n")); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

func (t *httpStreamTransport) Connected() bool { return t.connected.Load() }

func (t *httpStreamTransport) Close() error {
	if t.connected.CompareAndSwap(true, false) {
		close(t.closed)
	}
	return nil
}

// NewHTTPStreamHandler builds the GET /stream handler: it registers one
// Producer per open connection with manager (named by remote address)
// and blocks until the client disconnects, at which point it
// unregisters and destroys the producer. The response is
// application/x-ndjson, emitting one Envelope per line.
//
// This transport is never eligible for ProducerManager's streaming
// selection (outbox delivery's single in-flight ACK): a GET response
// body is one-way, so a client reading it has no channel to send an
// OutboxStreamAck back on. It only ever receives ProducerManager.Broadcast
// traffic and Ping frames over its own read-only body.
func NewHTTPStreamHandler(manager *ProducerManager, cfg Config, consumerFactory func(*Producer) *Consumer, log slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := newHTTPStreamTransport(w)
		if err != nil {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		name := "httpstream:" + r.RemoteAddr
		p := NewProducer(name, cfg, raw, log)
		consumer := consumerFactory(p)
		_ = consumer // incoming frames are not expected on this read-only transport

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		raw.flusher.Flush()

		manager.Register(name, p)
		p.StartHeartbeat(r.Context())

		defer func() {
			manager.Unregister(name)
			p.Destroy()
		}()

		select {
		case <-r.Context().Done():
		case <-raw.closed:
		}
	}
}
