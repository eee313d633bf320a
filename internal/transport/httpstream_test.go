// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/decred/slog"

	"github.com/EXCCoin/exccidx/internal/model"
)

func TestHTTPStreamHandlerRegistersAndUnregistersOnDisconnect(t *testing.T) {
	t.Parallel()
	manager := NewProducerManager(slog.Disabled)
	factory := func(p *Producer) *Consumer {
		return NewConsumer(p, stubDispatcher{}, nil, slog.Disabled)
	}
	handler := NewHTTPStreamHandler(manager, testProducerConfig(), factory, slog.Disabled)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		handler(rec, req)
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		if rec.Code == 200 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for stream handler to start")
		case <-time.After(time.Millisecond):
		}
	}

	name := "httpstream:" + req.RemoteAddr
	var sawRegistered bool
	for i := 0; i < 100; i++ {
		manager.mu.RLock()
		_, sawRegistered = manager.producers[name]
		manager.mu.RUnlock()
		if sawRegistered {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !sawRegistered {
		t.Fatal("expected stream producer registered with the manager")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not return after context cancellation")
	}

	manager.mu.RLock()
	_, stillRegistered := manager.producers[name]
	manager.mu.RUnlock()
	if stillRegistered {
		t.Fatal("expected stream producer unregistered after disconnect")
	}

	if rec.Header().Get("Content-Type") != "application/x-ndjson" {
		t.Fatalf("expected ndjson content type, got %q", rec.Header().Get("Content-Type"))
	}
}

func TestHTTPStreamTransportSendWritesNDJSONLine(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	tr, err := newHTTPStreamTransport(rec)
	if err != nil {
		t.Fatalf("newHTTPStreamTransport: %v", err)
	}

	if err := tr.Send(context.Background(), []byte(`{"action":"Ping"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.HasSuffix(rec.Body.String(), "\n") {
		t.Fatalf("expected newline-terminated frame, got %q", rec.Body.String())
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if tr.Connected() {
		t.Fatal("expected transport to report disconnected after Close")
	}
	if err := tr.Send(context.Background(), []byte(`{}`)); err != model.ErrNotConnected {
		t.Fatalf("expected ErrNotConnected after close, got %v", err)
	}
}
