// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/decred/slog"

	"github.com/EXCCoin/exccidx/internal/model"
)

func TestHTTPRouterHealth(t *testing.T) {
	t.Parallel()
	producer := NewProducer("http", testProducerConfig(), newFakeRaw(true), slog.Disabled)
	consumer := NewConsumer(producer, stubDispatcher{}, nil, slog.Disabled)
	router := NewHTTPRouter(consumer, nil, slog.Disabled)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding health response: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("expected status ok, got %q", body.Status)
	}
}

func TestHTTPRouterPingPong(t *testing.T) {
	t.Parallel()
	producer := NewProducer("http", testProducerConfig(), newFakeRaw(true), slog.Disabled)
	consumer := NewConsumer(producer, stubDispatcher{}, nil, slog.Disabled)
	router := NewHTTPRouter(consumer, nil, slog.Disabled)

	env := model.Envelope{Action: model.ActionPing, RequestID: "r1"}
	body, _ := json.Marshal(env)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp model.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Action != model.ActionPong {
		t.Fatalf("expected Pong action, got %q", resp.Action)
	}
	if resp.RequestID != "r1" {
		t.Fatalf("expected requestId to round-trip, got %q", resp.RequestID)
	}
}

func TestHTTPRouterMalformedEnvelope(t *testing.T) {
	t.Parallel()
	producer := NewProducer("http", testProducerConfig(), newFakeRaw(true), slog.Disabled)
	consumer := NewConsumer(producer, stubDispatcher{}, nil, slog.Disabled)
	router := NewHTTPRouter(consumer, nil, slog.Disabled)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

type stubDispatcher struct{}

func (stubDispatcher) Dispatch(ctx context.Context, req model.QueryRequestPayload) model.QueryResponsePayload {
	return model.QueryResponsePayload{Name: req.Name}
}
