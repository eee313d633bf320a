// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/decred/slog"

	"github.com/EXCCoin/exccidx/internal/model"
)

// NewHTTPRouter builds the request/response and health-check surface of
// the HTTP RPC endpoint: POST / exchanges one Envelope for another via
// consumer.HandleEnvelope, with no persistent connection or heartbeat
// (each request is self-contained, so the per-producer ACK/heartbeat
// machinery does not apply to this transport). GET /health reports
// liveness. When streamHandler is non-nil it is mounted at GET /stream,
// the application/x-ndjson-emitting-one-Envelope-per-line streaming
// variant.
func NewHTTPRouter(consumer *Consumer, streamHandler http.HandlerFunc, log slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMicro(),
		})
	})

	if streamHandler != nil {
		r.Get("/stream", streamHandler)
	}

	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		var env model.Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			http.Error(w, "malformed envelope: "+err.Error(), http.StatusBadRequest)
			return
		}

		var resp model.Envelope
		var replyErr error
		reply := func(ctx context.Context, out model.Envelope) error {
			resp = out
			return nil
		}
		if err := consumer.HandleEnvelope(r.Context(), env, reply); err != nil {
			replyErr = err
		}
		if replyErr != nil {
			log.Warnf("http transport: handling %s: %v", env.Action, replyErr)
			http.Error(w, replyErr.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	return r
}
