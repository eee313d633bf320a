// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package model

import "encoding/json"

// Action is one of a closed set of envelope tags, plus opaque business
// tags the indexer never interprets itself.
type Action string

// Closed set of actions the transport layer itself understands. Business
// tags beyond this set are passed through to the Consumer's BusinessHandler.
const (
	ActionPing             Action = "Ping"
	ActionPong             Action = "Pong"
	ActionQueryRequest     Action = "QueryRequest"
	ActionQueryResponse    Action = "QueryResponse"
	ActionOutboxStreamBatch Action = "OutboxStreamBatch"
	ActionOutboxStreamAck   Action = "OutboxStreamAck"
)

// EnvelopeOverheadBytes is the fixed per-envelope accounting overhead
// (framing, headers, JSON structural bytes not already counted in the
// payload) added before comparing a serialized envelope against
// maxMessageBytes.
const EnvelopeOverheadBytes = 256

// Envelope is the wire-level container framing every message on every
// transport (HTTP, WebSocket, IPC). It is always serialized to JSON.
type Envelope struct {
	Action        Action          `json:"action"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	RequestID     string          `json:"requestId,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Timestamp     int64           `json:"timestamp"`
}

// PingPayload is the (empty) Ping payload.
type PingPayload struct{}

// PongPayload carries the responder's timestamp, and optionally a proof
// token when the producer is configured to verify pongs.
type PongPayload struct {
	Timestamp int64  `json:"ts"`
	Proof     string `json:"proof,omitempty"`
}

// WireEvent is the on-wire representation of a single delivered event.
type WireEvent struct {
	ModelName    string `json:"modelName"`
	EventType    string `json:"eventType"`
	EventVersion uint64 `json:"eventVersion"`
	RequestID    string `json:"requestId"`
	BlockHeight  int64  `json:"blockHeight"`
	Payload      string `json:"payload"`
	Timestamp    int64  `json:"timestamp"`
}

// OutboxStreamBatchPayload is the OutboxStreamBatch envelope payload.
type OutboxStreamBatchPayload struct {
	Events []WireEvent `json:"events"`
}

// OutboxStreamAckPayload is the OutboxStreamAck envelope payload.
// Absent OkIndices with AllOk=true means full acceptance of the batch
// relative to the Events array it acknowledges.
type OutboxStreamAckPayload struct {
	AllOk     bool  `json:"allOk"`
	OkIndices []int `json:"okIndices,omitempty"`
}

// QueryRequestPayload names the query and carries its DTO verbatim.
type QueryRequestPayload struct {
	Name string          `json:"name"`
	DTO  json.RawMessage `json:"dto,omitempty"`
}

// QueryResponsePayload carries either Data or Err, never both.
type QueryResponsePayload struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
	Err  string          `json:"err,omitempty"`
}

// AckResult is the neutral/positive/negative outcome of a streamed
// delivery attempt, relative to the Events slice that was sent.
type AckResult struct {
	AllOk     bool
	OkIndices []int
}
