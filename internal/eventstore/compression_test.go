// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package eventstore

import (
	"bytes"
	"strings"
	"testing"
)

func TestMaybeCompressLeavesSmallPayloadsUntouched(t *testing.T) {
	t.Parallel()
	raw := []byte("small payload")
	stored, compressed, n := maybeCompress(raw)
	if compressed {
		t.Fatal("expected no compression below threshold")
	}
	if n != int64(len(raw)) {
		t.Fatalf("expected uncompressed length %d, got %d", len(raw), n)
	}
	if !bytes.Equal(stored, raw) {
		t.Fatal("expected stored bytes to equal raw input")
	}
}

func TestMaybeCompressCompressesLargePayloads(t *testing.T) {
	t.Parallel()
	raw := []byte(strings.Repeat("a", compressionThreshold+1))
	stored, compressed, n := maybeCompress(raw)
	if !compressed {
		t.Fatal("expected compression above threshold")
	}
	if n != int64(len(raw)) {
		t.Fatalf("expected original length preserved, got %d", n)
	}
	if len(stored) >= len(raw) {
		t.Fatalf("expected compressed output smaller than input: stored=%d raw=%d", len(stored), len(raw))
	}
}

func TestCompressDecompressRoundTrips(t *testing.T) {
	t.Parallel()
	raw := []byte(strings.Repeat("round-trip-me ", 200))
	stored, compressed, _ := maybeCompress(raw)
	if !compressed {
		t.Fatal("expected compression for this payload size")
	}
	got, err := decompress(stored, compressed)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatal("expected decompressed bytes to match original")
	}
}

func TestDecompressPassesThroughUncompressed(t *testing.T) {
	t.Parallel()
	raw := []byte("not compressed")
	got, err := decompress(raw, false)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatal("expected passthrough of uncompressed bytes")
	}
}

func TestDecompressRejectsCorruptStream(t *testing.T) {
	t.Parallel()
	if _, err := decompress([]byte("not zlib data"), true); err == nil {
		t.Fatal("expected error decompressing corrupt zlib stream")
	}
}
