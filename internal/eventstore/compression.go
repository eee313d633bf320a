// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package eventstore

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
)

// maybeCompress compresses raw if it exceeds compressionThreshold,
// returning the stored bytes, whether compression was applied, and the
// original (uncompressed) length.
func maybeCompress(raw []byte) (stored []byte, compressed bool, uncompressedLen int64) {
	uncompressedLen = int64(len(raw))
	if len(raw) <= compressionThreshold {
		return raw, false, uncompressedLen
	}
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return raw, false, uncompressedLen
	}
	if err := w.Close(); err != nil {
		return raw, false, uncompressedLen
	}
	return buf.Bytes(), true, uncompressedLen
}

// decompress reverses maybeCompress.
func decompress(stored []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return stored, nil
	}
	r, err := zlib.NewReader(bytes.NewReader(stored))
	if err != nil {
		return nil, fmt.Errorf("opening zlib reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading zlib stream: %w", err)
	}
	return out, nil
}
