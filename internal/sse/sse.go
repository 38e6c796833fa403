// Package sse implements the wire codec for streaming chunks: one JSON
// payload per `data:` line, each record terminated by a blank line.
package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"chatrelay/backend/internal/model"
)

const dataPrefix = "data:"

// WriteChunk encodes a single chunk as one self-delimited wire record and
// flushes it immediately. Flushing per record is a protocol requirement:
// buffering anywhere between producer and consumer defeats the perceived
// latency the stream exists for.
func WriteChunk(w http.ResponseWriter, chunk model.Chunk) error {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("could not marshal chunk: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		// A write failure here is a strong indicator of a closed connection.
		return fmt.Errorf("could not write chunk to stream: %w", err)
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// Decoder reassembles chunks from an arbitrarily fragmented byte stream.
// It keeps a trailing, not-yet-terminated record across calls, so the
// decoded sequence is identical no matter how the bytes were split into
// reads. A record whose payload fails to parse is dropped with a warning;
// one bad frame must not kill an otherwise good answer.
type Decoder struct {
	buf []byte
}

// Decode appends p to the internal buffer and returns every complete chunk
// now available, in wire order.
func (d *Decoder) Decode(p []byte) []model.Chunk {
	d.buf = append(d.buf, p...)

	var chunks []model.Chunk
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			return chunks
		}
		line := strings.TrimRight(string(d.buf[:i]), "\r")
		d.buf = d.buf[i+1:]

		// Blank separator lines and non-data fields carry no payload.
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if payload == "" {
			continue
		}

		var chunk model.Chunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			slog.Warn("Dropping malformed stream record", "error", err, "payload", payload)
			continue
		}
		chunks = append(chunks, chunk)
	}
}
