// Package stream is the client side of the chat wire protocol: it opens a
// streaming request and turns the raw response body back into chunks.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chatrelay/backend/internal/model"
	"chatrelay/backend/internal/sse"
)

// DefaultIdleTimeout bounds how long a read on the response body may sit
// without any bytes arriving before the stream is abandoned. Without it a
// wedged connection would hang the turn forever.
const DefaultIdleTimeout = 90 * time.Second

// Client opens chat streams against a chat server.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	idleTimeout time.Duration
}

func NewClient(baseURL string) *Client {
	return &Client{
		httpClient:  &http.Client{},
		baseURL:     strings.TrimRight(baseURL, "/"),
		idleTimeout: DefaultIdleTimeout,
	}
}

// SetIdleTimeout overrides the idle-read timeout. Zero restores the default.
func (c *Client) SetIdleTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultIdleTimeout
	}
	c.idleTimeout = d
}

type chatRequest struct {
	Query   string              `json:"query"`
	History []model.HistoryItem `json:"history"`
}

// Open sends the chat request and returns a live stream. A non-2xx status
// is a pre-stream failure and reported as a plain error; once Open returns
// successfully all failures surface as the stream's synthetic terminal chunk.
func (c *Client) Open(ctx context.Context, query string, history []model.HistoryItem) (*Stream, error) {
	body, err := json.Marshal(chatRequest{Query: query, History: history})
	if err != nil {
		return nil, fmt.Errorf("could not marshal chat request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("could not create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("chat request returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	s := &Stream{
		body:        resp.Body,
		cancel:      cancel,
		readBuf:     make([]byte, 4096),
		idleTimeout: c.idleTimeout,
	}
	// Canceling the request context fails the pending body read, which
	// Recv converts into the synthetic terminal chunk.
	s.idle = time.AfterFunc(c.idleTimeout, cancel)
	return s, nil
}

// Stream is a lazy, single-pass, non-restartable sequence of chunks. It
// always yields exactly one terminal chunk: either the producer's own
// done/error record or a synthetic failure chunk when the connection dies
// first. After the terminal chunk, Recv returns io.EOF.
type Stream struct {
	body        io.ReadCloser
	cancel      context.CancelFunc
	dec         sse.Decoder
	pending     []model.Chunk
	readBuf     []byte
	idle        *time.Timer
	idleTimeout time.Duration
	closed      bool
}

// Recv returns the next chunk in arrival order.
func (s *Stream) Recv() (model.Chunk, error) {
	if s.closed {
		return model.Chunk{}, io.EOF
	}

	for {
		if len(s.pending) > 0 {
			chunk := s.pending[0]
			s.pending = s.pending[1:]
			if chunk.Error {
				// An error chunk is terminal regardless of its done flag.
				chunk.Done = true
			}
			if chunk.Terminal() {
				s.shutdown()
			}
			return chunk, nil
		}

		n, err := s.body.Read(s.readBuf)
		if n > 0 {
			s.idle.Reset(s.idleTimeout)
			s.pending = append(s.pending, s.dec.Decode(s.readBuf[:n])...)
		}
		if err != nil && len(s.pending) == 0 {
			// Connection ended before a terminal chunk arrived.
			s.shutdown()
			msg := "connection closed before the answer completed"
			if err != io.EOF {
				msg = err.Error()
			}
			return model.Chunk{Text: "", Done: true, Error: true, Message: msg}, nil
		}
	}
}

// Close abandons the stream early. Safe to call multiple times and after
// the terminal chunk.
func (s *Stream) Close() {
	if !s.closed {
		s.shutdown()
	}
}

func (s *Stream) shutdown() {
	s.closed = true
	s.idle.Stop()
	s.cancel()
	_ = s.body.Close()
}
