package sse_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/backend/internal/model"
	"chatrelay/backend/internal/sse"
)

func TestWriteChunk(t *testing.T) {
	rr := httptest.NewRecorder()

	require.NoError(t, sse.WriteChunk(rr, model.Chunk{Text: "Hi", Done: false}))
	require.NoError(t, sse.WriteChunk(rr, model.Chunk{Done: true}))

	body := rr.Body.String()
	assert.Equal(t, "data: {\"text\":\"Hi\",\"done\":false}\n\ndata: {\"text\":\"\",\"done\":true}\n\n", body)
	assert.True(t, rr.Flushed, "each record must be flushed immediately")
}

func TestWriteChunkErrorRecord(t *testing.T) {
	rr := httptest.NewRecorder()

	require.NoError(t, sse.WriteChunk(rr, model.Chunk{Done: true, Error: true, Message: "provider timeout"}))

	assert.Equal(t, "data: {\"text\":\"\",\"done\":true,\"error\":true,\"message\":\"provider timeout\"}\n\n", rr.Body.String())
}

func TestDecoderReadGranularityIndependence(t *testing.T) {
	wire := "data: {\"text\":\"Hi\",\"done\":false}\n\n" +
		"data: {\"text\":\" there\",\"done\":false}\n\n" +
		"data: {\"text\":\"\",\"done\":true}\n\n"

	expected := []model.Chunk{
		{Text: "Hi"},
		{Text: " there"},
		{Text: "", Done: true},
	}

	t.Run("SingleRead", func(t *testing.T) {
		var dec sse.Decoder
		assert.Equal(t, expected, dec.Decode([]byte(wire)))
	})

	t.Run("ByteAtATime", func(t *testing.T) {
		var dec sse.Decoder
		var got []model.Chunk
		for i := 0; i < len(wire); i++ {
			got = append(got, dec.Decode([]byte{wire[i]})...)
		}
		assert.Equal(t, expected, got)
	})

	t.Run("SplitMidRecord", func(t *testing.T) {
		var dec sse.Decoder
		var got []model.Chunk
		cut := len(wire)/2 + 3
		got = append(got, dec.Decode([]byte(wire[:cut]))...)
		got = append(got, dec.Decode([]byte(wire[cut:]))...)
		assert.Equal(t, expected, got)
	})
}

func TestDecoderRetainsTrailingPartialRecord(t *testing.T) {
	var dec sse.Decoder

	chunks := dec.Decode([]byte("data: {\"text\":\"Hi\",\"do"))
	assert.Empty(t, chunks)

	chunks = dec.Decode([]byte("ne\":false}\n\n"))
	assert.Equal(t, []model.Chunk{{Text: "Hi"}}, chunks)
}

func TestDecoderSkipsMalformedRecord(t *testing.T) {
	var dec sse.Decoder
	wire := "data: {\"text\":\"ok\",\"done\":false}\n\n" +
		"data: {not valid json\n\n" +
		"data: {\"text\":\"\",\"done\":true}\n\n"

	chunks := dec.Decode([]byte(wire))

	assert.Equal(t, []model.Chunk{{Text: "ok"}, {Done: true}}, chunks)
}

func TestDecoderIgnoresNonDataLines(t *testing.T) {
	var dec sse.Decoder
	wire := ": keepalive comment\n" +
		"event: message\n" +
		"data: {\"text\":\"hello\",\"done\":false}\n\n"

	chunks := dec.Decode([]byte(wire))

	assert.Equal(t, []model.Chunk{{Text: "hello"}}, chunks)
}

func TestDecoderHandlesCRLF(t *testing.T) {
	var dec sse.Decoder
	wire := "data: {\"text\":\"hello\",\"done\":false}\r\n\r\ndata: {\"text\":\"\",\"done\":true}\r\n\r\n"

	chunks := dec.Decode([]byte(wire))

	assert.Equal(t, []model.Chunk{{Text: "hello"}, {Done: true}}, chunks)
}
