package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestOpenAIBackendSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/audio/speech", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openaiSpeechRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "tts-1", req.Model)
		require.Equal(t, "shimmer", req.Voice) // naija_female alias
		require.Equal(t, "mp3", req.ResponseFormat)
		require.InDelta(t, 1.2, req.Speed, 0.001)

		_, _ = w.Write([]byte("ID3-fake-mp3"))
	}))
	defer srv.Close()

	b := NewOpenAIBackend(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL}, nil)
	require.NoError(t, b.Init(context.Background()))

	data, ext, err := b.Synthesize(context.Background(), "Wetin dey happen?", "naija_female", 1.2)
	require.NoError(t, err)
	require.Equal(t, "mp3", ext)
	require.Equal(t, []byte("ID3-fake-mp3"), data)
}

func TestOpenAIBackendUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid voice","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	b := NewOpenAIBackend(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL}, nil)

	_, _, err := b.Synthesize(context.Background(), "hello", "alloy", 1.0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid voice")
}

func TestOpenAIBackendChunkedSynthesis(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req openaiSpeechRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.LessOrEqual(t, len(req.Input), openaiMaxCharsPerRequest)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	b := NewOpenAIBackend(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL}, nil)

	para := strings.Repeat("a", 3000)
	text := para + "\n\n" + para + "\n\n" + para

	data, ext, err := b.Synthesize(context.Background(), text, "alloy", 1.0)
	require.NoError(t, err)
	require.Equal(t, "mp3", ext)
	require.Equal(t, int(calls.Load()), len(data))
	require.GreaterOrEqual(t, calls.Load(), int64(2))
}

func TestOpenAIBackendInitRequiresKey(t *testing.T) {
	b := NewOpenAIBackend(OpenAIConfig{}, nil)
	require.Error(t, b.Init(context.Background()))
}

func TestSplitTextOnParagraphs(t *testing.T) {
	require.Equal(t, []string{"short"}, splitTextOnParagraphs("short", 100))

	chunks := splitTextOnParagraphs("aaa\n\nbbb\n\nccc", 8)
	require.Equal(t, []string{"aaa\n\nbbb", "ccc"}, chunks)

	// A single oversized paragraph is hard-cut.
	chunks = splitTextOnParagraphs(strings.Repeat("z", 25), 10)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		require.LessOrEqual(t, len(c), 10)
	}

	// Hard cuts land on rune boundaries, never inside a UTF-8 sequence.
	multibyte := strings.Repeat("é", 20) // 40 bytes
	chunks = splitTextOnParagraphs(multibyte, 7)
	require.Equal(t, multibyte, strings.Join(chunks, ""))
	for _, c := range chunks {
		require.True(t, utf8.ValidString(c), "chunk %q split a rune", c)
		require.LessOrEqual(t, len(c), 7)
	}
}
