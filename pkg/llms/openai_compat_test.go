package llms

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStreamProvider(t *testing.T, chunks int) *OpenAICompatProvider {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; i < chunks; i++ {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"chunk %d \"}}]}\n\n", i)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(server.Close)

	provider, err := NewOpenAICompatProvider(OpenAICompatConfig{
		Name:        "stream_test",
		BackendType: "api",
		BaseURL:     server.URL,
		Model:       "test-model",
	})
	require.NoError(t, err)
	return provider
}

func TestChatCompletionStream_DeliversChunks(t *testing.T) {
	provider := newStreamProvider(t, 3)

	stream, err := provider.ChatCompletionStream(context.Background(), []Message{{Role: "user", Content: "hi"}}, Params{})
	require.NoError(t, err)

	var text string
	done := false
	for chunk := range stream {
		require.NoError(t, chunk.Err)
		text += chunk.Text
		done = done || chunk.Done
	}
	assert.True(t, done)
	assert.Contains(t, text, "chunk 0")
	assert.Contains(t, text, "chunk 2")
}

func TestChatCompletionStream_AbandonedConsumerDoesNotLeakReader(t *testing.T) {
	provider := newStreamProvider(t, 500)
	before := runtime.NumGoroutine()

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := provider.ChatCompletionStream(ctx, []Message{{Role: "user", Content: "hi"}}, Params{})
	require.NoError(t, err)

	// Read one chunk, cancel, and walk away without draining the rest.
	<-stream
	cancel()

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+1
	}, 2*time.Second, 10*time.Millisecond, "stream reader goroutine should exit after cancel")
}
