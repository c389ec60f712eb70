package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/guardian/internal/models"
)

func sseEvent(name, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", name, data)
}

func messageStream(deltas ...string) string {
	var b strings.Builder
	b.WriteString(sseEvent("message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude-test","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":10,"output_tokens":1}}}`))
	b.WriteString(sseEvent("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`))
	for _, d := range deltas {
		b.WriteString(sseEvent("content_block_delta", fmt.Sprintf(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":%q}}`, d)))
	}
	b.WriteString(sseEvent("content_block_stop", `{"type":"content_block_stop","index":0}`))
	b.WriteString(sseEvent("message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":2}}`))
	b.WriteString(sseEvent("message_stop", `{"type":"message_stop"}`))
	return b.String()
}

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", "claude-test", timeout,
		option.WithBaseURL(srv.URL),
		option.WithMaxRetries(0),
	)
}

func drain(c *Client) []models.Fragment {
	var out []models.Fragment
	for f := range c.Stream(context.Background(), "review this") {
		out = append(out, f)
	}
	return out
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("", "", 0)
	assert.Equal(t, DefaultModel, c.Model())
	assert.Equal(t, DefaultTimeout, c.timeout)
}

func TestStream_TextDeltas(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, messageStream("Hello ", "", "world"))
	}, time.Second)

	frags := drain(c)
	require.Len(t, frags, 2)
	assert.Equal(t, "Hello ", frags[0].Text)
	assert.Equal(t, "world", frags[1].Text)
	assert.False(t, frags[1].Failed())
}

func TestStream_NoText(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, messageStream())
	}, time.Second)

	frags := drain(c)
	require.Len(t, frags, 1)
	assert.Equal(t, models.FailureEmpty, frags[0].Failure)
}

func TestStream_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}, time.Second)

	frags := drain(c)
	require.Len(t, frags, 1)
	assert.Equal(t, models.FailureTransport, frags[0].Failure)
	assert.Contains(t, frags[0].Text, "401")
}

func TestStream_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient("test-key", "claude-test", time.Second,
		option.WithBaseURL(url),
		option.WithMaxRetries(0),
	)
	frags := drain(c)
	require.Len(t, frags, 1)
	assert.Equal(t, models.FailureRefused, frags[0].Failure)
}

func TestStream_Timeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}, 50*time.Millisecond)

	frags := drain(c)
	require.Len(t, frags, 1)
	assert.Equal(t, models.FailureTimeout, frags[0].Failure)
}
