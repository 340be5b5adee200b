package explain

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anthropicServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		raw, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var req map[string]any
		if assert.NoError(t, json.Unmarshal(raw, &req)) {
			assert.Equal(t, "claude-test", req["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnthropicBackend_Generate(t *testing.T) {
	srv := anthropicServer(t, http.StatusOK, `{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"model": "claude-test",
		"content": [{"type": "text", "text": "{\"narrative\":\"n\",\"recommended_action\":\"a\"}"}],
		"stop_reason": "end_turn",
		"stop_sequence": null,
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`)
	b := NewAnthropicBackend(AnthropicConfig{APIKey: "test", Model: "claude-test", BaseURL: srv.URL})

	text, err := b.Generate(context.Background(), Prompt{System: "s", User: "u"})
	require.NoError(t, err)
	n, a, err := ParseResponse(text)
	require.NoError(t, err)
	assert.Equal(t, "n", n)
	assert.Equal(t, "a", a)
}

func TestAnthropicBackend_AuthErrorIsPermanent(t *testing.T) {
	srv := anthropicServer(t, http.StatusUnauthorized,
		`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	b := NewAnthropicBackend(AnthropicConfig{APIKey: "bad", Model: "claude-test", BaseURL: srv.URL})

	_, err := b.Generate(context.Background(), Prompt{System: "s", User: "u"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestAnthropicBackend_OverloadIsTransient(t *testing.T) {
	srv := anthropicServer(t, 529,
		`{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`)
	b := NewAnthropicBackend(AnthropicConfig{APIKey: "k", Model: "claude-test", BaseURL: srv.URL})

	_, err := b.Generate(context.Background(), Prompt{System: "s", User: "u"})
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}
