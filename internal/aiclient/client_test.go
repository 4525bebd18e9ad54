package aiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(Config{BaseURL: server.URL, APIKey: "test-key", Model: "test-model"}, nil)
}

func chatReply(content string, tokens int) map[string]interface{} {
	return map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
		"usage": map[string]int{"total_tokens": tokens},
	}
}

func TestChatJSON(t *testing.T) {
	t.Run("Should parse the reply and report token usage", func(t *testing.T) {
		var got chatRequest
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(chatReply(`{"point_id": "TP001"}`, 128))
		})

		value, tokens, err := client.ChatJSON(context.Background(), "system", "user", 0.2, 900)
		require.NoError(t, err)
		assert.JSONEq(t, `{"point_id": "TP001"}`, string(value))
		assert.Equal(t, 128, tokens)

		assert.Equal(t, "test-model", got.Model)
		require.Len(t, got.Messages, 2)
		assert.Equal(t, "system", got.Messages[0].Role)
		assert.Equal(t, "user", got.Messages[1].Role)
		assert.Equal(t, 0.2, got.Temperature)
		assert.Equal(t, 900, got.MaxTokens)
	})

	t.Run("Should strip a fenced reply", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(chatReply("```json\n[{\"point_id\": \"TP001\"}]\n```", 64))
		})

		value, _, err := client.ChatJSON(context.Background(), "system", "user", 0.1, 800)
		require.NoError(t, err)
		assert.JSONEq(t, `[{"point_id": "TP001"}]`, string(value))
	})

	t.Run("Should surface an API error status", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]string{"message": "invalid model", "type": "invalid_request_error"},
			})
		})

		_, _, err := client.ChatJSON(context.Background(), "system", "user", 0.1, 800)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "generation request failed")
	})

	t.Run("Should flag unparseable reply content as malformed output", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(chatReply("抱歉，我无法生成。", 32))
		})

		_, tokens, err := client.ChatJSON(context.Background(), "system", "user", 0.1, 800)
		var malformed *MalformedOutputError
		require.ErrorAs(t, err, &malformed)
		assert.Equal(t, 32, tokens)
	})

	t.Run("Should flag empty choices as malformed output", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"choices": []interface{}{},
				"usage":   map[string]int{"total_tokens": 8},
			})
		})

		_, _, err := client.ChatJSON(context.Background(), "system", "user", 0.1, 800)
		var malformed *MalformedOutputError
		require.ErrorAs(t, err, &malformed)
	})
}

func TestConfigFromEnv(t *testing.T) {
	t.Run("Should apply compatible mode defaults", func(t *testing.T) {
		t.Setenv("GENERATION_API_BASE", "")
		t.Setenv("GENERATION_API_KEY", "")
		t.Setenv("GENERATION_MODEL", "")
		cfg := ConfigFromEnv()
		assert.Equal(t, defaultBaseURL, cfg.BaseURL)
		assert.Equal(t, defaultModel, cfg.Model)
		assert.Empty(t, cfg.APIKey)
	})

	t.Run("Should prefer environment overrides", func(t *testing.T) {
		t.Setenv("GENERATION_API_BASE", "https://llm.internal/v1")
		t.Setenv("GENERATION_API_KEY", "sk-abc")
		t.Setenv("GENERATION_MODEL", "qwen-max")
		cfg := ConfigFromEnv()
		assert.Equal(t, "https://llm.internal/v1", cfg.BaseURL)
		assert.Equal(t, "sk-abc", cfg.APIKey)
		assert.Equal(t, "qwen-max", cfg.Model)
	})
}
