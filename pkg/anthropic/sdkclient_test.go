package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageJSON(text string) map[string]any {
	return map[string]any{
		"id":   "msg_test_001",
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"model":       "claude-sonnet-4-5-20250929",
		"stop_reason": "end_turn",
		"usage": map[string]any{
			"input_tokens":  10,
			"output_tokens": 5,
		},
	}
}

func TestSDKClient_CreateMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageJSON(`{"projects":[]}`)) //nolint:errcheck
	}))
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL))
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 1024,
		Messages:  []Message{{Role: "user", Content: "Analyze 1 Main St"}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "msg_test_001", resp.ID)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, `{"projects":[]}`, resp.Text())
	assert.Equal(t, int64(10), resp.Usage.InputTokens)
	assert.Equal(t, int64(5), resp.Usage.OutputTokens)
}

func TestSDKClient_CreateMessage_SendsSystemAndTemperature(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))

		system, ok := req["system"].([]any)
		require.True(t, ok)
		require.Len(t, system, 1)
		assert.Equal(t, "You are a renovation analyst", system[0].(map[string]any)["text"])
		assert.InDelta(t, 0.2, req["temperature"], 0.0001)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageJSON("ok")) //nolint:errcheck
	}))
	defer ts.Close()

	temp := 0.2
	client := NewClient("test-key", WithBaseURL(ts.URL))
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:       "claude-sonnet-4-5-20250929",
		MaxTokens:   128,
		System:      "You are a renovation analyst",
		Messages:    []Message{{Role: "user", Content: "hi"}},
		Temperature: &temp,
	})
	require.NoError(t, err)
}

func TestSDKClient_CreateMessage_ErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"type":  "error",
			"error": map[string]any{"type": "api_error", "message": "Internal server error"},
		})
	}))
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL))
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 16,
		Messages:  []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
	assert.Equal(t, int32(1), calls.Load())
}

func TestToSDKMessages_Roles(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "question"},
		{Role: "assistant", Content: "{"},
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, msgs[1].Role)
}

func TestSDKClient_CreateMessage_SendsImageBlocks(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Messages []struct {
				Content []map[string]any `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(body, &req))
		require.Len(t, req.Messages, 1)
		blocks := req.Messages[0].Content
		require.Len(t, blocks, 3)
		assert.Equal(t, "image", blocks[0]["type"])
		source, _ := blocks[0]["source"].(map[string]any)
		assert.Equal(t, "url", source["type"])
		assert.Equal(t, "https://photos.example/kitchen.jpg", source["url"])
		assert.Equal(t, "image", blocks[1]["type"])
		assert.Equal(t, "text", blocks[2]["type"])
		assert.Equal(t, "Review these photos", blocks[2]["text"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageJSON("ok")) //nolint:errcheck
	}))
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL))
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 128,
		Messages: []Message{{
			Role:      "user",
			Content:   "Review these photos",
			ImageURLs: []string{"https://photos.example/kitchen.jpg", "https://photos.example/bath.jpg"},
		}},
	})
	require.NoError(t, err)
}

func TestMessageResponse_TextSkipsNonText(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "a"},
		{Type: "tool_use"},
		{Type: "text", Text: "b"},
	}}
	assert.Equal(t, "ab", resp.Text())
}

func TestEstimateCost(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 18.0, u.EstimateCost("claude-sonnet-4-5-20250929"), 0.0001)
	assert.Zero(t, u.EstimateCost("unknown-model"))
	assert.NotPanics(t, func() { u.LogCost("claude-sonnet-4-5-20250929", "analysis") })
}
