package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIChatWithKey(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hi there."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	p, err := NewOpenAI(WithBaseURL(server.URL), WithModel("gpt-4o-mini"), WithTemperature(0.7), WithMaxTokens(150))
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}

	resp, err := p.ChatWithKey(context.Background(), "sk-test", &ChatRequest{
		Messages: []Message{
			NewSystemMessage("You are RUVO."),
			NewUserMessage("Hello"),
			NewAssistantMessage("Hi!"),
			NewUserMessage("How are you?"),
		},
	})
	if err != nil {
		t.Fatalf("ChatWithKey: %v", err)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("Expected per-request key, got %q", gotAuth)
	}
	if resp.Message.Content != "Hi there." {
		t.Errorf("Unexpected content: %q", resp.Message.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("Expected 15 tokens, got %d", resp.Usage.TotalTokens)
	}

	msgs, _ := gotBody["messages"].([]interface{})
	if len(msgs) != 4 {
		t.Fatalf("Expected 4 messages, got %d", len(msgs))
	}
	roles := []string{"system", "user", "assistant", "user"}
	for i, m := range msgs {
		if got := m.(map[string]interface{})["role"]; got != roles[i] {
			t.Errorf("message %d role = %v, want %s", i, got, roles[i])
		}
	}
	if gotBody["model"] != "gpt-4o-mini" {
		t.Errorf("Unexpected model %v", gotBody["model"])
	}
}

func TestOpenAIRateLimitIsCredentialError(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "Rate limit reached", "type": "requests", "code": "rate_limit_exceeded"}}`))
	}))
	defer server.Close()

	p, _ := NewOpenAI(WithBaseURL(server.URL))
	_, err := p.ChatWithKey(context.Background(), "sk-test", &ChatRequest{
		Messages: []Message{NewUserMessage("Hello")},
	})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != 429 || !apiErr.IsCredential() {
		t.Errorf("Expected credential-class 429, got %+v", apiErr)
	}
	if hits != 1 {
		t.Errorf("SDK retries should be disabled, got %d requests", hits)
	}
}

func TestOpenAIRequiresKey(t *testing.T) {
	p, _ := NewOpenAI()
	if _, err := p.Chat(context.Background(), &ChatRequest{}); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("Expected ErrNoAPIKey, got %v", err)
	}
	if _, err := p.ChatWithKey(context.Background(), "", &ChatRequest{}); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("Expected ErrNoAPIKey, got %v", err)
	}
}
