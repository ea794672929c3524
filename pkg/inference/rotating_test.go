package inference

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/teslashibe/go-ruvo/pkg/keypool"
)

func TestRotatingRotatesOnRateLimit(t *testing.T) {
	pool, err := keypool.New([]string{"key-aaaaaaaa", "key-bbbbbbbb"})
	if err != nil {
		t.Fatal(err)
	}

	mock := NewMock()
	mock.ChatFunc = func(ctx context.Context, key string, req *ChatRequest) (*ChatResponse, error) {
		if key == "key-aaaaaaaa" {
			return nil, &APIError{StatusCode: 429, Message: "quota", Provider: "mock"}
		}
		return &ChatResponse{Message: NewAssistantMessage("from B")}, nil
	}

	p := NewRotating(mock, pool)
	resp, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{NewUserMessage("hi")}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "from B" {
		t.Errorf("Unexpected reply %q", resp.Message.Content)
	}

	recs := pool.Records()
	if recs[0].Active {
		t.Error("Expected A invalidated")
	}
	if recs[0].UsageCount != 0 || recs[1].UsageCount != 1 {
		t.Errorf("Expected usage A=0 B=1, got A=%d B=%d", recs[0].UsageCount, recs[1].UsageCount)
	}

	calls := mock.Calls()
	if len(calls) != 2 || calls[0].Key != "key-aaaaaaaa" || calls[1].Key != "key-bbbbbbbb" {
		t.Errorf("Unexpected call sequence: %+v", calls)
	}
}

func TestRotatingAttemptTimeoutIsTransient(t *testing.T) {
	pool, _ := keypool.New([]string{"key-aaaaaaaa", "key-bbbbbbbb"},
		keypool.WithTransientRetries(0, 0))

	mock := NewMock()
	mock.ChatFunc = func(ctx context.Context, key string, req *ChatRequest) (*ChatResponse, error) {
		if key == "key-aaaaaaaa" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &ChatResponse{Message: NewAssistantMessage("fast")}, nil
	}

	p := NewRotating(mock, pool)
	p.AttemptTimeout = 20 * time.Millisecond

	resp, err := p.Chat(context.Background(), &ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "fast" {
		t.Errorf("Unexpected reply %q", resp.Message.Content)
	}
	if !pool.Records()[0].Active {
		t.Error("A timeout must not invalidate the key")
	}
}

func TestRotatingAllFail(t *testing.T) {
	pool, _ := keypool.New([]string{"key-aaaaaaaa", "key-bbbbbbbb"})
	mock := WithError(&APIError{StatusCode: 401, Message: "expired", Provider: "mock"})

	_, err := NewRotating(mock, pool).Chat(context.Background(), &ChatRequest{})

	var rerr *keypool.RotationError
	if !errors.As(err, &rerr) {
		t.Fatalf("Expected RotationError, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.IsUnauthorized() {
		t.Errorf("Expected last APIError to unwrap, got %v", err)
	}
	if mock.CallCount("Chat") != 2 {
		t.Errorf("Expected 2 calls, got %d", mock.CallCount("Chat"))
	}
}

func TestRotatingRetriesEmptyReply(t *testing.T) {
	pool, _ := keypool.New([]string{"key-aaaaaaaa", "key-bbbbbbbb"},
		keypool.WithTransientRetries(2, time.Millisecond))

	tests := []struct {
		name  string
		first error
	}{
		{"empty", WrapError("mock", ErrEmptyResponse)},
		{"no choices", WrapError("mock", fmt.Errorf("%w: no choices returned", ErrMalformedResponse))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			mock := NewMock()
			mock.ChatFunc = func(ctx context.Context, key string, req *ChatRequest) (*ChatResponse, error) {
				calls++
				if calls == 1 {
					return nil, tt.first
				}
				return &ChatResponse{Message: NewAssistantMessage("second try")}, nil
			}

			resp, err := NewRotating(mock, pool).Chat(context.Background(), &ChatRequest{})
			if err != nil {
				t.Fatalf("Chat: %v", err)
			}
			if resp.Message.Content != "second try" || calls != 2 {
				t.Errorf("Expected a retry, got %q after %d calls", resp.Message.Content, calls)
			}
			for _, r := range pool.Records() {
				if !r.Active {
					t.Errorf("%s should stay active", r.Credential)
				}
			}
		})
	}
}

func TestProviderErrorRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  *ProviderError
		want bool
	}{
		{"empty", &ProviderError{Provider: "x", Err: ErrEmptyResponse}, true},
		{"malformed", &ProviderError{Provider: "x", Err: fmt.Errorf("%w: decode", ErrMalformedResponse)}, true},
		{"server", &ProviderError{Provider: "x", Err: &APIError{StatusCode: 503}}, true},
		{"bad request", &ProviderError{Provider: "x", Err: &APIError{StatusCode: 400}}, false},
		{"plain", &ProviderError{Provider: "x", Err: errors.New("boom")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.IsRetryable(); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
