package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"otto/internal/agent/ports"
	"otto/internal/agent/ports/mocks"
	ottoerrors "otto/internal/errors"
)

func fastRetryConfig() ottoerrors.RetryConfig {
	return ottoerrors.RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		JitterFactor: 0,
	}
}

func testBreaker() *ottoerrors.CircuitBreaker {
	return ottoerrors.NewCircuitBreaker("test", ottoerrors.CircuitBreakerConfig{
		FailureThreshold: 100,
		SuccessThreshold: 1,
		Timeout:          time.Millisecond,
	}, nil)
}

func validChatRequest() ports.ChatRequest {
	return ports.ChatRequest{
		Messages: []ports.Message{{Role: "user", Content: "hi"}},
		Options:  ports.ChatOptions{Temperature: 0.2, MaxTokens: 100},
	}
}

func TestRetryClientRecoversFromTransientFailures(t *testing.T) {
	calls := 0
	underlying := &mocks.MockReasoningClient{
		ChatFunc: func(ctx context.Context, req ports.ChatRequest) (*ports.ChatResponse, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("503 service unavailable")
			}
			return &ports.ChatResponse{Content: "recovered"}, nil
		},
	}
	client := NewRetryClient(underlying, fastRetryConfig(), testBreaker(), nil)

	resp, err := client.Chat(context.Background(), validChatRequest())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "recovered" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryClientStopsOnPermanentError(t *testing.T) {
	calls := 0
	underlying := &mocks.MockReasoningClient{
		ChatFunc: func(ctx context.Context, req ports.ChatRequest) (*ports.ChatResponse, error) {
			calls++
			return nil, errors.New("401 unauthorized")
		},
	}
	client := NewRetryClient(underlying, fastRetryConfig(), testBreaker(), nil)

	if _, err := client.Chat(context.Background(), validChatRequest()); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent error must not retry, got %d attempts", calls)
	}
}

func TestRetryClientRejectsInvalidOptionsWithoutRetrying(t *testing.T) {
	calls := 0
	underlying := &mocks.MockReasoningClient{
		ChatFunc: func(ctx context.Context, req ports.ChatRequest) (*ports.ChatResponse, error) {
			calls++
			return &ports.ChatResponse{Content: "ok"}, nil
		},
	}
	client := NewRetryClient(underlying, fastRetryConfig(), testBreaker(), nil)

	req := validChatRequest()
	req.Options.Temperature = 5
	if _, err := client.Chat(context.Background(), req); err == nil {
		t.Fatal("expected option validation error")
	}
	if calls != 0 {
		t.Errorf("invalid options must never reach the backend, got %d call(s)", calls)
	}
}

func TestRetryClientDelegatesValidateConfig(t *testing.T) {
	wantErr := errors.New("bad config")
	underlying := &mocks.MockReasoningClient{
		ValidateConfigFunc: func() error { return wantErr },
	}
	client := NewRetryClient(underlying, fastRetryConfig(), testBreaker(), nil)
	if err := client.ValidateConfig(); !errors.Is(err, wantErr) {
		t.Errorf("expected %v, got %v", wantErr, err)
	}
}

func TestClassifyBackendError(t *testing.T) {
	cases := []struct {
		err       error
		transient bool
		permanent bool
	}{
		{errors.New("429 too many requests"), true, false},
		{errors.New("rate limit exceeded"), true, false},
		{errors.New("502 bad gateway"), true, false},
		{errors.New("context deadline exceeded"), true, false},
		{errors.New("connection refused"), true, false},
		{errors.New("401 unauthorized"), false, true},
		{errors.New("404 not found"), false, true},
	}
	for _, tc := range cases {
		classified := classifyBackendError(tc.err)
		if got := ottoerrors.IsTransient(classified); got != tc.transient {
			t.Errorf("%v: IsTransient = %v, want %v", tc.err, got, tc.transient)
		}
		if got := ottoerrors.IsPermanent(classified); got != tc.permanent {
			t.Errorf("%v: IsPermanent = %v, want %v", tc.err, got, tc.permanent)
		}
	}
}
