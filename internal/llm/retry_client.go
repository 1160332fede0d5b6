package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"otto/internal/agent/ports"
	ottoerrors "otto/internal/errors"
	"otto/internal/logging"
)

// retryClient wraps a reasoning client with retry logic and a circuit
// breaker.
type retryClient struct {
	underlying     ports.ReasoningClient
	retryConfig    ottoerrors.RetryConfig
	circuitBreaker *ottoerrors.CircuitBreaker
	logger         logging.Logger
}

var _ ports.ReasoningClient = (*retryClient)(nil)

// NewRetryClient wraps a reasoning client with retry and circuit breaker
// logic.
func NewRetryClient(client ports.ReasoningClient, retryConfig ottoerrors.RetryConfig, circuitBreaker *ottoerrors.CircuitBreaker, logger logging.Logger) ports.ReasoningClient {
	return &retryClient{
		underlying:     client,
		retryConfig:    retryConfig,
		circuitBreaker: circuitBreaker,
		logger:         logging.OrNop(logger),
	}
}

// WrapWithRetry wraps a client with retry logic and a fresh circuit breaker.
func WrapWithRetry(client ports.ReasoningClient, retryConfig ottoerrors.RetryConfig, breakerConfig ottoerrors.CircuitBreakerConfig, logger logging.Logger) ports.ReasoningClient {
	breaker := ottoerrors.NewCircuitBreaker("reasoning", breakerConfig, logger)
	return NewRetryClient(client, retryConfig, breaker, logger)
}

func (c *retryClient) Chat(ctx context.Context, req ports.ChatRequest) (*ports.ChatResponse, error) {
	// Caller errors are not worth a retry cycle.
	if err := ports.ValidateOptions(req.Options); err != nil {
		return nil, fmt.Errorf("invalid chat options: %w", err)
	}
	start := time.Now()

	resp, err := ottoerrors.RetryWithResult(ctx, c.retryConfig, func(ctx context.Context) (*ports.ChatResponse, error) {
		return ottoerrors.ExecuteFunc(c.circuitBreaker, ctx, func(ctx context.Context) (*ports.ChatResponse, error) {
			response, err := c.underlying.Chat(ctx, req)
			if err != nil {
				return nil, classifyBackendError(err)
			}
			return response, nil
		})
	}, c.logger)

	duration := time.Since(start)
	if err != nil {
		c.logger.Warn("reasoning request failed after retries (took %v): %v", duration, err)
		if ottoerrors.IsDegraded(err) {
			return nil, fmt.Errorf("%s", ottoerrors.FormatForModel(err))
		}
		return nil, fmt.Errorf("%s Retried %d times over %v.",
			ottoerrors.FormatForModel(err), c.retryConfig.MaxAttempts, duration.Round(time.Second))
	}
	if duration > 5*time.Second {
		c.logger.Debug("reasoning request succeeded after %v", duration)
	}
	return resp, nil
}

// ChatStream is not retried: replaying a stream would duplicate partial
// output. The circuit breaker still guards the initial connection.
func (c *retryClient) ChatStream(ctx context.Context, req ports.ChatRequest) (<-chan ports.StreamEvent, error) {
	if err := ports.ValidateOptions(req.Options); err != nil {
		return nil, fmt.Errorf("invalid chat options: %w", err)
	}
	events, err := ottoerrors.ExecuteFunc(c.circuitBreaker, ctx, func(ctx context.Context) (<-chan ports.StreamEvent, error) {
		ch, err := c.underlying.ChatStream(ctx, req)
		if err != nil {
			return nil, classifyBackendError(err)
		}
		return ch, nil
	})
	if err != nil {
		if ottoerrors.IsDegraded(err) {
			return nil, fmt.Errorf("%s", ottoerrors.FormatForModel(err))
		}
		return nil, err
	}
	return events, nil
}

func (c *retryClient) Models(ctx context.Context) ([]string, error) {
	return ottoerrors.RetryWithResult(ctx, c.retryConfig, func(ctx context.Context) ([]string, error) {
		models, err := c.underlying.Models(ctx)
		if err != nil {
			return nil, classifyBackendError(err)
		}
		return models, nil
	}, c.logger)
}

func (c *retryClient) ValidateConfig() error {
	return c.underlying.ValidateConfig()
}

// classifyBackendError maps backend failures onto the transient/permanent
// taxonomy so the retry loop makes the right call.
func classifyBackendError(err error) error {
	if err == nil {
		return nil
	}
	lower := strings.ToLower(err.Error())

	switch {
	case strings.Contains(lower, "429"), strings.Contains(lower, "rate limit"):
		return ottoerrors.NewTransientError(err, "API rate limit reached. Retrying with exponential backoff.")
	case strings.Contains(lower, "500"), strings.Contains(lower, "internal server error"),
		strings.Contains(lower, "502"), strings.Contains(lower, "bad gateway"),
		strings.Contains(lower, "503"), strings.Contains(lower, "service unavailable"),
		strings.Contains(lower, "504"), strings.Contains(lower, "gateway timeout"):
		return ottoerrors.NewTransientError(err, "Backend server error. Retrying request.")
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline exceeded"),
		strings.Contains(lower, "connection refused"), strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "broken pipe"):
		return ottoerrors.NewTransientError(err, "Network failure. Retrying request.")
	case strings.Contains(lower, "401"), strings.Contains(lower, "unauthorized"):
		return ottoerrors.NewPermanentError(err, "Authentication failed. Check the API key configuration.")
	case strings.Contains(lower, "403"), strings.Contains(lower, "forbidden"):
		return ottoerrors.NewPermanentError(err, "Permission denied for this model or resource.")
	case strings.Contains(lower, "404"), strings.Contains(lower, "not found"):
		return ottoerrors.NewPermanentError(err, "Model or endpoint not found. Verify the model name.")
	case strings.Contains(lower, "400"), strings.Contains(lower, "bad request"):
		return ottoerrors.NewPermanentError(err, "Invalid request parameters.")
	}
	return err
}
