package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient interface for mocking in tests
type OpenAIClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ChatTransport dispatches requests to one OpenAI-compatible provider
// endpoint and classifies every failure as transient or permanent.
type ChatTransport struct {
	client   OpenAIClient
	model    string
	provider string
}

// NewChatTransport creates a transport for one provider endpoint. baseURL
// may be empty for the default OpenAI endpoint.
func NewChatTransport(provider, apiKey, baseURL, model string) (*ChatTransport, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: provider %s", ErrMissingAPIKey, provider)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &ChatTransport{
		client:   openai.NewClientWithConfig(cfg),
		model:    model,
		provider: provider,
	}, nil
}

// NewChatTransportWithClient creates a transport using a custom client
// implementation, typically for testing.
func NewChatTransportWithClient(provider, model string, client OpenAIClient) *ChatTransport {
	return &ChatTransport{client: client, model: model, provider: provider}
}

// Provider returns the provider name this transport dispatches to.
func (t *ChatTransport) Provider() string { return t.provider }

// Complete sends the request text as a single user message and returns the
// trimmed response body. Every error comes back classified.
func (t *ChatTransport) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: t.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: req.Text,
			},
		},
	})
	if err != nil {
		classified := ClassifyProviderError(err)
		slog.Debug("Provider call failed",
			"provider", t.provider,
			"task", req.TaskID,
			"error", classified)
		return "", classified
	}

	if len(resp.Choices) == 0 {
		return "", &PermanentError{
			Kind: KindMalformedResponse,
			Err:  fmt.Errorf("provider %s returned no choices", t.provider),
		}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ClassifyProviderError maps a raw provider error onto the transient or
// permanent failure taxonomy. Already-classified errors pass through
// unchanged, as do context cancellations (the caller gave up, the provider
// did nothing wrong).
func ClassifyProviderError(err error) error {
	if err == nil {
		return nil
	}

	var te *TransientError
	var pe *PermanentError
	if errors.As(err, &te) || errors.As(err, &pe) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Kind: KindTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	// Network errors, connection resets and anything else unrecognized are
	// worth a retry.
	return &TransientError{Kind: KindUnknown, Err: err}
}

func classifyAPIError(apiErr *openai.APIError, err error) error {
	switch apiErr.HTTPStatusCode {
	case 429:
		transient := &TransientError{Kind: KindRateLimited, Err: err}
		if hint, ok := ParseRetryAfter(apiErr.Message); ok {
			transient.RetryAfter = hint
		}
		return transient
	case 503:
		return &TransientError{Kind: KindOverloaded, Err: err}
	case 500, 502, 504:
		return &TransientError{Kind: KindServerError, Err: err}
	case 401, 403:
		return &PermanentError{Kind: KindUnauthorized, Err: err}
	case 400, 404, 422:
		return &PermanentError{Kind: KindMalformedRequest, Err: err}
	case 413, 415:
		return &PermanentError{Kind: KindUnsupportedContent, Err: err}
	}

	if apiErr.HTTPStatusCode >= 500 {
		return &TransientError{Kind: KindServerError, Err: err}
	}
	if apiErr.HTTPStatusCode >= 400 {
		return &PermanentError{Kind: KindMalformedRequest, Err: err}
	}
	return &TransientError{Kind: KindUnknown, Err: err}
}
