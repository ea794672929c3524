package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const providerOpenAI = "openai"

// OpenAI is the hosted chat completion provider built on the official SDK.
// The SDK's own retries are disabled; key rotation decides what to retry.
type OpenAI struct {
	client openai.Client
	config *Config
	logger *slog.Logger
}

// NewOpenAI creates an OpenAI provider. The API key may be omitted when the
// provider is only used through ChatWithKey.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientOpts := []option.RequestOption{
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAI{
		client: openai.NewClient(clientOpts...),
		config: cfg,
		logger: cfg.Logger.With("component", "inference.openai"),
	}, nil
}

// Chat generates a reply using the configured key.
func (o *OpenAI) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if o.config.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	return o.chat(ctx, req)
}

// ChatWithKey generates a reply authenticated with key.
func (o *OpenAI) ChatWithKey(ctx context.Context, key string, req *ChatRequest) (*ChatResponse, error) {
	if key == "" {
		return nil, ErrNoAPIKey
	}
	return o.chat(ctx, req, option.WithAPIKey(key))
}

func (o *OpenAI) chat(ctx context.Context, req *ChatRequest, opts ...option.RequestOption) (*ChatResponse, error) {
	start := time.Now()

	resp, err := o.client.Chat.Completions.New(ctx, o.buildParams(req), opts...)
	if err != nil {
		return nil, o.convertError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, WrapError(providerOpenAI, fmt.Errorf("%w: no choices returned", ErrMalformedResponse))
	}

	choice := resp.Choices[0]
	if strings.TrimSpace(choice.Message.Content) == "" {
		return nil, WrapError(providerOpenAI, ErrEmptyResponse)
	}

	o.logger.Debug("completion",
		"model", resp.Model,
		"tokens", resp.Usage.TotalTokens,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return &ChatResponse{
		Message:      NewAssistantMessage(choice.Message.Content),
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		Model:     resp.Model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

func (o *OpenAI) buildParams(req *ChatRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	model := req.Model
	if model == "" {
		model = o.config.Model
	}

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(model),
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = o.config.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	temp := req.Temperature
	if temp == 0 {
		temp = o.config.Temperature
	}
	if temp > 0 {
		params.Temperature = openai.Float(temp)
	}

	if req.TopP > 0 {
		params.TopP = openai.Float(req.TopP)
	}

	return params
}

// convertError maps SDK errors onto APIError so status helpers work.
func (o *OpenAI) convertError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &APIError{
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
			Code:       apiErr.Code,
			Provider:   providerOpenAI,
		}
	}
	return WrapError(providerOpenAI, err)
}

// Health lists models with the configured key.
func (o *OpenAI) Health(ctx context.Context) error {
	if o.config.APIKey == "" {
		return ErrNoAPIKey
	}
	return o.HealthWithKey(ctx, o.config.APIKey)
}

// HealthWithKey lists models with key.
func (o *OpenAI) HealthWithKey(ctx context.Context, key string) error {
	_, err := o.client.Models.List(ctx, option.WithAPIKey(key))
	if err != nil {
		return o.convertError(err)
	}
	return nil
}

// Close is a no-op; the SDK holds no resources beyond the HTTP client.
func (o *OpenAI) Close() error {
	return nil
}

// Verify OpenAI implements KeyedProvider at compile time.
var _ KeyedProvider = (*OpenAI)(nil)
