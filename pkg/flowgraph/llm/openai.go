package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// DefaultBaseURL is the OpenRouter endpoint, which fronts many providers
// behind the OpenAI wire protocol.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// OpenAIOption configures an OpenAIClient or OpenAIEmbedder.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	maxRetries  int
	timeout     time.Duration
	dimensions  int
	httpClient  *http.Client
}

// WithAPIKey sets the bearer token.
func WithAPIKey(key string) OpenAIOption {
	return func(c *openAIConfig) { c.apiKey = key }
}

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = url }
}

// WithModel sets the default model for requests that name none.
func WithModel(model string) OpenAIOption {
	return func(c *openAIConfig) { c.model = model }
}

// WithMaxTokens sets the default completion budget.
func WithMaxTokens(n int) OpenAIOption {
	return func(c *openAIConfig) { c.maxTokens = n }
}

// WithDefaultTemperature sets the temperature used when a request leaves it nil.
func WithDefaultTemperature(t float64) OpenAIOption {
	return func(c *openAIConfig) { c.temperature = t }
}

// WithMaxRetries sets how often the SDK retries 429 and 5xx responses.
func WithMaxRetries(n int) OpenAIOption {
	return func(c *openAIConfig) { c.maxRetries = n }
}

// WithTimeout bounds each HTTP attempt.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(c *openAIConfig) { c.timeout = d }
}

// WithDimensions requests embeddings of a specific length.
func WithDimensions(n int) OpenAIOption {
	return func(c *openAIConfig) { c.dimensions = n }
}

// WithHTTPClient replaces the transport. Tests point it at httptest servers.
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *openAIConfig) { c.httpClient = hc }
}

func newOpenAIConfig(defaultModel string, opts []OpenAIOption) openAIConfig {
	cfg := openAIConfig{
		baseURL:     DefaultBaseURL,
		model:       defaultModel,
		maxTokens:   4096,
		temperature: 0.3,
		maxRetries:  2,
		timeout:     60 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c openAIConfig) requestOptions() []option.RequestOption {
	opts := []option.RequestOption{
		option.WithBaseURL(c.baseURL),
		option.WithMaxRetries(c.maxRetries),
	}
	if c.apiKey != "" {
		opts = append(opts, option.WithAPIKey(c.apiKey))
	}
	if c.timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(c.timeout))
	}
	if c.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(c.httpClient))
	}
	return opts
}

// OpenAIClient is a Client for OpenAI-compatible chat completion APIs.
type OpenAIClient struct {
	client openai.Client
	cfg    openAIConfig
}

// NewOpenAIClient builds a chat client. The default model is
// "anthropic/claude-3.5-sonnet" as routed by OpenRouter.
func NewOpenAIClient(opts ...OpenAIOption) *OpenAIClient {
	cfg := newOpenAIConfig("anthropic/claude-3.5-sonnet", opts)
	return &OpenAIClient{
		client: openai.NewClient(cfg.requestOptions()...),
		cfg:    cfg,
	}
}

// Model returns the default model.
func (c *OpenAIClient) Model() string {
	return c.cfg.model
}

func (c *OpenAIClient) params(req CompletionRequest) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = c.cfg.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.maxTokens
	}
	temperature := c.cfg.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		Messages:    messages,
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(temperature),
	}
	if req.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, c.params(req))
	if err != nil {
		return nil, wrapProviderError("complete", err)
	}
	if len(resp.Choices) == 0 {
		return nil, NewError("complete", ErrEmptyResponse, true)
	}

	choice := resp.Choices[0]
	return &CompletionResponse{
		Content: choice.Message.Content,
		Usage: TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
		Model:        resp.Model,
		FinishReason: choice.FinishReason,
		Duration:     time.Since(start),
	}, nil
}

// Stream implements Client.
func (c *OpenAIClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	params := c.params(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, wrapProviderError("stream", err)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()

		send := func(chunk StreamChunk) bool {
			select {
			case out <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var usage *TokenUsage
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = &TokenUsage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:  int(chunk.Usage.TotalTokens),
				}
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(StreamChunk{Content: chunk.Choices[0].Delta.Content}) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			send(StreamChunk{Done: true, Error: wrapProviderError("stream", err)})
			return
		}
		send(StreamChunk{Done: true, Usage: usage})
	}()
	return out, nil
}

// wrapProviderError classifies SDK errors. Rate limits and server errors
// are retryable; cancellation is returned unwrapped.
func wrapProviderError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		retryable := apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
		return NewError(op, err, retryable)
	}
	return NewError(op, err, true)
}
