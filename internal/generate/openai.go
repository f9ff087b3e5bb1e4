package generate

import (
	"context"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/example/fortify/internal/config"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint. The
// default base URL is Nebius AI Studio.
type OpenAI struct {
	client openai.Client
}

var _ Backend = (*OpenAI)(nil)

func NewOpenAI(apiKey, baseURL string, hc *http.Client) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if hc != nil {
		opts = append(opts, option.WithHTTPClient(hc))
	}
	return &OpenAI{client: openai.NewClient(opts...)}
}

// BackendFromConfig returns nil when no API key is configured, which puts the
// generator in fallback-only mode.
func BackendFromConfig(cfg config.Generator) Backend {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}
	return NewOpenAI(cfg.APIKey, cfg.BaseURL, &http.Client{Timeout: cfg.Timeout})
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.Prompt),
		},
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", &BackendError{Op: "chat completion", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &BackendError{Op: "chat completion", Err: ErrEmptyResponse}
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &BackendError{Op: "chat completion", Err: ErrEmptyResponse}
	}
	return text, nil
}
