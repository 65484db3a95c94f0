// Package vision wraps the Anthropic API behind the single analysis call the
// pipeline consumes. Stage identity lives entirely in the prompt; the
// pipeline treats the model, prompt, and response schema as opaque.
package vision

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client performs one analysis call against the vision model.
type Client interface {
	Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResponse, error)
}

// AnalysisRequest describes one stage's analysis call.
type AnalysisRequest struct {
	System   string
	Prompt   string
	ImageURL string // optional; stages past the first work from prior artifacts
}

// AnalysisResponse carries the raw model output. Callers expect the text to
// be a JSON document and fail their stage if it is not.
type AnalysisResponse struct {
	Text  string
	Usage TokenUsage
}

// TokenUsage tracks token consumption for cost logging.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// LogCost logs token usage with structured zap fields.
func (u TokenUsage) LogCost(model, stage string) {
	zap.L().Info("vision cost",
		zap.String("model", model),
		zap.String("stage", stage),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
	)
}

// Config holds client settings.
type Config struct {
	Key            string
	Model          string
	MaxTokens      int64
	RequestsPerMin float64
}

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client    sdk.Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
}

// NewClient creates a vision client backed by the SDK. Calls are paced by a
// shared rate limiter so concurrent stages don't trip API limits.
func NewClient(cfg Config) Client {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	rpm := cfg.RequestsPerMin
	if rpm <= 0 {
		rpm = 50
	}
	return &sdkClient{
		client:    sdk.NewClient(option.WithAPIKey(cfg.Key)),
		model:     cfg.Model,
		maxTokens: maxTokens,
		limiter:   rate.NewLimiter(rate.Limit(rpm/60.0), 1),
	}
}

func (c *sdkClient) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "vision: rate limit wait")
	}

	blocks := []sdk.ContentBlockParamUnion{}
	if req.ImageURL != "" {
		blocks = append(blocks, sdk.NewImageBlock(sdk.URLImageSourceParam{URL: req.ImageURL}))
	}
	blocks = append(blocks, sdk.NewTextBlock(req.Prompt))

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(blocks...),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "vision: create message")
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &AnalysisResponse{
		Text: stripFences(text.String()),
		Usage: TokenUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}, nil
}

// stripFences removes a markdown code fence around a JSON response, which
// the model emits despite instructions often enough to handle here.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
