package narration

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/example/negotiation-scheduler/internal/negotiation"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = openai.ChatModelGPT4oMini

// OpenAI narrates slots with the OpenAI Chat Completions API.
type OpenAI struct {
	client *openai.Client
	opts   Options
}

var _ negotiation.Explainer = (*OpenAI)(nil)

// NewOpenAI creates a narrator using the official client.
func NewOpenAI(optFns ...func(o *Options)) *OpenAI {
	opts := defaultOptions(DefaultOpenAIModel)
	for _, fn := range optFns {
		fn(&opts)
	}

	clientOpts := []option.RequestOption{option.WithMaxRetries(opts.MaxRetries)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := openai.NewClient(clientOpts...)

	return &OpenAI{client: &client, opts: opts}
}

// Explain implements negotiation.Explainer.
func (o *OpenAI) Explain(ctx context.Context, input negotiation.ExplainInput) (string, error) {
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.opts.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(Prompt(input)),
		},
		Temperature:         openai.Float(o.opts.Temperature),
		MaxCompletionTokens: openai.Int(o.opts.MaxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmpty
	}
	return finish(resp.Choices[0].Message.Content)
}
