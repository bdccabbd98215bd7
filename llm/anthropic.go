package llm

import (
	"context"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m4xw311/frend/errors"
)

// AnthropicLLMClient is a client for the Anthropic API.
type AnthropicLLMClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicLLMClient creates a new AnthropicLLMClient. The key comes from
// opts.APIKey or the ANTHROPIC_API_KEY environment variable.
func NewAnthropicLLMClient(ctx context.Context, opts Options) (*AnthropicLLMClient, error) {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}
	if opts.Model == "" {
		return nil, errors.New("a model is required for the anthropic provider")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		options = append(options, option.WithBaseURL(opts.BaseURL))
	}
	client := anthropic.NewClient(options...)

	return &AnthropicLLMClient{
		client: &client,
		model:  opts.Model,
	}, nil
}

// Chat sends a chat request to the Anthropic API.
func (a *AnthropicLLMClient) Chat(ctx context.Context, req Request) (string, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   maxTokens,
		Messages:    convertMessagesToAnthropicMessages(req.Messages),
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System},
		}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", errors.Wrapf(err, "failed to send message to Anthropic")
	}

	return processAnthropicResponse(resp)
}

// convertMessagesToAnthropicMessages converts the conversation into strictly
// alternating Anthropic messages that end on a user turn.
func convertMessagesToAnthropicMessages(messages []Message) []anthropic.MessageParam {
	var anthropicMessages []anthropic.MessageParam
	for _, msg := range alternate(messages) {
		switch msg.Role {
		case "assistant":
			anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		default:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		}
	}
	return anthropicMessages
}

// processAnthropicResponse concatenates the text blocks of the reply.
func processAnthropicResponse(resp *anthropic.Message) (string, error) {
	if resp == nil || len(resp.Content) == 0 {
		return "", ErrEmptyReply
	}

	var responseContent string
	for _, content := range resp.Content {
		switch c := content.AsAny().(type) {
		case anthropic.TextBlock:
			responseContent += c.Text
		}
	}
	return nonEmpty(responseContent)
}
