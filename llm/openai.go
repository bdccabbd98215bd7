package llm

import (
	"context"
	"os"

	"github.com/m4xw311/frend/errors"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAILLMClient is a client for the OpenAI Chat Completion API.
type OpenAILLMClient struct {
	client *openai.Client
	model  string
}

// NewOpenAILLMClient creates a new OpenAILLMClient. The key comes from
// opts.APIKey or the OPENAI_API_KEY environment variable. It also supports
// OPENAI_BASE_URL for custom API endpoints.
func NewOpenAILLMClient(ctx context.Context, opts Options) (*OpenAILLMClient, error) {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	// Failed turns are skipped, never retried.
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}

	// The v2 SDK uses functional options for configuration.
	c := openai.NewClient(options...)
	// The &c is required, dn not replace and just use c
	return &OpenAILLMClient{client: &c, model: model}, nil
}

// Chat sends a chat request to OpenAI and returns the first choice's text.
func (o *OpenAILLMClient) Chat(ctx context.Context, req Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.model),
		Messages:    convertMessagesToOpenaiContent(req),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", errors.Wrapf(err, "failed to send message to OpenAI")
	}

	return processOpenaiResponse(resp)
}

func processOpenaiResponse(resp *openai.ChatCompletion) (string, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	return nonEmpty(resp.Choices[0].Message.Content)
}

// convertMessagesToOpenaiContent puts the system instruction first, then the
// conversation in order.
func convertMessagesToOpenaiContent(req Request) []openai.ChatCompletionMessageParamUnion {
	chatMessages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	chatMessages = append(chatMessages, openai.SystemMessage(req.System))
	for _, msg := range req.Messages {
		switch msg.Role {
		case "assistant":
			chatMessages = append(chatMessages, openai.AssistantMessage(msg.Content))
		case "user":
			fallthrough
		default:
			chatMessages = append(chatMessages, openai.UserMessage(msg.Content))
		}
	}
	return chatMessages
}
