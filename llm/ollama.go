package llm

import (
	"context"
	"os"

	"github.com/m4xw311/frend/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaLLMClient talks to a local or remote Ollama server through
// langchaingo.
type OllamaLLMClient struct {
	model llms.Model
}

// NewOllamaLLMClient creates a new OllamaLLMClient. The server URL comes
// from opts.BaseURL, then OLLAMA_HOST, then the Ollama default.
func NewOllamaLLMClient(ctx context.Context, opts Options) (*OllamaLLMClient, error) {
	if opts.Model == "" {
		return nil, errors.New("a model is required for the ollama provider")
	}
	serverURL := opts.BaseURL
	if serverURL == "" {
		serverURL = os.Getenv("OLLAMA_HOST")
	}
	if serverURL == "" {
		serverURL = "http://localhost:11434"
	}

	model, err := ollama.New(
		ollama.WithServerURL(serverURL),
		ollama.WithModel(opts.Model),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create ollama client")
	}
	return &OllamaLLMClient{model: model}, nil
}

// Chat sends a chat request to Ollama.
func (o *OllamaLLMClient) Chat(ctx context.Context, req Request) (string, error) {
	resp, err := o.model.GenerateContent(ctx, convertMessagesToLangchain(req),
		llms.WithTemperature(req.Temperature),
		llms.WithMaxTokens(req.MaxTokens),
	)
	if err != nil {
		return "", errors.Wrapf(err, "failed to send message to Ollama")
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	return nonEmpty(resp.Choices[0].Content)
}

func convertMessagesToLangchain(req Request) []llms.MessageContent {
	contents := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.System != "" {
		contents = append(contents, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	for _, msg := range req.Messages {
		kind := llms.ChatMessageTypeHuman
		if msg.Role == "assistant" {
			kind = llms.ChatMessageTypeAI
		}
		contents = append(contents, llms.TextParts(kind, msg.Content))
	}
	return contents
}
