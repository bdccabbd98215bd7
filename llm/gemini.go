package llm

import (
	"context"
	"os"

	"github.com/google/generative-ai-go/genai"
	"github.com/m4xw311/frend/errors"
	"google.golang.org/api/option"
)

// GeminiLLMClient is a client for the Google Gemini API.
type GeminiLLMClient struct {
	client *genai.Client
	model  string
}

// NewGeminiLLMClient creates a new GeminiLLMClient. The key comes from
// opts.APIKey or the GEMINI_API_KEY environment variable.
func NewGeminiLLMClient(ctx context.Context, opts Options) (*GeminiLLMClient, error) {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}
	if opts.Model == "" {
		return nil, errors.New("a model is required for the gemini provider")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	return &GeminiLLMClient{
		client: client,
		model:  opts.Model,
	}, nil
}

// Chat sends a chat request to the Gemini API. Each call gets its own model
// handle because the system instruction differs per persona.
func (g *GeminiLLMClient) Chat(ctx context.Context, req Request) (string, error) {
	history := convertMessagesToGeminiContent(req.Messages)
	if len(history) == 0 {
		return "", errors.New("gemini request has no messages")
	}

	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}

	// The last message is the new prompt.
	lastMessage := history[len(history)-1]

	chatSession := model.StartChat()
	chatSession.History = history[:len(history)-1]
	resp, err := chatSession.SendMessage(ctx, lastMessage.Parts...)
	if err != nil {
		return "", errors.Wrapf(err, "failed to send message to Gemini")
	}

	return processGeminiResponse(resp)
}

// convertMessagesToGeminiContent converts the conversation to Gemini's
// user/model contents.
func convertMessagesToGeminiContent(messages []Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range alternate(messages) {
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	return contents
}

func processGeminiResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyReply
	}

	var responseContent string
	for _, part := range resp.Candidates[0].Content.Parts {
		if v, ok := part.(genai.Text); ok {
			responseContent += string(v)
		}
	}
	return nonEmpty(responseContent)
}
