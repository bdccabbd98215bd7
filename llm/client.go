package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/m4xw311/frend/errors"
)

// ErrEmptyReply is returned when a provider answers without any text in its
// first candidate.
var ErrEmptyReply = errors.Sentinel("provider returned an empty reply")

// Message is a role-tagged chat message: "user" or "assistant".
type Message struct {
	Role    string
	Content string
}

// Request is one chat completion: a system instruction followed by the
// conversation so far.
type Request struct {
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// LLMClient is the interface for interacting with a Large Language Model.
// Chat returns the text of the first candidate; an empty candidate is an
// error.
type LLMClient interface {
	Chat(ctx context.Context, req Request) (string, error)
}

// Options selects and configures a provider.
type Options struct {
	Provider string
	Model    string
	// APIKey overrides the provider's environment variable.
	APIKey  string
	BaseURL string
}

// DefaultModel is used when no model is configured for the OpenAI provider.
const DefaultModel = "gpt-4o"

// New builds the client for opts.Provider. An empty or "mock" provider
// yields the offline MockLLMClient.
func New(ctx context.Context, opts Options) (LLMClient, error) {
	switch strings.ToLower(opts.Provider) {
	case "openai":
		return NewOpenAILLMClient(ctx, opts)
	case "anthropic":
		return NewAnthropicLLMClient(ctx, opts)
	case "gemini":
		return NewGeminiLLMClient(ctx, opts)
	case "bedrock":
		return NewBedrockLLMClient(ctx, opts)
	case "ollama":
		return NewOllamaLLMClient(ctx, opts)
	case "", "mock":
		return &MockLLMClient{}, nil
	default:
		return nil, errors.New("unknown llm provider '%s'", opts.Provider)
	}
}

// MockLLMClient answers offline by quoting the last message back.
type MockLLMClient struct{}

func (m *MockLLMClient) Chat(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(req.Messages) == 0 {
		return "", ErrEmptyReply
	}
	last := req.Messages[len(req.Messages)-1].Content
	return fmt.Sprintf("I am a mock LLM. You said: '%s'", last), nil
}

// alternate merges consecutive messages of the same role and turns a
// trailing assistant block into a user message. Vendors with strict
// user/assistant alternation need this: in a group conversation the last
// message is often another agent's reply, which the current agent must
// answer rather than continue.
func alternate(msgs []Message) []Message {
	var out []Message
	for _, m := range msgs {
		role := m.Role
		if role != "assistant" {
			role = "user"
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, Message{Role: role, Content: m.Content})
	}
	if n := len(out); n > 0 && out[n-1].Role == "assistant" {
		if n > 1 {
			out[n-2].Content += "\n\n" + out[n-1].Content
			out = out[:n-1]
		} else {
			out[0].Role = "user"
		}
	}
	return out
}

func nonEmpty(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}
