package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/m4xw311/frend/errors"
)

// BedrockLLMClient is a client for the Anthropic models on AWS Bedrock.
type BedrockLLMClient struct {
	client  *bedrockruntime.Client
	modelID string
	region  string
}

// NewBedrockLLMClient creates a new BedrockLLMClient.
// It requires AWS credentials to be configured in the environment.
func NewBedrockLLMClient(ctx context.Context, opts Options) (*BedrockLLMClient, error) {
	if opts.Model == "" {
		return nil, errors.New("a model id is required for the bedrock provider")
	}

	// One attempt per call: a failed turn is skipped, not retried.
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(1))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}

	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	// A custom endpoint is useful for testing.
	endpoint := opts.BaseURL
	if endpoint == "" {
		endpoint = os.Getenv("BEDROCK_ENDPOINT_URL")
	}

	client := bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
		o.Region = region
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &BedrockLLMClient{
		client:  client,
		modelID: opts.Model,
		region:  region,
	}, nil
}

// Chat sends a chat request to the Anthropic model via AWS Bedrock.
func (b *BedrockLLMClient) Chat(ctx context.Context, req Request) (string, error) {
	requestBody, err := createAnthropicRequest(req)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create Anthropic request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to invoke Bedrock model")
	}

	return processBedrockResponse(resp.Body)
}

// convertMessagesToAnthropicFormat converts the conversation to the raw
// Anthropic messages format Bedrock expects.
func convertMessagesToAnthropicFormat(messages []Message) []map[string]interface{} {
	var anthropicMessages []map[string]interface{}
	for _, msg := range alternate(messages) {
		anthropicMessages = append(anthropicMessages, map[string]interface{}{
			"role": msg.Role,
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": msg.Content,
				},
			},
		})
	}
	return anthropicMessages
}

// createAnthropicRequest creates the request body for Anthropic models on Bedrock.
func createAnthropicRequest(req Request) ([]byte, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	request := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        maxTokens,
		"temperature":       req.Temperature,
		"messages":          convertMessagesToAnthropicFormat(req.Messages),
	}
	if req.System != "" {
		request["system"] = req.System
	}
	return json.Marshal(request)
}

// processBedrockResponse extracts the reply text from a Bedrock response body.
func processBedrockResponse(body []byte) (string, error) {
	var response struct {
		Error   interface{} `json:"error"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}
	if response.Error != nil {
		return "", errors.New("Bedrock API error: %v", response.Error)
	}

	var responseContent string
	for _, item := range response.Content {
		if item.Type == "text" {
			responseContent += item.Text
		}
	}
	return nonEmpty(responseContent)
}
