package llm

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
)

const (
	defaultOpenAIEndpoint = "https://api.openai.com/v1"
	defaultOpenAIModel    = "gpt-4o-mini"
)

// ChatClient serves both Azure OpenAI deployments and the public OpenAI
// API through the azopenai client.
type ChatClient struct {
	client     *azopenai.Client
	deployment string
	provider   string
}

// NewAzure connects to an Azure OpenAI resource. model is the deployment name.
func NewAzure(endpoint, apiKey, deployment string) (*ChatClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("azure provider requires an endpoint")
	}
	if deployment == "" {
		return nil, fmt.Errorf("azure provider requires a deployment name")
	}
	client, err := azopenai.NewClientWithKeyCredential(endpoint, azcore.NewKeyCredential(apiKey), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating Azure OpenAI client: %w", err)
	}
	return &ChatClient{client: client, deployment: deployment, provider: "azure"}, nil
}

// NewOpenAI connects to the OpenAI API, or a compatible endpoint.
func NewOpenAI(endpoint, apiKey, model string) (*ChatClient, error) {
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	client, err := azopenai.NewClientForOpenAI(endpoint, azcore.NewKeyCredential(apiKey), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating OpenAI client: %w", err)
	}
	return &ChatClient{client: client, deployment: model, provider: "openai"}, nil
}

func (c *ChatClient) Complete(ctx context.Context, system, user string, temperature float32, maxTokens int32) (string, error) {
	var messages []azopenai.ChatRequestMessageClassification
	if system != "" {
		messages = append(messages, &azopenai.ChatRequestSystemMessage{
			Content: azopenai.NewChatRequestSystemMessageContent(system),
		})
	}
	messages = append(messages, &azopenai.ChatRequestUserMessage{
		Content: azopenai.NewChatRequestUserMessageContent(user),
	})

	opts := azopenai.ChatCompletionsOptions{
		DeploymentName: to.Ptr(c.deployment),
		Messages:       messages,
		Temperature:    to.Ptr(temperature),
	}
	if maxTokens > 0 {
		opts.MaxTokens = to.Ptr(maxTokens)
	}

	resp, err := c.client.GetChatCompletions(ctx, opts, nil)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", c.provider, c.deployment, err)
	}
	if len(resp.Choices) > 0 && resp.Choices[0].Message != nil && resp.Choices[0].Message.Content != nil {
		return *resp.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("%s %s: no completion received: %w", c.provider, c.deployment, ErrTransient)
}

// ListModels returns the configured deployment; azopenai has no model
// listing endpoint.
func (c *ChatClient) ListModels(ctx context.Context) ([]string, error) {
	if c.provider == "openai" {
		return []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini"}, nil
	}
	return []string{c.deployment}, nil
}
