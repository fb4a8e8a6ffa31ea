package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/m4xw311/aida/errors"
)

// bedrockInvoker is the subset of the Bedrock runtime client used here.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockProvider is a client for the Anthropic models on AWS Bedrock.
type BedrockProvider struct {
	client      bedrockInvoker
	modelID     string
	temperature float64
	allowed     []string
	strong      bool
}

// NewBedrockProvider creates a new BedrockProvider.
// It requires AWS credentials to be resolvable from the default chain.
func NewBedrockProvider(ctx context.Context, modelID string, opts Options) (Provider, error) {
	p := &BedrockProvider{
		modelID:     modelID,
		temperature: opts.Temperature,
		allowed:     opts.AllowedModels,
		strong:      IsStrongModel(modelID, opts.StrongModels),
	}
	if ok, _ := p.ValidateModel(ctx, modelID); !ok {
		return nil, errors.Wrapf(errors.ErrUnavailableModel,
			"model %q is not available in Bedrock, available models: %v", modelID, opts.AllowedModels)
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if os.Getenv("AWS_REGION") == "" && os.Getenv("AWS_DEFAULT_REGION") == "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion("us-east-1"))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		return nil, errors.Wrapf(errors.Mark(err, errors.ErrMissingCredential), "no AWS credentials for Bedrock")
	}

	var clientOpts []func(*bedrockruntime.Options)
	// Custom endpoint, useful for testing.
	if endpoint := os.Getenv("BEDROCK_ENDPOINT_URL"); endpoint != "" {
		clientOpts = append(clientOpts, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	p.client = bedrockruntime.NewFromConfig(cfg, clientOpts...)
	return p, nil
}

func (b *BedrockProvider) Kind() string   { return "bedrock" }
func (b *BedrockProvider) Model() string  { return b.modelID }
func (b *BedrockProvider) IsStrong() bool { return b.strong }
func (b *BedrockProvider) Close() error   { return nil }

func (b *BedrockProvider) ValidateModel(_ context.Context, model string) (bool, error) {
	return allowListed(model, b.allowed), nil
}

func (b *BedrockProvider) Invoke(ctx context.Context, prompt string) (string, error) {
	return b.Chat(ctx, userPrompt(prompt))
}

// Chat sends a chat request to the Anthropic model via AWS Bedrock.
func (b *BedrockProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	anthropicMessages, systemPrompt := convertMessagesToAnthropicFormat(messages)

	requestBody, err := createAnthropicRequest(anthropicMessages, systemPrompt, b.temperature)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create Anthropic request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return "", errors.Wrapf(errors.Mark(err, errors.ErrProvider), "failed to invoke Bedrock model")
	}
	return processBedrockResponse(resp.Body)
}

// convertMessagesToAnthropicFormat converts our message format to the
// Anthropic messages body accepted by Bedrock.
func convertMessagesToAnthropicFormat(messages []Message) ([]map[string]interface{}, string) {
	var anthropicMessages []map[string]interface{}
	var systemPrompt string

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if systemPrompt != "" {
				systemPrompt += "\n"
			}
			systemPrompt += msg.Content
		case RoleAssistant:
			if msg.Content == "" {
				continue
			}
			anthropicMessages = append(anthropicMessages, textMessage("assistant", msg.Content))
		default:
			anthropicMessages = append(anthropicMessages, textMessage("user", msg.Content))
		}
	}

	return anthropicMessages, systemPrompt
}

func textMessage(role, text string) map[string]interface{} {
	return map[string]interface{}{
		"role": role,
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": text,
			},
		},
	}
}

// createAnthropicRequest creates the request body for Anthropic models on Bedrock.
func createAnthropicRequest(messages []map[string]interface{}, systemPrompt string, temperature float64) ([]byte, error) {
	request := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        anthropicMaxTokens,
		"temperature":       temperature,
		"messages":          messages,
	}
	if systemPrompt != "" {
		request["system"] = systemPrompt
	}
	return json.Marshal(request)
}

// processBedrockResponse extracts the text blocks of a Bedrock response body.
func processBedrockResponse(body []byte) (string, error) {
	var response struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Error interface{} `json:"error"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", errors.Wrapf(errors.Mark(err, errors.ErrProvider), "failed to unmarshal Bedrock response")
	}
	if response.Error != nil {
		return "", errors.Wrapf(errors.ErrProvider, "Bedrock API error: %v", response.Error)
	}

	var reply string
	for _, item := range response.Content {
		if item.Type == "text" {
			reply += item.Text
		}
	}
	return reply, nil
}
