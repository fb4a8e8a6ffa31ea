package llm

import (
	"context"
	"os"

	"github.com/m4xw311/aida/credentials"
	"github.com/m4xw311/aida/errors"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIProvider is a client for the OpenAI Chat Completion API.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float64
	allowed     []string
	strong      bool
}

// NewOpenAIProvider creates a new OpenAIProvider. It requires OPENAI_API_KEY.
// It also supports OPENAI_BASE_URL for custom API endpoints.
func NewOpenAIProvider(ctx context.Context, modelName string, opts Options) (Provider, error) {
	p := &OpenAIProvider{
		model:       modelName,
		temperature: opts.Temperature,
		allowed:     opts.AllowedModels,
		strong:      IsStrongModel(modelName, opts.StrongModels),
	}
	if ok, _ := p.ValidateModel(ctx, modelName); !ok {
		return nil, errors.Wrapf(errors.ErrUnavailableModel,
			"model %q is not available in OpenAI, available models: %v", modelName, opts.AllowedModels)
	}

	apiKey, err := credentials.Lookup(credentials.OpenAIAPIKey)
	if err != nil {
		return nil, err
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	if opts.HTTPClient != nil {
		options = append(options, option.WithHTTPClient(opts.HTTPClient))
	}

	c := openai.NewClient(options...)
	p.client = &c
	return p, nil
}

func (o *OpenAIProvider) Kind() string   { return "openai" }
func (o *OpenAIProvider) Model() string  { return o.model }
func (o *OpenAIProvider) IsStrong() bool { return o.strong }
func (o *OpenAIProvider) Close() error   { return nil }

func (o *OpenAIProvider) ValidateModel(_ context.Context, model string) (bool, error) {
	return allowListed(model, o.allowed), nil
}

func (o *OpenAIProvider) Invoke(ctx context.Context, prompt string) (string, error) {
	return o.Chat(ctx, userPrompt(prompt))
}

// Chat sends a chat request to OpenAI and returns the first choice's text.
func (o *OpenAIProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.model),
		Messages:    convertMessagesToOpenaiContent(messages),
		Temperature: openai.Float(o.temperature),
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", errors.Wrapf(errors.Mark(err, errors.ErrProvider), "failed to send message to OpenAI")
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// convertMessagesToOpenaiContent converts our message format to OpenAI's.
func convertMessagesToOpenaiContent(messages []Message) []openai.ChatCompletionMessageParamUnion {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			assistantMessage := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Content,
			}
			chatMessages = append(chatMessages, assistantMessage.ToParam())
		case RoleSystem:
			chatMessages = append(chatMessages, openai.SystemMessage(msg.Content))
		default:
			chatMessages = append(chatMessages, openai.UserMessage(msg.Content))
		}
	}
	return chatMessages
}
