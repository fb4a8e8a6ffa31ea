package llm

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m4xw311/aida/credentials"
	"github.com/m4xw311/aida/errors"
)

const anthropicMaxTokens = 4096

// AnthropicProvider is a client for the Anthropic API.
type AnthropicProvider struct {
	client      *anthropic.Client
	model       string
	temperature float64
	allowed     []string
	strong      bool
}

// NewAnthropicProvider creates a new AnthropicProvider.
// It requires ANTHROPIC_API_KEY.
func NewAnthropicProvider(ctx context.Context, modelName string, opts Options) (Provider, error) {
	p := &AnthropicProvider{
		model:       modelName,
		temperature: opts.Temperature,
		allowed:     opts.AllowedModels,
		strong:      IsStrongModel(modelName, opts.StrongModels),
	}
	if ok, _ := p.ValidateModel(ctx, modelName); !ok {
		return nil, errors.Wrapf(errors.ErrUnavailableModel,
			"model %q is not available in Anthropic, available models: %v", modelName, opts.AllowedModels)
	}

	apiKey, err := credentials.Lookup(credentials.AnthropicAPIKey)
	if err != nil {
		return nil, err
	}

	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if opts.HTTPClient != nil {
		options = append(options, option.WithHTTPClient(opts.HTTPClient))
	}
	client := anthropic.NewClient(options...)
	p.client = &client
	return p, nil
}

func (a *AnthropicProvider) Kind() string   { return "anthropic" }
func (a *AnthropicProvider) Model() string  { return a.model }
func (a *AnthropicProvider) IsStrong() bool { return a.strong }
func (a *AnthropicProvider) Close() error   { return nil }

func (a *AnthropicProvider) ValidateModel(_ context.Context, model string) (bool, error) {
	return allowListed(model, a.allowed), nil
}

func (a *AnthropicProvider) Invoke(ctx context.Context, prompt string) (string, error) {
	return a.Chat(ctx, userPrompt(prompt))
}

// Chat sends a chat request to the Anthropic API.
func (a *AnthropicProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	anthropicMessages, systemPrompt := convertMessagesToAnthropicMessages(messages)

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   anthropicMaxTokens,
		Messages:    anthropicMessages,
		Temperature: anthropic.Float(a.temperature),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", errors.Wrapf(errors.Mark(err, errors.ErrProvider), "failed to send message to Anthropic")
	}

	var reply string
	for _, content := range resp.Content {
		if c, ok := content.AsAny().(anthropic.TextBlock); ok {
			reply += c.Text
		}
	}
	return reply, nil
}

// convertMessagesToAnthropicMessages converts our message format to Anthropic's.
// System messages are concatenated into the system prompt.
func convertMessagesToAnthropicMessages(messages []Message) ([]anthropic.MessageParam, string) {
	var anthropicMessages []anthropic.MessageParam
	var systemPrompt string

	for _, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			if msg.Content != "" {
				anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(
					anthropic.NewTextBlock(msg.Content),
				))
			}
		case RoleSystem:
			if systemPrompt != "" {
				systemPrompt += "\n"
			}
			systemPrompt += msg.Content
		default:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		}
	}

	return anthropicMessages, systemPrompt
}
