package llm

import (
	"context"

	"github.com/google/generative-ai-go/genai"
	"github.com/m4xw311/aida/credentials"
	"github.com/m4xw311/aida/errors"
	"google.golang.org/api/option"
)

// GeminiProvider is a client for the Google Gemini API.
type GeminiProvider struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	name    string
	allowed []string
	strong  bool
}

// NewGeminiProvider creates a new GeminiProvider.
// The model must be allow-listed and GOOGLE_API_KEY must be available.
func NewGeminiProvider(ctx context.Context, modelName string, opts Options) (Provider, error) {
	p := &GeminiProvider{
		name:    modelName,
		allowed: opts.AllowedModels,
		strong:  IsStrongModel(modelName, opts.StrongModels),
	}
	if ok, _ := p.ValidateModel(ctx, modelName); !ok {
		return nil, errors.Wrapf(errors.ErrUnavailableModel,
			"model %q is not available in Gemini, available models: %v", modelName, opts.AllowedModels)
	}

	apiKey, err := credentials.Lookup(credentials.GoogleAPIKey)
	if err != nil {
		return nil, errors.Wrapf(err, "GOOGLE_API_KEY is required for the Gemini provider")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(float32(opts.Temperature))

	p.client = client
	p.model = model
	return p, nil
}

func (g *GeminiProvider) Kind() string   { return "gemini" }
func (g *GeminiProvider) Model() string  { return g.name }
func (g *GeminiProvider) IsStrong() bool { return g.strong }

func (g *GeminiProvider) ValidateModel(_ context.Context, model string) (bool, error) {
	return allowListed(model, g.allowed), nil
}

func (g *GeminiProvider) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *GeminiProvider) Invoke(ctx context.Context, prompt string) (string, error) {
	return g.Chat(ctx, userPrompt(prompt))
}

// Chat sends a chat request to the Gemini API.
func (g *GeminiProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	history := convertMessagesToGeminiContent(messages)
	if len(history) == 0 {
		return "", errors.New("no messages to send to Gemini")
	}

	// The last message is the new prompt.
	lastMessage := history[len(history)-1]

	chatSession := g.model.StartChat()
	chatSession.History = history[:len(history)-1]
	resp, err := chatSession.SendMessage(ctx, lastMessage.Parts...)
	if err != nil {
		return "", errors.Wrapf(errors.Mark(err, errors.ErrProvider), "failed to send message to Gemini")
	}
	return processGeminiResponse(resp)
}

// convertMessagesToGeminiContent converts our message format to Gemini's.
// Gemini has no system role in chat history, so system text is sent as user text.
func convertMessagesToGeminiContent(messages []Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		role := "user"
		if msg.Role == RoleAssistant {
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
		return "", errors.Wrapf(errors.ErrProvider, "received an empty response from Gemini")
	}

	var reply string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			reply += string(text)
		}
	}
	return reply, nil
}
