package llm

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/m4xw311/aida/errors"
	"github.com/ollama/ollama/api"
)

// OllamaProvider talks to a local Ollama daemon. Models are validated against
// the daemon's installed-model list.
type OllamaProvider struct {
	client      *api.Client
	model       string
	temperature float64
	strong      bool
}

// NewOllamaProvider connects to opts.OllamaHost, or OLLAMA_HOST when unset,
// and fails with errors.ErrUnavailableModel unless model is installed.
func NewOllamaProvider(ctx context.Context, model string, opts Options) (Provider, error) {
	client, err := newOllamaClient(opts)
	if err != nil {
		return nil, err
	}
	p := &OllamaProvider{
		client:      client,
		model:       model,
		temperature: opts.Temperature,
		strong:      IsStrongModel(model, opts.StrongModels),
	}

	ok, err := p.ValidateModel(ctx, model)
	if err != nil {
		return nil, errors.Wrapf(errors.Mark(err, errors.ErrUnavailableModel), "could not list Ollama models")
	}
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnavailableModel, "model %q is not available in Ollama", model)
	}
	return p, nil
}

func newOllamaClient(opts Options) (*api.Client, error) {
	if opts.OllamaHost == "" {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create Ollama client")
		}
		return client, nil
	}
	u, err := url.Parse(opts.OllamaHost)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid Ollama host %q", opts.OllamaHost)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// Local inference is slow; per-call deadlines come from the context.
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return api.NewClient(u, httpClient), nil
}

func (p *OllamaProvider) Kind() string   { return "ollama" }
func (p *OllamaProvider) Model() string  { return p.model }
func (p *OllamaProvider) IsStrong() bool { return p.strong }
func (p *OllamaProvider) Close() error   { return nil }

// ValidateModel reports whether model is installed. A bare name also matches
// its ":latest" tag.
func (p *OllamaProvider) ValidateModel(ctx context.Context, model string) (bool, error) {
	resp, err := p.client.List(ctx)
	if err != nil {
		return false, err
	}
	candidates := []string{model}
	if !strings.Contains(model, ":") {
		candidates = append(candidates, model+":latest")
	}
	for _, m := range resp.Models {
		for _, c := range candidates {
			if m.Name == c || m.Model == c {
				return true, nil
			}
		}
	}
	return false, nil
}

func (p *OllamaProvider) Invoke(ctx context.Context, prompt string) (string, error) {
	return p.Chat(ctx, userPrompt(prompt))
}

// Chat sends a non-streaming chat request.
func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	stream := false
	req := &api.ChatRequest{
		Model:    p.model,
		Messages: convertMessagesToOllamaMessages(messages),
		Stream:   &stream,
		Options:  map[string]any{"temperature": p.temperature},
	}

	var reply strings.Builder
	err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		reply.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", errors.Wrapf(errors.Mark(err, errors.ErrProvider), "failed to send message to Ollama")
	}
	return reply.String(), nil
}

func convertMessagesToOllamaMessages(messages []Message) []api.Message {
	out := make([]api.Message, 0, len(messages))
	for _, msg := range messages {
		out = append(out, api.Message{Role: msg.Role, Content: msg.Content})
	}
	return out
}
