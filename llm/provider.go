package llm

import (
	"context"
	"net/http"
	"slices"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/aida/config"
	"github.com/m4xw311/aida/errors"
)

// Message roles understood by every provider.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single model-native chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is the capability set shared by every language-model backend.
type Provider interface {
	Kind() string
	Model() string
	// Invoke sends a single prompt and blocks until the full reply is available.
	Invoke(ctx context.Context, prompt string) (string, error)
	// Chat sends an ordered message history and returns the assistant reply.
	Chat(ctx context.Context, messages []Message) (string, error)
	ValidateModel(ctx context.Context, model string) (bool, error)
	// IsStrong reports whether replies from this model are trusted to follow
	// the output format without a repair pass.
	IsStrong() bool
	Close() error
}

// Options tune provider construction.
type Options struct {
	Temperature float64
	// StrongModels are glob patterns; a model matching any of them is strong.
	StrongModels []string
	// AllowedModels restricts hosted providers. Empty accepts any model name.
	AllowedModels []string
	OllamaHost    string
	HTTPClient    *http.Client
}

// OptionsFromConfig derives provider options for kind from the resolved configuration.
func OptionsFromConfig(cfg *config.Config, kind string) Options {
	return Options{
		Temperature:   cfg.Temperature,
		StrongModels:  cfg.StrongModels,
		AllowedModels: cfg.AllowedModels[strings.ToLower(kind)],
		OllamaHost:    cfg.OllamaHost,
	}
}

// Constructor builds a provider for model. It must fail with
// errors.ErrUnavailableModel or errors.ErrMissingCredential rather than return
// a provider that cannot serve requests.
type Constructor func(ctx context.Context, model string, opts Options) (Provider, error)

// Registry maps provider kind tokens to constructors.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry returns a registry with every built-in backend.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.Register("ollama", NewOllamaProvider)
	r.Register("gemini", NewGeminiProvider)
	r.Register("openai", NewOpenAIProvider)
	r.Register("anthropic", NewAnthropicProvider)
	r.Register("bedrock", NewBedrockProvider)
	r.Register("mock", NewMockProvider)
	return r
}

func (r *Registry) Register(kind string, c Constructor) {
	r.constructors[strings.ToLower(kind)] = c
}

// Kinds lists the registered provider kinds in sorted order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.constructors))
	for k := range r.constructors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// New resolves kind and model into a ready provider.
func (r *Registry) New(ctx context.Context, kind, model string, opts Options) (Provider, error) {
	c, ok := r.constructors[strings.ToLower(strings.TrimSpace(kind))]
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnsupportedProvider,
			"unsupported provider type %q, available providers: %v", kind, r.Kinds())
	}
	return c(ctx, model, opts)
}

// IsStrongModel reports whether model matches any of the glob patterns.
// Invalid patterns never match.
func IsStrongModel(model string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, model); err == nil && ok {
			return true
		}
	}
	return false
}

// allowListed implements ValidateModel for providers without a model registry.
func allowListed(model string, allowed []string) bool {
	if strings.TrimSpace(model) == "" {
		return false
	}
	return len(allowed) == 0 || slices.Contains(allowed, model)
}

func userPrompt(prompt string) []Message {
	return []Message{{Role: RoleUser, Content: prompt}}
}
