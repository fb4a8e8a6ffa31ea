package llm

import (
	"context"
	"sync"

	"github.com/m4xw311/aida/errors"
)

// MockProvider replays scripted replies. It is used by tests across the module
// and by `--provider mock` for offline demos.
type MockProvider struct {
	ModelName string
	Strong    bool
	// Replies are returned in order; the last one repeats once exhausted.
	Replies []string
	// Reply, when set, takes precedence over Replies.
	Reply func(call int, messages []Message) (string, error)
	// Available is the model allow-list. Empty accepts any model.
	Available []string

	mu    sync.Mutex
	calls [][]Message
}

// defaultMockReply reads as a relevance verdict and as a final answer, so an
// all-mock setup answers end to end.
const defaultMockReply = "RELEVANT: mock model\nFinal Answer: I am a mock model and cannot run commands."

// NewMockProvider is a Constructor for MockProvider with no scripted replies.
func NewMockProvider(_ context.Context, model string, opts Options) (Provider, error) {
	m := &MockProvider{
		ModelName: model,
		Strong:    IsStrongModel(model, opts.StrongModels),
		Available: opts.AllowedModels,
		Replies:   []string{defaultMockReply},
	}
	if ok, _ := m.ValidateModel(context.Background(), model); !ok {
		return nil, errors.Wrapf(errors.ErrUnavailableModel, "model %q is not available in mock", model)
	}
	return m, nil
}

func (m *MockProvider) Kind() string   { return "mock" }
func (m *MockProvider) Model() string  { return m.ModelName }
func (m *MockProvider) IsStrong() bool { return m.Strong }
func (m *MockProvider) Close() error   { return nil }

func (m *MockProvider) ValidateModel(_ context.Context, model string) (bool, error) {
	return allowListed(model, m.Available), nil
}

func (m *MockProvider) Invoke(ctx context.Context, prompt string) (string, error) {
	return m.Chat(ctx, userPrompt(prompt))
}

func (m *MockProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrapf(errors.Mark(err, errors.ErrProvider), "mock call cancelled")
	}
	m.mu.Lock()
	call := len(m.calls)
	m.calls = append(m.calls, append([]Message(nil), messages...))
	m.mu.Unlock()

	if m.Reply != nil {
		return m.Reply(call, messages)
	}
	if len(m.Replies) == 0 {
		return "", nil
	}
	if call >= len(m.Replies) {
		return m.Replies[len(m.Replies)-1], nil
	}
	return m.Replies[call], nil
}

// Calls returns every message list received so far.
func (m *MockProvider) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]Message(nil), m.calls...)
}

// CallCount returns the number of Invoke/Chat calls.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastPrompt returns the content of the final message of the latest call.
func (m *MockProvider) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return ""
	}
	last := m.calls[len(m.calls)-1]
	if len(last) == 0 {
		return ""
	}
	return last[len(last)-1].Content
}
