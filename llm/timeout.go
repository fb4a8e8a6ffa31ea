package llm

import (
	"context"
	"time"

	"github.com/m4xw311/aida/errors"
)

type timeoutProvider struct {
	Provider
	timeout time.Duration
}

// WithTimeout bounds every Invoke and Chat call of p by d. A non-positive d
// returns p unchanged.
func WithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		return p
	}
	return &timeoutProvider{Provider: p, timeout: d}
}

func (t *timeoutProvider) Invoke(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	reply, err := t.Provider.Invoke(ctx, prompt)
	return reply, t.classify(ctx, err)
}

func (t *timeoutProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	reply, err := t.Provider.Chat(ctx, messages)
	return reply, t.classify(ctx, err)
}

func (t *timeoutProvider) classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Wrapf(errors.Mark(err, errors.ErrProvider), "%s call timed out after %s", t.Kind(), t.timeout)
	}
	return err
}
