// Package preprocessor decides whether a query is about server management
// before any tool-using work begins.
package preprocessor

import (
	"context"
	"fmt"
	"strings"

	"github.com/m4xw311/aida/errors"
	"github.com/m4xw311/aida/llm"
	"github.com/m4xw311/aida/metrics"
	"github.com/m4xw311/aida/session"
	"go.uber.org/zap"
)

const (
	EmptyQueryResponse  = "Empty query. Please ask a question."
	notRelevantResponse = "This query is not related to server management: "
	noReason            = "No reason provided"
)

const classificationPrompt = `You are a query preprocessor for a server management AI assistant.
Your job is to determine if a query is related to server management or not.

Rules:
1. If the query is about server management, system administration, or Linux commands, respond with "RELEVANT:"
2. If the query is NOT about server management, respond with "NOT RELEVANT:"
3. After the prefix, briefly explain why in one sentence
4. Use the recent conversation to resolve follow-up questions such as "and for the other disk?"

Examples of relevant queries:
- How many users are logged in?
- What's the current disk usage?
- Show me the running processes
- Check server uptime
- List all open ports

Examples of irrelevant queries:
- What's the weather like today?
- Tell me a joke
- What's the capital of France?
- How do I make pasta?
- What's 2+2?

Recent conversation:
%s

Query: %s
Response: `

// Result is the outcome of a relevance check. Response is set iff the query
// was rejected.
type Result struct {
	IsRelevant bool
	Query      string
	Response   string
}

type Preprocessor struct {
	provider llm.Provider
	logger   *zap.Logger
	metrics  *metrics.Metrics
	window   int
}

type Option func(*Preprocessor)

func WithLogger(l *zap.Logger) Option {
	return func(p *Preprocessor) { p.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Preprocessor) { p.metrics = m }
}

// WithWindow sets how many recent turns are shown to the classifier.
func WithWindow(n int) Option {
	return func(p *Preprocessor) { p.window = n }
}

func New(provider llm.Provider, opts ...Option) *Preprocessor {
	p := &Preprocessor{
		provider: provider,
		logger:   zap.NewNop(),
		window:   session.DefaultWindow,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process classifies query. It never returns an error: failures become a
// rejected Result carrying "Error processing query: ...". A System turn
// recording the decision is appended to state when state is non-nil.
func (p *Preprocessor) Process(ctx context.Context, query string, state *session.State) Result {
	if strings.TrimSpace(query) == "" {
		p.metrics.ObservePreprocessor("empty")
		return Result{Query: query, Response: EmptyQueryResponse}
	}

	var recent string
	if state != nil {
		recent = state.Recent(p.window)
	}

	res := p.classify(ctx, query, recent)
	if state != nil {
		state.Append(session.System, summary(res))
	}
	return res
}

func (p *Preprocessor) classify(ctx context.Context, query, recent string) Result {
	if recent == "" {
		recent = "(none)"
	}
	reply, err := p.provider.Invoke(ctx, fmt.Sprintf(classificationPrompt, recent, query))
	if err != nil {
		return p.failed(query, err)
	}
	p.logger.Debug("relevance reply", zap.String("reply", reply))

	relevant, reason, err := Parse(reply)
	if err != nil {
		return p.failed(query, err)
	}
	if relevant {
		p.metrics.ObservePreprocessor("relevant")
		return Result{IsRelevant: true, Query: query}
	}
	p.metrics.ObservePreprocessor("not_relevant")
	return Result{Query: query, Response: notRelevantResponse + reason}
}

func (p *Preprocessor) failed(query string, err error) Result {
	p.logger.Error("relevance check failed", zap.Error(err))
	p.metrics.ObservePreprocessor("error")
	return Result{Query: query, Response: "Error processing query: " + err.Error()}
}

// Parse reads a classification reply. The reply must start with RELEVANT or
// NOT RELEVANT, ignoring surrounding whitespace, quotes and markdown emphasis.
// The reason is the first line after the first colon.
func Parse(reply string) (relevant bool, reason string, err error) {
	norm := strings.TrimLeft(strings.TrimSpace(reply), "*\"'` ")
	upper := strings.ToUpper(norm)

	switch {
	case strings.HasPrefix(upper, "NOT RELEVANT"):
		relevant = false
	case strings.HasPrefix(upper, "RELEVANT"):
		relevant = true
	default:
		return false, "", errors.Wrapf(errors.ErrMalformedClassification, "unexpected classifier reply %q", firstLine(reply))
	}

	reason = noReason
	if _, after, ok := strings.Cut(norm, ":"); ok {
		if r := strings.Trim(firstLine(strings.TrimSpace(after)), "*\"' "); r != "" {
			reason = r
		}
	}
	return relevant, reason, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

func summary(r Result) string {
	switch {
	case r.IsRelevant:
		return "Relevance check: relevant"
	case strings.HasPrefix(r.Response, notRelevantResponse):
		return fmt.Sprintf("Relevance check: not relevant (%s)", strings.TrimPrefix(r.Response, notRelevantResponse))
	default:
		return fmt.Sprintf("Relevance check: not relevant (%s)", r.Response)
	}
}
