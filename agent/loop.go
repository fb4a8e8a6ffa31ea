package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/m4xw311/aida/errors"
	"github.com/m4xw311/aida/llm"
	"github.com/m4xw311/aida/metrics"
	"github.com/m4xw311/aida/tools"
	"go.uber.org/zap"
)

// StoppedAnswer is the final answer of a loop that ran out of iterations.
const StoppedAnswer = "Agent stopped due to iteration limit or time limit."

// MaxDepth is the deepest nesting allowed for agent loops. The main loop is
// at depth 0 and the code-generation agent at depth 1.
const MaxDepth = 1

const formatInstructions = `To use a tool, please use the following format:
Thought: I need to use X tool because...
Action: the action to take, should be one of [%s]
Action Input: the input to the action
Observation: the result of the action
... (this Thought/Action/Action Input/Observation can repeat N times)
Thought: I now know what to respond
Final Answer: the final response to the human`

// LoopConfig tunes a Loop.
type LoopConfig struct {
	// Prefix is the role and rules text placed before the tool list.
	Prefix        string
	MaxIterations int
	Depth         int
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	// OnStep, when set, is called after every completed step.
	OnStep func(Step)
}

// Loop drives a model through Thought/Action/Observation cycles until it
// gives a final answer or runs out of iterations.
type Loop struct {
	provider llm.Provider
	tools    *tools.Registry
	cfg      LoopConfig
	logger   *zap.Logger
}

func NewLoop(provider llm.Provider, registry *tools.Registry, cfg LoopConfig) (*Loop, error) {
	if cfg.Depth > MaxDepth {
		return nil, errors.Wrapf(errors.ErrDepthExceeded, "agent loop depth %d exceeds %d", cfg.Depth, MaxDepth)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 6
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		provider: provider,
		tools:    registry,
		cfg:      cfg,
		logger:   logger.With(zap.Int("depth", cfg.Depth)),
	}, nil
}

func (l *Loop) Depth() int { return l.cfg.Depth }

// SystemPrompt is the fixed instruction block sent ahead of the conversation.
func (l *Loop) SystemPrompt() string {
	return fmt.Sprintf("%s\n\nYou have access to the following tools:\n\n%s\n\n%s",
		strings.TrimSpace(l.cfg.Prefix),
		l.tools.Describe(),
		fmt.Sprintf(formatInstructions, strings.Join(l.tools.Names(), ", ")))
}

func (l *Loop) prompt(query string, steps []Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Begin!\n\nQuestion: %s\n", query)
	for _, s := range steps {
		b.WriteString(scratchpadEntry(s))
		b.WriteString("\n")
	}
	b.WriteString("Thought:")
	return b.String()
}

// Run answers query. history holds earlier conversation turns. Provider
// failures and gate failures abort the run; tool failures and malformed
// replies become observations. Hitting the iteration bound is not an error:
// the transcript comes back with Stopped set.
func (l *Loop) Run(ctx context.Context, query string, history []llm.Message) (*Transcript, error) {
	tr := &Transcript{Query: query}
	system := llm.Message{Role: llm.RoleSystem, Content: l.SystemPrompt()}

	for i := 0; i < l.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return tr, errors.Wrapf(err, "agent loop interrupted")
		}

		msgs := make([]llm.Message, 0, len(history)+2)
		msgs = append(msgs, system)
		msgs = append(msgs, history...)
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: l.prompt(query, tr.Steps)})

		raw, err := l.provider.Chat(ctx, msgs)
		if err != nil {
			l.cfg.Metrics.ObserveIterations(i + 1)
			return tr, errors.Wrapf(err, "%s model call failed", l.provider.Kind())
		}
		l.logger.Debug("model reply", zap.Int("iteration", i+1), zap.String("reply", raw))

		reply, perr := ParseReply(raw)
		if perr != nil {
			step := Step{Log: reply.Log, Thought: reply.Thought, Action: reply.Action, Observation: FormatError(perr)}
			l.logger.Debug("unparseable reply", zap.Error(perr))
			l.addStep(tr, step)
			continue
		}
		if reply.IsFinal {
			tr.FinalAnswer = reply.FinalAnswer
			tr.Complete = true
			l.cfg.Metrics.ObserveIterations(i + 1)
			return tr, nil
		}

		step, err := l.act(ctx, reply)
		if err != nil {
			l.cfg.Metrics.ObserveIterations(i + 1)
			return tr, err
		}
		l.addStep(tr, step)
	}

	l.logger.Info("agent loop hit iteration limit", zap.Int("max_iterations", l.cfg.MaxIterations))
	l.cfg.Metrics.ObserveIterations(l.cfg.MaxIterations)
	tr.Stopped = true
	tr.FinalAnswer = StoppedAnswer
	return tr, nil
}

func (l *Loop) act(ctx context.Context, reply Reply) (Step, error) {
	step := Step{Thought: reply.Thought, Action: reply.Action, ActionInput: reply.ActionInput, Log: reply.Log}

	tool, ok := l.tools.Get(reply.Action)
	if !ok {
		step.Observation = fmt.Sprintf("%s is not a valid tool, try one of [%s].", reply.Action, strings.Join(l.tools.Names(), ", "))
		l.cfg.Metrics.ObserveToolCall("invalid", "error")
		return step, nil
	}

	res, err := tool.Execute(ctx, reply.ActionInput)
	step.Decision = res.Decision
	if res.Input != "" {
		step.ActionInput = res.Input
	}
	if err != nil {
		obs, recoverable := tools.Observation(err)
		if !recoverable {
			l.cfg.Metrics.ObserveToolCall(tool.Name(), "aborted")
			return step, errors.Wrapf(err, "tool %s failed", tool.Name())
		}
		l.logger.Info("tool failed", zap.String("tool", tool.Name()), zap.Error(err))
		l.cfg.Metrics.ObserveToolCall(tool.Name(), "error")
		step.Observation = obs
		return step, nil
	}
	l.cfg.Metrics.ObserveToolCall(tool.Name(), "ok")
	step.Observation = res.Output
	return step, nil
}

func (l *Loop) addStep(tr *Transcript, step Step) {
	tr.Steps = append(tr.Steps, step)
	if l.cfg.OnStep != nil {
		l.cfg.OnStep(step)
	}
}
