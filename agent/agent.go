package agent

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/m4xw311/aida/config"
	"github.com/m4xw311/aida/errors"
	"github.com/m4xw311/aida/gate"
	"github.com/m4xw311/aida/history"
	"github.com/m4xw311/aida/llm"
	"github.com/m4xw311/aida/metrics"
	"github.com/m4xw311/aida/preprocessor"
	"github.com/m4xw311/aida/session"
	"github.com/m4xw311/aida/tools"
	"go.uber.org/zap"
)

const corePrefix = `You are AIDA, a helpful AI assistant that helps users manage their server.
When asked a question, you MUST use the available tools to help the user.
NEVER make up or hallucinate command outputs.
ALWAYS use the shell tool to execute commands and get real output.

Important rules:
1. ALWAYS use the shell tool to execute commands
2. NEVER pretend to execute a command, actually use the tool
3. If a command fails, show the error and explain what went wrong
4. Never execute the same command more than once
5. After getting command output, explain what it means
6. If the user rejects a command, read their feedback and adapt
7. Always have at the very least Thought and Final Answer in a response
8. Always end with a Final Answer that answers the question posed by the user

Example interaction:
Question: How many users are logged in?
Thought: I need to use the shell tool with 'who | wc -l' command to check logged in users
Action: shell
Action Input: who | wc -l
Observation: 3
Thought: I now know what to respond
Final Answer: There are 3 users currently logged in.`

const repairPrompt = `Based on this conversation and output, please provide a Final Answer that directly answers the user's question: "%s"

Previous output:
%s

Remember to start with "Final Answer:" and provide a clear, direct response. Don't say anything about agent.`

// Providers are the models used by each role.
type Providers struct {
	Core         llm.Provider
	Preprocessor llm.Provider
	// Coder is optional; without it the coder tool is not offered.
	Coder llm.Provider
}

// Deps are the collaborators an Agent needs besides its models.
type Deps struct {
	Gate    gate.Gate
	Runner  tools.Runner
	Audit   *history.Store
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	// State defaults to a fresh conversation in cfg.SessionDir.
	State      *session.State
	HTTPClient *http.Client
	OnStep     func(Step)
}

// Agent answers natural-language questions about the server. It owns the
// conversation and runs one query at a time.
type Agent struct {
	cfg          *config.Config
	core         llm.Provider
	providers    Providers
	preprocessor *preprocessor.Preprocessor
	loop         *Loop
	state        *session.State
	logger       *zap.Logger
	metrics      *metrics.Metrics

	mu sync.Mutex
}

// New constructs the role providers from cfg and wires the agent. Core and
// preprocessor construction failures are returned. A coder provider that
// cannot be built only disables the coder tool.
func New(ctx context.Context, cfg *config.Config, registry *llm.Registry, deps Deps) (*Agent, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	build := func(role, kind, model string) (llm.Provider, error) {
		p, err := registry.New(ctx, kind, model, llm.OptionsFromConfig(cfg, kind))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to initialise %s model %s/%s", role, kind, model)
		}
		logger.Info("model ready", zap.String("role", role), zap.String("provider", kind),
			zap.String("model", model), zap.Bool("strong", p.IsStrong()))
		return llm.WithTimeout(p, cfg.ProviderTimeout), nil
	}

	var ps Providers
	var err error
	if ps.Core, err = build("core", cfg.CoreProvider, cfg.CoreModel); err != nil {
		return nil, err
	}
	if ps.Preprocessor, err = build("preprocessor", cfg.PreprocessorProvider, cfg.PreprocessorModel); err != nil {
		closeProviders(ps)
		return nil, err
	}
	if cfg.CoderProvider != "" {
		if ps.Coder, err = build("coder", cfg.CoderProvider, cfg.CoderModel); err != nil {
			logger.Warn("code agent disabled", zap.Error(err))
		}
	}
	a, err := NewWithProviders(cfg, ps, deps)
	if err != nil {
		closeProviders(ps)
		return nil, err
	}
	return a, nil
}

// NewWithProviders wires an agent around already constructed models. The
// caller keeps ownership of the models when it fails.
func NewWithProviders(cfg *config.Config, ps Providers, deps Deps) (*Agent, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Gate == nil {
		return nil, errors.New("an approval gate is required")
	}
	runner := deps.Runner
	if runner == nil {
		runner = &tools.LocalRunner{Timeout: cfg.CommandTimeout}
	}
	state := deps.State
	if state == nil {
		state = session.New(cfg.SessionDir)
	}

	shell := tools.NewShellTool(deps.Gate, runner,
		tools.WithAudit(deps.Audit, state.ID),
		tools.WithShellMetrics(deps.Metrics),
		tools.WithShellLogger(logger))
	registry := tools.NewRegistry(shell, tools.NewWebSearch(cfg.SearchEndpoint, deps.HTTPClient, logger))

	loopCfg := LoopConfig{
		Prefix:        corePrefix,
		MaxIterations: cfg.MaxIterations,
		Logger:        logger,
		Metrics:       deps.Metrics,
		OnStep:        deps.OnStep,
	}
	if ps.Coder != nil {
		coder, err := NewCoder(ps.Coder, shell, loopCfg.Depth, CoderConfig{
			CodePath:            cfg.GeneratedCodePath,
			MaxIterations:       cfg.CoderMaxIterations,
			StrongMaxIterations: cfg.CoderStrongMaxIterations,
			Loop:                loopCfg,
		})
		if err != nil {
			return nil, err
		}
		registry.Register(coder)
	}

	loop, err := NewLoop(ps.Core, registry, loopCfg)
	if err != nil {
		return nil, err
	}

	return &Agent{
		cfg:       cfg,
		core:      ps.Core,
		providers: ps,
		preprocessor: preprocessor.New(ps.Preprocessor,
			preprocessor.WithLogger(logger),
			preprocessor.WithMetrics(deps.Metrics),
			preprocessor.WithWindow(cfg.HistoryWindow)),
		loop:    loop,
		state:   state,
		logger:  logger,
		metrics: deps.Metrics,
	}, nil
}

func (a *Agent) State() *session.State { return a.state }

func (a *Agent) Config() *config.Config { return a.cfg }

// ProcessQuery answers one query. It never fails: every error is returned as
// a message starting with "Error processing query:". The query and the
// answer are recorded in the conversation.
func (a *Agent) ProcessQuery(ctx context.Context, query string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	a.logger.Info("processing query", zap.String("query", query))

	if strings.TrimSpace(query) == "" {
		a.metrics.ObserveQuery("rejected", time.Since(start))
		return preprocessor.EmptyQueryResponse
	}

	history := a.state.NativeMessages()
	a.state.Append(session.User, query)

	var answer, outcome string
	if res := a.preprocessor.Process(ctx, query, a.state); !res.IsRelevant {
		answer, outcome = res.Response, "rejected"
	} else {
		var err error
		answer, outcome, err = a.answer(ctx, query, history)
		if err != nil {
			a.logger.Error("query failed", zap.String("query", query), zap.Error(err))
			answer, outcome = "Error processing query: "+err.Error(), "error"
		}
	}

	a.state.Append(session.Assistant, answer)
	if err := a.state.Save(); err != nil {
		a.logger.Warn("failed to save session", zap.Error(err))
	}
	a.metrics.ObserveQuery(outcome, time.Since(start))
	a.logger.Info("query answered", zap.String("outcome", outcome), zap.Duration("elapsed", time.Since(start)))
	return answer
}

func (a *Agent) answer(ctx context.Context, query string, history []llm.Message) (string, string, error) {
	tr, err := a.loop.Run(ctx, query, history)
	if err != nil {
		return "", "", err
	}
	return a.finish(ctx, tr)
}

// finish applies the termination check. A complete transcript is answered
// directly. An incomplete one from a strong model is returned as is. Other
// models get exactly one repair call asking for a final answer.
func (a *Agent) finish(ctx context.Context, tr *Transcript) (string, string, error) {
	if tr.Complete {
		return tr.FinalAnswer, "answered", nil
	}
	if a.core.IsStrong() {
		return tr.FinalAnswer, "stopped", nil
	}

	a.metrics.IncRepair()
	a.logger.Info("final answer missing, asking for one", zap.Int("steps", len(tr.Steps)))
	reply, err := a.core.Invoke(ctx, fmt.Sprintf(repairPrompt, tr.Query, tr.Render()))
	if err != nil {
		return "", "", errors.Wrapf(err, "repair call failed")
	}
	answer := StripFinalAnswer(reply)
	if answer == "" {
		answer = tr.FinalAnswer
	}
	return answer, "repaired", nil
}

// Close releases the model clients.
func (a *Agent) Close() error {
	return closeProviders(a.providers)
}

func closeProviders(ps Providers) error {
	var errs []error
	for _, p := range []llm.Provider{ps.Core, ps.Preprocessor, ps.Coder} {
		if p == nil {
			continue
		}
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Wrapf(errs[0], "failed to close %d model client(s)", len(errs))
	}
	return nil
}
