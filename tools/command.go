package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/m4xw311/aida/errors"
	"github.com/m4xw311/aida/gate"
	"github.com/m4xw311/aida/history"
	"github.com/m4xw311/aida/metrics"
	"go.uber.org/zap"
)

// ShellToolName is the action name the model uses to run commands.
const ShellToolName = "shell"

// maxObservation bounds how much command output is fed back to the model.
const maxObservation = 8000

// Output is what a finished command wrote.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Combined returns stdout followed by stderr.
func (o Output) Combined() string {
	switch {
	case o.Stderr == "":
		return o.Stdout
	case o.Stdout == "":
		return o.Stderr
	default:
		return strings.TrimRight(o.Stdout, "\n") + "\n" + o.Stderr
	}
}

// Runner executes an approved command line. stdin may be empty.
type Runner interface {
	Run(ctx context.Context, command, stdin string) (Output, error)
}

// LocalRunner runs commands with `sh -c` on the local host.
type LocalRunner struct {
	Shell   string
	Timeout time.Duration
}

func (r *LocalRunner) Run(ctx context.Context, command, stdin string) (Output, error) {
	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, shell, "-c", command)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if stdin != "" {
		c.Stdin = strings.NewReader(stdin)
	}
	// Children that keep the pipes open must not hang the agent.
	c.WaitDelay = time.Second

	start := time.Now()
	err := c.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(start)}

	if ctx.Err() != nil {
		out.ExitCode = -1
		return out, errors.Wrapf(ctx.Err(), "command did not finish")
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, err
	}
	if err != nil {
		out.ExitCode = -1
		return out, errors.Wrapf(err, "failed to start command")
	}
	return out, nil
}

// ShellTool runs shell commands after they pass the approval gate.
type ShellTool struct {
	gate      gate.Gate
	runner    Runner
	audit     *history.Store
	metrics   *metrics.Metrics
	logger    *zap.Logger
	sessionID string
}

type ShellOption func(*ShellTool)

func WithAudit(s *history.Store, sessionID string) ShellOption {
	return func(t *ShellTool) {
		t.audit = s
		t.sessionID = sessionID
	}
}

func WithShellMetrics(m *metrics.Metrics) ShellOption {
	return func(t *ShellTool) { t.metrics = m }
}

func WithShellLogger(l *zap.Logger) ShellOption {
	return func(t *ShellTool) { t.logger = l }
}

func NewShellTool(g gate.Gate, r Runner, opts ...ShellOption) *ShellTool {
	t := &ShellTool{gate: g, runner: r, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *ShellTool) Name() string { return ShellToolName }

func (t *ShellTool) Description() string {
	return `Execute shell commands on the server. Use this tool to run commands and get their output.
The command will be shown to the user for validation before execution.
Action Input must be the bare command line, for example:
Action: shell
Action Input: who`
}

// Execute asks the gate about the command and runs only what it approved.
// A rejection is not an error: the operator's feedback is the output.
func (t *ShellTool) Execute(ctx context.Context, input string) (Result, error) {
	command := CleanCommand(input)
	if command == "" {
		return Result{}, NewExecutionError(t.Name(), nil, "no command given. Provide the command line as the Action Input")
	}

	req := gate.NewRequest(command)
	d, err := t.gate.Authorize(ctx, req)
	if err != nil {
		return Result{Input: command}, errors.Wrapf(err, "command approval failed")
	}
	t.metrics.ObserveGateDecision(d.Label(req))
	t.logger.Info("command decision",
		zap.String("proposed", command),
		zap.String("decision", d.Label(req)),
		zap.String("executed", d.Command))

	res := Result{Input: command, Decision: &d}
	rec := history.Record{SessionID: t.sessionID, Proposed: command, Approved: d.Approved, Feedback: d.Feedback}

	if !d.Approved {
		t.record(ctx, rec)
		res.Output = d.Feedback
		return res, nil
	}

	res.Input = d.Command
	line, stdin := d.Command, ""
	if gate.IsPrivileged(d.Command) && d.Credential != "" {
		line, stdin = elevate(d.Command), d.Credential+"\n"
	}

	out, runErr := t.runner.Run(ctx, line, stdin)
	t.metrics.ObserveCommand(out.Duration)
	rec.Executed = d.Command
	rec.ExitCode = out.ExitCode
	rec.DurationMS = out.Duration.Milliseconds()
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	t.record(ctx, rec)

	text := truncate(strings.TrimSpace(out.Combined()))
	if runErr != nil {
		if text == "" {
			text = runErr.Error()
		}
		return res, NewExecutionError(t.Name(), runErr, "command '%s' failed with exit code %d. Output:\n%s", d.Command, out.ExitCode, text)
	}
	if text == "" {
		text = "Command executed successfully with no output"
	}
	if d.Modified(req) {
		text = fmt.Sprintf("The operator changed the command to: %s\n%s", d.Command, text)
	}
	res.Output = text
	return res, nil
}

func (t *ShellTool) record(ctx context.Context, rec history.Record) {
	// Audit failures never block the operator.
	if err := t.audit.Add(context.WithoutCancel(ctx), rec); err != nil {
		t.logger.Warn("audit write failed", zap.Error(err))
	}
}

// elevate rewrites "sudo cmd" to read the password from stdin without a prompt.
func elevate(command string) string {
	rest := strings.TrimPrefix(strings.TrimSpace(command), gate.PrivilegePrefix)
	return "sudo -S -p '' " + strings.TrimSpace(rest)
}

// CleanCommand strips the wrapping models commonly add around a command:
// surrounding whitespace, quotes, inline backticks and code fences.
func CleanCommand(input string) string {
	s := strings.TrimSpace(input)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], " |;&") {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	s = strings.TrimSpace(s)
	for _, q := range []string{"`", `"`, "'"} {
		if len(s) >= 2 && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && strings.Count(s, q) == 2 {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}

func truncate(s string) string {
	if len(s) <= maxObservation {
		return s
	}
	return s[:maxObservation] + fmt.Sprintf("\n... (output truncated, %d more bytes)", len(s)-maxObservation)
}
