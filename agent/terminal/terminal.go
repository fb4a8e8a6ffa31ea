package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/m4xw311/aida/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Querier answers one query. *agent.Agent implements it.
type Querier interface {
	ProcessQuery(ctx context.Context, query string) string
}

// Terminal is the interactive read-eval-print loop.
type Terminal struct {
	agent Querier
	cfg   *config.Config
	level zap.AtomicLevel
	in    *bufio.Reader
	out   io.Writer
}

// New creates a Terminal. in should be the same buffered reader the command
// gate uses, since both read from the operator.
func New(a Querier, cfg *config.Config, level zap.AtomicLevel, in *bufio.Reader, out io.Writer) *Terminal {
	return &Terminal{agent: a, cfg: cfg, level: level, in: in, out: out}
}

// Run reads queries until "exit", end of input or cancellation of ctx.
// If initialPrompt is non-empty it is answered first.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	t.printConfig("Initializing AIDA with:")
	fmt.Fprintln(t.out, "\nAIDA is ready! Type 'exit' to quit.")
	fmt.Fprintln(t.out, "Type 'debug' to toggle debug mode.")
	fmt.Fprintln(t.out, "Type 'config' to show current configuration.")

	if initialPrompt != "" {
		t.processTurn(ctx, initialPrompt)
	}

	for ctx.Err() == nil {
		fmt.Fprint(t.out, "\nWhat can I help you with? > ")
		line, err := t.in.ReadString('\n')
		if err != nil && line == "" {
			if err != io.EOF {
				return err
			}
			break
		}

		query := strings.TrimSpace(line)
		switch strings.ToLower(query) {
		case "":
			continue
		case "exit", "quit", "/exit", "/quit":
			fmt.Fprintln(t.out, "\nGoodbye!")
			return nil
		case "debug":
			t.toggleDebug()
			continue
		case "config":
			t.printConfig("Current configuration:")
			continue
		}
		t.processTurn(ctx, query)
	}

	fmt.Fprintln(t.out, "\nGoodbye!")
	return nil
}

func (t *Terminal) processTurn(ctx context.Context, query string) {
	fmt.Fprintln(t.out, "\nProcessing your request...")
	fmt.Fprintf(t.out, "\nAIDA: %s\n", t.agent.ProcessQuery(ctx, query))
}

func (t *Terminal) debugEnabled() bool {
	return t.level.Enabled(zapcore.DebugLevel)
}

func (t *Terminal) toggleDebug() {
	if t.debugEnabled() {
		t.level.SetLevel(zapcore.InfoLevel)
	} else {
		t.level.SetLevel(zapcore.DebugLevel)
	}
	fmt.Fprintf(t.out, "\nDebug mode: %s\n", onOff(t.debugEnabled()))
}

func (t *Terminal) printConfig(title string) {
	fmt.Fprintf(t.out, "\n%s\n", title)
	fmt.Fprintf(t.out, "  Core model: %s/%s\n", t.cfg.CoreProvider, t.cfg.CoreModel)
	fmt.Fprintf(t.out, "  Preprocessor model: %s/%s\n", t.cfg.PreprocessorProvider, t.cfg.PreprocessorModel)
	if t.cfg.CoderProvider != "" {
		fmt.Fprintf(t.out, "  Coder model: %s/%s\n", t.cfg.CoderProvider, t.cfg.CoderModel)
	}
	fmt.Fprintf(t.out, "  Debug mode: %s\n", onOff(t.debugEnabled()))
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
