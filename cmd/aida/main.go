package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/m4xw311/aida/agent"
	"github.com/m4xw311/aida/agent/terminal"
	"github.com/m4xw311/aida/config"
	"github.com/m4xw311/aida/errors"
	"github.com/m4xw311/aida/gate"
	"github.com/m4xw311/aida/history"
	"github.com/m4xw311/aida/llm"
	"github.com/m4xw311/aida/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}

// options are the persistent flags shared by every command.
type options struct {
	configPath        string
	coreModel         string
	preprocessorModel string
	provider          string
	debug             bool
	gui               bool
	addr              string
}

func (o *options) overrides() config.Overrides {
	return config.Overrides{
		CoreModel:         o.coreModel,
		PreprocessorModel: o.preprocessorModel,
		Provider:          o.provider,
		Debug:             o.debug,
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "aida [question]",
		Short: "AIDA - AI server administration assistant",
		Long: "AIDA answers questions about this server in plain language. " +
			"It proposes shell commands and runs them only after you approve them.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadDotEnv()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.gui {
				return runServe(cmd, opts, "")
			}
			return runREPL(cmd, opts, strings.Join(args, " "))
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to config file")
	flags.StringVar(&opts.coreModel, "core-model", "", "Name of the model used for core functionality")
	flags.StringVar(&opts.preprocessorModel, "preprocessor-model", "", "Name of the model used for preprocessing")
	flags.StringVar(&opts.provider, "provider", "", "Provider used for both core and preprocessing")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	root.Flags().BoolVar(&opts.gui, "gui", false, "Serve the browser interface instead of the terminal")
	root.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:8080", "Listen address for --gui")

	root.AddCommand(
		newServeCmd(opts),
		newMCPCmd(opts),
		newLoginCmd(),
		newProvidersCmd(opts),
		newHistoryCmd(opts),
	)
	return root
}

// loadDotEnv reads .env from the working directory if there is one.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "failed to load .env")
	}
	return nil
}

// app holds what every agent-running command needs.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	level    zap.AtomicLevel
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	audit    *history.Store
}

func newApp(opts *options) (*app, error) {
	cfg, err := config.Resolve(opts.configPath, opts.overrides())
	if err != nil {
		return nil, err
	}

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Debug {
		level.SetLevel(zapcore.DebugLevel)
	}
	logger, err := newLogger(level)
	if err != nil {
		return nil, err
	}

	audit, err := history.Open(cfg.AuditDB)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &app{
		cfg:      cfg,
		logger:   logger,
		level:    level,
		registry: reg,
		metrics:  metrics.New(reg),
		audit:    audit,
	}, nil
}

func newLogger(level zap.AtomicLevel) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = level
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.OutputPaths = []string{"stderr"}
	zc.DisableStacktrace = true
	logger, err := zc.Build()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build logger")
	}
	return logger, nil
}

func (r *app) close() {
	if err := r.audit.Close(); err != nil {
		r.logger.Warn("failed to close audit log", zap.Error(err))
	}
	r.logger.Sync()
}

func (r *app) newAgent(ctx context.Context, g gate.Gate, onStep func(agent.Step)) (*agent.Agent, error) {
	return agent.New(ctx, r.cfg, llm.NewRegistry(), agent.Deps{
		Gate:    g,
		Audit:   r.audit,
		Metrics: r.metrics,
		Logger:  r.logger,
		OnStep:  onStep,
	})
}

func runREPL(cmd *cobra.Command, opts *options, initialPrompt string) error {
	rt, err := newApp(opts)
	if err != nil {
		return err
	}
	defer rt.close()

	out := cmd.OutOrStdout()
	g := gate.NewTerminal(cmd.InOrStdin(), out)
	a, err := rt.newAgent(cmd.Context(), g, debugSteps(out, rt.level))
	if err != nil {
		return err
	}
	defer a.Close()

	return terminal.New(a, rt.cfg, rt.level, g.Reader(), out).Run(cmd.Context(), initialPrompt)
}

// debugSteps prints each loop step while debug logging is enabled.
func debugSteps(out io.Writer, level zap.AtomicLevel) func(agent.Step) {
	return func(s agent.Step) {
		if !level.Enabled(zapcore.DebugLevel) {
			return
		}
		fmt.Fprintf(out, "\nThought: %s\nAction: %s\nAction Input: %s\nObservation: %s\n",
			s.Thought, s.Action, s.ActionInput, s.Observation)
	}
}
