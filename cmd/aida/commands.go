package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/m4xw311/aida/agent"
	"github.com/m4xw311/aida/config"
	"github.com/m4xw311/aida/credentials"
	"github.com/m4xw311/aida/errors"
	"github.com/m4xw311/aida/gate"
	"github.com/m4xw311/aida/history"
	"github.com/m4xw311/aida/llm"
	"github.com/m4xw311/aida/mcpserver"
	"github.com/m4xw311/aida/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

func newServeCmd(opts *options) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the browser interface over a websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:8080", "Listen address")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Optional separate listen address for /metrics")
	return cmd
}

func runServe(cmd *cobra.Command, opts *options, metricsAddr string) error {
	rt, err := newApp(opts)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	srv := server.New(func(g gate.Gate, onStep func(agent.Step)) (server.Querier, error) {
		a, err := rt.newAgent(ctx, g, onStep)
		if err != nil {
			return nil, err
		}
		return a, nil
	}, server.WithLogger(rt.logger), server.WithGatherer(rt.registry))

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		fmt.Fprintf(cmd.OutOrStdout(), "AIDA is listening on http://%s\n", opts.addr)
		return srv.ListenAndServe(ctx, opts.addr)
	})
	if metricsAddr != "" {
		eg.Go(func() error { return srv.ListenAndServeMetrics(ctx, metricsAddr) })
	}
	return eg.Wait()
}

func newMCPCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the process_query tool over MCP on stdio",
		Long: "Serve the process_query tool over the Model Context Protocol on stdio. " +
			"Nobody is present to approve commands, so only commands matching allowed_commands run.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newApp(opts)
			if err != nil {
				return err
			}
			defer rt.close()

			if len(rt.cfg.AllowedCommands) == 0 {
				rt.logger.Warn("allowed_commands is empty; every command will be rejected")
			}
			a, err := rt.newAgent(cmd.Context(), gate.NewPolicy(rt.cfg.AllowedCommands, rt.logger), nil)
			if err != nil {
				return err
			}
			defer a.Close()
			return mcpserver.New(a, version, rt.logger).Run(cmd.Context())
		},
	}
}

func newLoginCmd() *cobra.Command {
	var provider string
	var forget bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a provider API key in the system keychain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := credentials.ForProvider(strings.ToLower(provider))
			if name == "" {
				return errors.Wrapf(errors.ErrConfig, "provider %q does not use an API key", provider)
			}
			if forget {
				if err := credentials.Forget(name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from the keychain\n", name)
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Enter %s: ", name)
			key, err := readSecret(cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if err := credentials.Store(name, key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s in the keychain\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Provider to log in to (gemini, openai, anthropic)")
	cmd.Flags().BoolVar(&forget, "forget", false, "Remove the stored key instead")
	cmd.MarkFlagRequired("provider")
	return cmd
}

// readSecret reads without echo from a terminal and reads a line otherwise.
func readSecret(in io.Reader, out io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", errors.Wrapf(err, "failed to read secret")
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.Wrapf(err, "failed to read secret")
	}
	return strings.TrimSpace(line), nil
}

func newProvidersCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List model providers and whether they are configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(opts.configPath, opts.overrides())
			if err != nil {
				return err
			}
			return listProviders(cmd.OutOrStdout(), cfg, llm.NewRegistry())
		},
	}
}

func listProviders(out io.Writer, cfg *config.Config, reg *llm.Registry) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tCREDENTIAL\tMODELS")
	for _, kind := range reg.Kinds() {
		status := "not needed"
		if name := credentials.ForProvider(kind); name != "" {
			status = name + " (missing)"
			if _, err := credentials.Lookup(name); err == nil {
				status = name + " (set)"
			}
		}
		models := "any"
		if allowed := cfg.AllowedModels[kind]; len(allowed) > 0 {
			models = strings.Join(allowed, ", ")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", kind, status, models)
	}
	fmt.Fprintf(w, "\ncore: %s/%s\tpreprocessor: %s/%s\n",
		cfg.CoreProvider, cfg.CoreModel, cfg.PreprocessorProvider, cfg.PreprocessorModel)
	return w.Flush()
}

func newHistoryCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent command approvals from the audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(opts.configPath, opts.overrides())
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.AuditDB)
			if err != nil {
				return err
			}
			if store == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "The audit log is disabled. Set audit_db in the config file to enable it.")
				return nil
			}
			defer store.Close()

			records, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of entries")
	return cmd
}

func printHistory(out io.Writer, records []history.Record) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "No commands recorded yet.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tDECISION\tCOMMAND\tEXIT\tNOTE")
	for _, r := range records {
		decision, command, note := "approved", r.Executed, r.Error
		switch {
		case !r.Approved:
			decision, command, note = "rejected", r.Proposed, r.Feedback
		case r.Executed != r.Proposed:
			decision = "modified"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.Timestamp.Local().Format("2006-01-02 15:04:05"), decision, command, r.ExitCode, note)
	}
	return w.Flush()
}
