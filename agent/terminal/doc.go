// Package terminal implements the interactive command-line mode.
//
// The operator types questions at a prompt and reads the agent's answers.
// Besides questions, three words are understood:
//
//   - exit: leave the loop
//   - debug: toggle debug logging
//   - config: print the models in use
//
// Command approvals are asked on the same input stream, so the loop and the
// terminal gate must share one buffered reader:
//
//	g := gate.NewTerminal(os.Stdin, os.Stdout)
//	a, err := agent.New(ctx, cfg, llm.NewRegistry(), agent.Deps{Gate: g, Logger: logger})
//	if err != nil {
//	    // handle error
//	}
//	err = terminal.New(a, cfg, level, g.Reader(), os.Stdout).Run(ctx, "")
package terminal
