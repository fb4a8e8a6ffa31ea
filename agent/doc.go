// Package agent answers natural-language questions about the server.
//
// A query first passes the relevance preprocessor. Relevant queries are then
// handled by a ReAct loop: the core model alternates Thought, Action and
// Action Input lines, each action runs a tool, and the tool result is fed
// back as an Observation until the model writes a Final Answer.
//
// # Tools
//
// The main loop is offered three tools:
//
//   - shell: runs a command after it passes the approval gate
//   - web_search: looks a question up on the web
//   - coder: a nested loop that writes a Python program to a file and runs it
//
// The coder loop runs at depth 1 and may not start further loops.
//
// # Termination
//
// A loop stops at its iteration bound. When the core model is not strong and
// the run ended without a Final Answer, exactly one repair call asks it for
// one. Strong models are trusted and their output is returned as is.
//
// # Usage
//
//	a, err := agent.New(ctx, cfg, llm.NewRegistry(), agent.Deps{
//	    Gate:   gate.NewTerminal(os.Stdin, os.Stdout),
//	    Logger: logger,
//	})
//	if err != nil {
//	    // handle error
//	}
//	defer a.Close()
//	fmt.Println(a.ProcessQuery(ctx, "How many users are logged in?"))
//
// ProcessQuery never fails. Errors are reported as answers beginning with
// "Error processing query:".
//
// # Subpackages
//
// agent/terminal: the interactive read-eval-print loop.
package agent
