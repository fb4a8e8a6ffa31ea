package agent

import (
	"context"
	"fmt"

	"github.com/m4xw311/aida/errors"
	"github.com/m4xw311/aida/llm"
	"github.com/m4xw311/aida/tools"
)

// CoderToolName is the main agent's action for delegating to the code agent.
const CoderToolName = "coder"

const coderPrefix = `You are an AI Software Engineer agent that has 10 years experience in python development.
You are given a task to write code, execute and solve the problem.
- You have access to the shell tool to execute commands and get real output.
- You can install a new package if required. But always follow these rules:
  - Before you install anything, verify that the package does not exist on the system.
  - Always find out which OS is running on the server to use the correct package manager.
  - Use ` + "`pip list`" + ` to check if the package is installed.
- When you are writing the code, always use the write_code_to_file tool with just the executable code and no other strings.
- Document the code really well and make sure it is executable.
- Don't execute the code directly with the shell tool. Execute it using python %[1]s
- Never assume external media files are available. Unless specified, always generate them.

Example interaction:
Question: Write the code to print hello world
Thought: I need to write the code to print hello world
Action: write_code_to_file
Action Input: print("Hello World)
Observation: Code written to %[1]s. Run python %[1]s with the shell tool to execute and test the code
Thought: I need to execute the code to see if it works
Action: shell
Action Input: python %[1]s
Observation: SyntaxError: unterminated string literal (detected at line 1)
Thought: I need to fix the code to print hello world
Action: write_code_to_file
Action Input: print("Hello World")
Observation: Code written to %[1]s. Run python %[1]s with the shell tool to execute and test the code
Thought: I need to execute the code to see if it works
Action: shell
Action Input: python %[1]s
Observation: Hello World
Final Answer: The code has been written and executed successfully`

// CoderConfig tunes the code-generation agent.
type CoderConfig struct {
	CodePath string
	// MaxIterations applies to ordinary models, StrongMaxIterations to strong ones.
	MaxIterations       int
	StrongMaxIterations int
	Loop                LoopConfig
}

// Coder is a nested agent loop that writes a program to a file and runs it
// through the same gated shell tool as the main agent. It is offered to the
// main loop as the "coder" tool.
type Coder struct {
	loop *Loop
}

// NewCoder builds the code agent for a parent loop at parentDepth. The code
// agent itself cannot delegate further.
func NewCoder(provider llm.Provider, shell tools.Tool, parentDepth int, cfg CoderConfig) (*Coder, error) {
	if parentDepth+1 > MaxDepth {
		return nil, errors.Wrapf(errors.ErrDepthExceeded, "a loop at depth %d cannot start a code agent", parentDepth)
	}

	iterations := cfg.MaxIterations
	if provider.IsStrong() && cfg.StrongMaxIterations > 0 {
		iterations = cfg.StrongMaxIterations
	}
	loopCfg := cfg.Loop
	loopCfg.Prefix = fmt.Sprintf(coderPrefix, cfg.CodePath)
	loopCfg.MaxIterations = iterations
	loopCfg.Depth = parentDepth + 1

	registry := tools.NewRegistry(shell, tools.NewWriteCodeTool(cfg.CodePath))
	loop, err := NewLoop(provider, registry, loopCfg)
	if err != nil {
		return nil, err
	}
	return &Coder{loop: loop}, nil
}

func (c *Coder) Name() string { return CoderToolName }

func (c *Coder) Description() string {
	return "Delegate a task that needs a program to a Python engineer who writes, runs and fixes the code. Action Input is a complete description of the task."
}

func (c *Coder) Execute(ctx context.Context, input string) (tools.Result, error) {
	tr, err := c.loop.Run(ctx, input, nil)
	if err != nil {
		// A failing code model is something the main agent can work around.
		// Gate failures and cancellation end the whole query.
		if ctx.Err() == nil && errors.Is(err, errors.ErrProvider) {
			return tools.Result{}, tools.NewExecutionError(c.Name(), err, "the code agent failed: %v", err)
		}
		return tools.Result{}, err
	}
	if tr.Stopped {
		last := "none"
		if n := len(tr.Steps); n > 0 {
			last = tr.Steps[n-1].Observation
		}
		return tools.Result{Output: fmt.Sprintf("The code agent stopped before finishing. Last observation: %s", last)}, nil
	}
	return tools.Result{Output: tr.FinalAnswer}, nil
}
