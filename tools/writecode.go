package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// WriteCodeToolName is the action the code-generation agent uses to save code.
const WriteCodeToolName = "write_code_to_file"

var fencedBlock = regexp.MustCompile("(?s)```[A-Za-z0-9_+.-]*[ \t]*\r?\n(.*?)\r?\n?```")

// WriteCodeTool saves generated code to a single fixed file, replacing it.
type WriteCodeTool struct {
	path string
}

func NewWriteCodeTool(path string) *WriteCodeTool {
	return &WriteCodeTool{path: path}
}

func (t *WriteCodeTool) Name() string { return WriteCodeToolName }

func (t *WriteCodeTool) Description() string {
	return fmt.Sprintf("Use this tool to write the code to %s. Action Input is just the executable code, no other text.", t.path)
}

func (t *WriteCodeTool) Execute(ctx context.Context, input string) (Result, error) {
	code := ExtractCode(input)
	if strings.TrimSpace(code) == "" {
		return Result{}, NewExecutionError(t.Name(), nil, "no code given. Provide the program as the Action Input")
	}

	if dir := filepath.Dir(t.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Result{}, NewExecutionError(t.Name(), err, "failed to create directory for '%s': %v", t.path, err)
		}
	}
	if err := os.WriteFile(t.path, []byte(code), 0o644); err != nil {
		return Result{}, NewExecutionError(t.Name(), err, "failed to write to file '%s': %v", t.path, err)
	}
	return Result{
		Input:  code,
		Output: fmt.Sprintf("Code written to %s. Run python %s with the shell tool to execute and test the code", t.path, t.path),
	}, nil
}

// ExtractCode returns the body of the first fenced code block in text, with
// any language tag, or text unchanged when it has no fence.
func ExtractCode(text string) string {
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		return m[1] + "\n"
	}
	return text
}
