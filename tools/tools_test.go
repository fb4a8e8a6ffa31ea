package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m4xw311/aida/errors"
	"github.com/m4xw311/aida/gate"
	"github.com/m4xw311/aida/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls []string
	stdin []string
	out   Output
	err   error
}

func (f *fakeRunner) Run(_ context.Context, command, stdin string) (Output, error) {
	f.calls = append(f.calls, command)
	f.stdin = append(f.stdin, stdin)
	return f.out, f.err
}

func fixedGate(d gate.Decision) (gate.Gate, *[]gate.Request) {
	var seen []gate.Request
	return gate.Func(func(_ context.Context, req gate.Request) (gate.Decision, error) {
		seen = append(seen, req)
		return d, nil
	}), &seen
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewWriteCodeTool("x.py"), NewShellTool(nil, nil))
	assert.Equal(t, []string{WriteCodeToolName, ShellToolName}, r.Names())

	tool, ok := r.Get(" shell ")
	require.True(t, ok)
	assert.Equal(t, ShellToolName, tool.Name())

	_, ok = r.Get("python")
	assert.False(t, ok)
	assert.Contains(t, r.Describe(), "write_code_to_file: Use this tool")
}

func TestCleanCommand(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"who | wc -l", "who | wc -l"},
		{"  `uptime`  ", "uptime"},
		{"'df -h'", "df -h"},
		{"```bash\nls -la /var/log\n```", "ls -la /var/log"},
		{"```\nfree -m\n```", "free -m"},
		{"```ps aux```", "ps aux"},
		{"echo 'a' 'b'", "echo 'a' 'b'"},
		{"   ", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, CleanCommand(tc.in), "input %q", tc.in)
	}
}

func TestShellToolApproved(t *testing.T) {
	runner := &fakeRunner{out: Output{Stdout: "3\n", Duration: time.Millisecond}}
	g, seen := fixedGate(gate.Approve("who | wc -l"))
	tool := NewShellTool(g, runner)

	res, err := tool.Execute(context.Background(), "who | wc -l")
	require.NoError(t, err)
	assert.Equal(t, "3", res.Output)
	require.NotNil(t, res.Decision)
	assert.True(t, res.Decision.Approved)
	assert.Equal(t, []string{"who | wc -l"}, runner.calls)
	assert.Len(t, *seen, 1)
}

func TestShellToolRejectedNeverRuns(t *testing.T) {
	runner := &fakeRunner{}
	g, _ := fixedGate(gate.Reject("check disk usage with df instead"))
	tool := NewShellTool(g, runner)

	res, err := tool.Execute(context.Background(), "du -sh /")
	require.NoError(t, err)
	assert.Equal(t, "check disk usage with df instead", res.Output)
	assert.False(t, res.Decision.Approved)
	assert.Empty(t, runner.calls)
}

func TestShellToolRunsEditedCommandAndAudits(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	runner := &fakeRunner{out: Output{Stdout: "user1 pts/0\n"}}
	g, _ := fixedGate(gate.Approve("who"))
	tool := NewShellTool(g, runner, WithAudit(store, "sess"))

	res, err := tool.Execute(context.Background(), "who | wc -l")
	require.NoError(t, err)
	assert.Equal(t, "who", res.Input)
	assert.Equal(t, []string{"who"}, runner.calls)

	recs, err := store.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "who | wc -l", recs[0].Proposed)
	assert.Equal(t, "who", recs[0].Executed)
	assert.Equal(t, "sess", recs[0].SessionID)
}

func TestShellToolPrivilegedUsesCredential(t *testing.T) {
	runner := &fakeRunner{out: Output{Stdout: "root\n"}}
	d := gate.Approve("sudo whoami")
	d.Credential = "s3cret"
	g, seen := fixedGate(d)
	tool := NewShellTool(g, runner)

	_, err := tool.Execute(context.Background(), "sudo whoami")
	require.NoError(t, err)
	assert.True(t, (*seen)[0].Privileged)
	assert.Equal(t, []string{"sudo -S -p '' whoami"}, runner.calls)
	assert.Equal(t, []string{"s3cret\n"}, runner.stdin)
}

func TestShellToolFailureIsObservation(t *testing.T) {
	runner := &fakeRunner{out: Output{Stderr: "ls: cannot access '/nope'", ExitCode: 2}, err: errors.New("exit status 2")}
	g, _ := fixedGate(gate.Approve("ls /nope"))
	tool := NewShellTool(g, runner)

	res, err := tool.Execute(context.Background(), "ls /nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrToolExecution))
	assert.NotNil(t, res.Decision)

	obs, ok := Observation(err)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(obs, "Error: command 'ls /nope' failed with exit code 2"))
	assert.Contains(t, obs, "cannot access")
}

func TestShellToolGateErrorAborts(t *testing.T) {
	g := gate.Func(func(context.Context, gate.Request) (gate.Decision, error) {
		return gate.Decision{}, context.Canceled
	})
	_, err := NewShellTool(g, &fakeRunner{}).Execute(context.Background(), "uptime")
	require.Error(t, err)
	_, ok := Observation(err)
	assert.False(t, ok)
}

func TestShellToolEmptyCommand(t *testing.T) {
	_, err := NewShellTool(nil, nil).Execute(context.Background(), "  ")
	assert.True(t, errors.Is(err, errors.ErrToolExecution))
}

func TestLocalRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	r := &LocalRunner{Timeout: 5 * time.Second}
	ctx := context.Background()

	out, err := r.Run(ctx, "echo hello; echo oops 1>&2", "")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out.Stdout)
	assert.Equal(t, "oops\n", out.Stderr)

	out, err = r.Run(ctx, "read line; echo got $line", "pw\n")
	require.NoError(t, err)
	assert.Equal(t, "got pw\n", out.Stdout)

	out, err = r.Run(ctx, "exit 3", "")
	require.Error(t, err)
	assert.Equal(t, 3, out.ExitCode)

	short := &LocalRunner{Timeout: 50 * time.Millisecond}
	_, err = short.Run(ctx, "sleep 5", "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWriteCodeTool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "generated_code.py")
	tool := NewWriteCodeTool(path)

	res, err := tool.Execute(context.Background(), "Here you go:\n```python\nprint(\"Hello World\")\n```\nthanks")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("Code written to %s. Run python %s with the shell tool to execute and test the code", path, path), res.Output)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "print(\"Hello World\")\n", string(data))

	_, err = tool.Execute(context.Background(), "print(1)")
	require.NoError(t, err)
	data, _ = os.ReadFile(path)
	assert.Equal(t, "print(1)", string(data), "file is overwritten")

	_, err = tool.Execute(context.Background(), " ")
	assert.True(t, errors.Is(err, errors.ErrToolExecution))
}

func TestExtractCode(t *testing.T) {
	assert.Equal(t, "echo hi\n", ExtractCode("```sh\necho hi\n```"))
	assert.Equal(t, "x = 1\ny = 2\n", ExtractCode("```\nx = 1\ny = 2\n```\n```go\nignored\n```"))
	assert.Equal(t, "plain", ExtractCode("plain"))
}

const searchPage = `<html><body>
<div class="result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fwiki.archlinux.org%2Ftitle%2FSystemd&rut=x">systemd - ArchWiki</a>
  <a class="result__snippet">systemd is a suite of   basic building blocks</a>
</div>
<div class="result">
  <a class="result__a" href="https://man7.org/linux/man-pages/man1/journalctl.1.html">journalctl(1)</a>
  <div class="result__snippet">Query the journal</div>
</div>
<div class="result"><span>ad without link</span></div>
</body></html>`

func TestWebSearch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "systemd journal", r.URL.Query().Get("q"))
		fmt.Fprint(w, searchPage)
	}))
	defer srv.Close()

	ws := NewWebSearch(srv.URL+"/html/", srv.Client(), nil)
	res, err := ws.Execute(context.Background(), "systemd journal")
	require.NoError(t, err)
	assert.Contains(t, res.Output, "1. systemd - ArchWiki\n   https://wiki.archlinux.org/title/Systemd\n   systemd is a suite of basic building blocks")
	assert.Contains(t, res.Output, "2. journalctl(1)")
	assert.NotContains(t, res.Output, "3.")

	_, err = ws.Execute(context.Background(), "systemd journal")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "second lookup is served from cache")
}

func TestWebSearchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ws := NewWebSearch(srv.URL, srv.Client(), nil)
	_, err := ws.Execute(context.Background(), "")
	assert.True(t, errors.Is(err, errors.ErrToolExecution))

	_, err = ws.Execute(context.Background(), "nginx 502")
	require.Error(t, err)
	obs, ok := Observation(err)
	assert.True(t, ok)
	assert.Contains(t, obs, "503")
}

func TestFormatResultsEmpty(t *testing.T) {
	assert.Equal(t, `No results found for "zzz"`, formatResults("zzz", nil))
}
