// Package gate authorizes shell commands before they run.
//
// Every command proposed by the agent passes through a Gate, which either
// approves it (possibly edited) or rejects it with operator feedback. The
// feedback is handed back to the model as the observation for that step.
package gate

import (
	"context"
	"strings"
)

// PrivilegePrefix marks commands that need an elevation credential.
const PrivilegePrefix = "sudo "

// DefaultFeedback is used when an operator rejects without saying why.
const DefaultFeedback = "Command execution cancelled by user"

type Request struct {
	Command    string
	Privileged bool
}

// NewRequest builds a Request, detecting privileged commands.
func NewRequest(command string) Request {
	return Request{Command: command, Privileged: IsPrivileged(command)}
}

// Decision is the resolution of a Request. When Approved, Command is what
// must be executed; it may differ from the proposal.
type Decision struct {
	Approved   bool
	Command    string
	Feedback   string
	Credential string `json:"-"`
}

// Modified reports whether an approved command differs from the proposal.
func (d Decision) Modified(req Request) bool {
	return d.Approved && d.Command != req.Command
}

// Label names the decision for metrics and the audit log.
func (d Decision) Label(req Request) string {
	switch {
	case !d.Approved:
		return "rejected"
	case d.Modified(req):
		return "modified"
	default:
		return "approved"
	}
}

func Approve(command string) Decision {
	return Decision{Approved: true, Command: command}
}

func Reject(feedback string) Decision {
	if strings.TrimSpace(feedback) == "" {
		feedback = DefaultFeedback
	}
	return Decision{Feedback: feedback}
}

// Gate decides whether a command may run. Implementations block until a
// decision is made or ctx is done.
type Gate interface {
	Authorize(ctx context.Context, req Request) (Decision, error)
}

// Func adapts an ordinary function to the Gate interface.
type Func func(ctx context.Context, req Request) (Decision, error)

func (f Func) Authorize(ctx context.Context, req Request) (Decision, error) {
	return f(ctx, req)
}

func IsPrivileged(command string) bool {
	return strings.HasPrefix(strings.TrimSpace(command), PrivilegePrefix)
}
