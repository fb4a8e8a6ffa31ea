package gate

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/m4xw311/aida/errors"
)

// Remote reply actions.
const (
	ActionAccept = "accept"
	ActionModify = "modify"
	ActionReject = "reject"
)

// Prompt is an approval request pushed to a remote front end.
type Prompt struct {
	ID         string `json:"id"`
	Command    string `json:"command"`
	Privileged bool   `json:"privileged"`
}

// Reply is the front end's answer to a Prompt.
type Reply struct {
	ID         string `json:"id"`
	Action     string `json:"action"`
	Command    string `json:"command,omitempty"`
	Feedback   string `json:"feedback,omitempty"`
	Credential string `json:"credential,omitempty"`
}

// Remote delegates approval to an asynchronous front end. Authorize pushes a
// Prompt through send and blocks until Resolve is called with a matching
// Reply. Only one request is outstanding at a time.
type Remote struct {
	send func(ctx context.Context, p Prompt) error

	serial sync.Mutex

	mu      sync.Mutex
	pending *pendingPrompt
}

type pendingPrompt struct {
	prompt  Prompt
	replies chan Decision
}

func NewRemote(send func(ctx context.Context, p Prompt) error) *Remote {
	return &Remote{send: send}
}

func (r *Remote) Authorize(ctx context.Context, req Request) (Decision, error) {
	r.serial.Lock()
	defer r.serial.Unlock()

	p := &pendingPrompt{
		prompt:  Prompt{ID: uuid.NewString(), Command: req.Command, Privileged: req.Privileged},
		replies: make(chan Decision, 1),
	}
	r.mu.Lock()
	r.pending = p
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.pending = nil
		r.mu.Unlock()
	}()

	if err := r.send(ctx, p.prompt); err != nil {
		return Decision{}, errors.Wrapf(err, "failed to send approval request")
	}

	select {
	case d := <-p.replies:
		return d, nil
	case <-ctx.Done():
		return Decision{}, errors.Wrapf(ctx.Err(), "approval for %q abandoned", req.Command)
	}
}

// Pending returns the outstanding prompt, if any.
func (r *Remote) Pending() (Prompt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return Prompt{}, false
	}
	return r.pending.prompt, true
}

// Resolve answers the outstanding prompt. Invalid replies are refused and the
// prompt stays open: rejections need feedback, modifications need a command,
// and privileged approvals need a credential.
func (r *Remote) Resolve(reply Reply) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.pending
	if p == nil {
		return errors.New("no approval request is pending")
	}
	if reply.ID != "" && reply.ID != p.prompt.ID {
		return errors.New("approval reply %s does not match pending request %s", reply.ID, p.prompt.ID)
	}

	var d Decision
	switch strings.ToLower(reply.Action) {
	case ActionReject:
		if strings.TrimSpace(reply.Feedback) == "" {
			return errors.New("rejection requires feedback")
		}
		d = Reject(reply.Feedback)
	case ActionModify, ActionAccept:
		command := p.prompt.Command
		if strings.TrimSpace(reply.Command) != "" {
			command = strings.TrimSpace(reply.Command)
		} else if strings.ToLower(reply.Action) == ActionModify {
			return errors.New("modification requires a command")
		}
		d = Approve(command)
		if IsPrivileged(command) {
			if reply.Credential == "" {
				return errors.New("privileged command requires a credential")
			}
			d.Credential = reply.Credential
		}
	default:
		return errors.New("unknown approval action %q", reply.Action)
	}

	select {
	case p.replies <- d:
	default:
		return errors.New("approval request %s already resolved", p.prompt.ID)
	}
	return nil
}
