package gate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/m4xw311/aida/errors"
	"golang.org/x/term"
)

// Terminal asks the operator on a line-oriented terminal.
type Terminal struct {
	in  *bufio.Reader
	out io.Writer
	// readSecret reads the sudo password. It defaults to a masked read when
	// stdin is a terminal and to a plain line read otherwise.
	readSecret func() (string, error)
}

// NewTerminal returns a Terminal gate over in and out, defaulting to stdio.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	t := &Terminal{in: bufio.NewReader(in), out: out}

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		t.readSecret = func() (string, error) {
			b, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(t.out)
			return string(b), err
		}
	} else {
		t.readSecret = t.readLine
	}
	return t
}

// Authorize prints the command and asks for y/n/modify. Rejections always
// collect feedback. Approved privileged commands collect the sudo password.
func (t *Terminal) Authorize(ctx context.Context, req Request) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	fmt.Fprintf(t.out, "\nCommand to execute: %s\n", req.Command)
	fmt.Fprint(t.out, "Do you want to execute this command? (y/n/modify): ")
	answer, err := t.readLine()
	if err != nil {
		return Decision{}, err
	}

	command := req.Command
	switch strings.ToLower(answer) {
	case "y", "yes":
	case "m", "modify":
		fmt.Fprint(t.out, "Enter the modified command: ")
		edited, err := t.readLine()
		if err != nil {
			return Decision{}, err
		}
		if edited == "" {
			return t.reject()
		}
		command = edited
	default:
		return t.reject()
	}

	d := Approve(command)
	if IsPrivileged(command) {
		fmt.Fprint(t.out, "Enter sudo password: ")
		secret, err := t.readSecret()
		if err != nil {
			return Decision{}, errors.Wrapf(err, "failed to read sudo password")
		}
		d.Credential = secret
	}
	return d, nil
}

// Reader is the buffered input the gate reads from. Anything else reading the
// same stream must share it, or buffered lines are lost.
func (t *Terminal) Reader() *bufio.Reader { return t.in }

func (t *Terminal) reject() (Decision, error) {
	fmt.Fprint(t.out, "Please provide feedback for the AI: ")
	feedback, err := t.readLine()
	if err != nil && !errors.Is(err, io.EOF) {
		return Decision{}, err
	}
	return Reject(feedback), nil
}

func (t *Terminal) readLine() (string, error) {
	line, err := t.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", errors.Wrapf(err, "failed to read operator input")
	}
	return strings.TrimSpace(line), nil
}
