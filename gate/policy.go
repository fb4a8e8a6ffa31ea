package gate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Policy approves commands matching an allow-list of regular expressions and
// rejects everything else. It never approves privileged commands since it has
// no credential to supply.
//
// Approved lines run through a shell, so each pattern must match a whole
// simple command. A line chained with ; && || | & or newlines is allowed only
// when every command in it matches. Substitutions and redirections are never
// allowed.
type Policy struct {
	patterns []string
	compiled []*regexp.Regexp
	logger   *zap.Logger
}

var (
	shellSeparator = regexp.MustCompile(`&&|\|\||[;|&\n]`)
	shellExpansion = regexp.MustCompile("[`<>]|\\$[({]")
)

// NewPolicy compiles the allow-list. A pattern that is not a valid regular
// expression only matches a command equal to it.
func NewPolicy(allowed []string, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Policy{patterns: allowed, compiled: make([]*regexp.Regexp, len(allowed)), logger: logger}
	for i, pattern := range allowed {
		re, err := regexp.Compile(`^(?:` + pattern + `)$`)
		if err != nil {
			logger.Warn("invalid regex in allowed_commands", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		p.compiled[i] = re
	}
	return p
}

func (p *Policy) Allowed(command string) bool {
	command = strings.TrimSpace(command)
	if command == "" || shellExpansion.MatchString(command) {
		return false
	}
	for _, part := range shellSeparator.Split(command, -1) {
		if !p.matches(strings.TrimSpace(part)) {
			return false
		}
	}
	return true
}

func (p *Policy) matches(command string) bool {
	if command == "" {
		return false
	}
	for i, re := range p.compiled {
		if re == nil {
			if command == p.patterns[i] {
				return true
			}
			continue
		}
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

func (p *Policy) Authorize(ctx context.Context, req Request) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	if req.Privileged || IsPrivileged(req.Command) {
		return Reject(fmt.Sprintf("Command '%s' needs elevated privileges and cannot be approved automatically. Try an unprivileged command.", req.Command)), nil
	}
	if !p.Allowed(req.Command) {
		p.logger.Info("command rejected by policy", zap.String("command", req.Command))
		return Reject(fmt.Sprintf("Command '%s' is not in the list of allowed commands. Allowed patterns: %s", req.Command, strings.Join(p.patterns, ", "))), nil
	}
	return Approve(req.Command), nil
}
