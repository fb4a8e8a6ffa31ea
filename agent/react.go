package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/m4xw311/aida/errors"
	"github.com/m4xw311/aida/gate"
)

// FinalAnswerMarker introduces the model's answer to the user.
const FinalAnswerMarker = "Final Answer:"

var (
	observationLine = regexp.MustCompile(`(?m)^[ \t]*Observation[ \t]*:`)
	actionLine      = regexp.MustCompile(`(?mi)^[ \t*]*Action[ \t]*\d*[ \t*]*:[ \t]*(.*)$`)
	actionInputLine = regexp.MustCompile(`(?mi)^[ \t*]*Action[ \t]*\d*[ \t]*Input[ \t]*\d*[ \t*]*:(?:\*\*)?[ \t]*`)
	finalAnswerLine = regexp.MustCompile(`(?mi)^[ \t*]*Final[ \t]*Answer[ \t*]*:(?:\*\*)?`)
	thoughtPrefix   = regexp.MustCompile(`(?i)^[ \t*]*Thought[ \t]*:(?:\*\*)?[ \t]*`)
)

// Step is one Thought/Action/Observation cycle. Decision is set when the
// action went through the command gate.
type Step struct {
	Thought     string
	Action      string
	ActionInput string
	Observation string
	Decision    *gate.Decision
	// Log is the model reply this step was parsed from.
	Log string
}

// Transcript is the record of one agent loop run.
type Transcript struct {
	Query       string
	Steps       []Step
	FinalAnswer string
	// Complete is true when the model produced a final answer.
	Complete bool
	// Stopped is true when the loop hit its iteration bound.
	Stopped bool
}

// Render formats the transcript in the ReAct text format.
func (t *Transcript) Render() string {
	var b strings.Builder
	for _, s := range t.Steps {
		b.WriteString(scratchpadEntry(s))
		b.WriteString("\n")
	}
	if t.FinalAnswer != "" {
		if t.Complete {
			b.WriteString(FinalAnswerMarker + " ")
		}
		b.WriteString(t.FinalAnswer)
	}
	return strings.TrimSpace(b.String())
}

func scratchpadEntry(s Step) string {
	log := strings.TrimSpace(s.Log)
	if log == "" {
		log = fmt.Sprintf("Thought: %s\nAction: %s\nAction Input: %s", s.Thought, s.Action, s.ActionInput)
	}
	return fmt.Sprintf("%s\nObservation: %s", log, s.Observation)
}

// Reply is a parsed model turn: either an action to run or a final answer.
type Reply struct {
	Thought     string
	Action      string
	ActionInput string
	FinalAnswer string
	IsFinal     bool
	// Log is the reply text with any invented observation removed.
	Log string
}

// TrimObservation cuts a reply at the first "Observation:" line. Models
// often continue past their action and invent its result.
func TrimObservation(reply string) string {
	if loc := observationLine.FindStringIndex(reply); loc != nil {
		return strings.TrimRight(reply[:loc[0]], " \t\n")
	}
	return strings.TrimRight(reply, " \t\n")
}

// ParseReply reads a ReAct reply. An action that appears before a final
// answer wins; the answer is discarded. Replies that are neither fail with
// errors.ErrMalformedTermination and a message suitable as an observation.
func ParseReply(reply string) (Reply, error) {
	text := TrimObservation(reply)
	r := Reply{Log: text}

	action := actionLine.FindStringSubmatchIndex(text)
	final := finalAnswerLine.FindStringIndex(text)

	if final != nil && (action == nil || final[0] < action[0]) {
		r.IsFinal = true
		r.Thought = cleanThought(text[:final[0]])
		r.FinalAnswer = strings.TrimSpace(text[final[1]:])
		return r, nil
	}

	if action == nil {
		return r, errors.Wrapf(errors.ErrMalformedTermination, "Invalid Format: Missing 'Action:' after 'Thought:'")
	}

	r.Thought = cleanThought(text[:action[0]])
	r.Action = cleanAction(text[action[2]:action[3]])

	rest := text[action[1]:]
	input := actionInputLine.FindStringIndex(rest)
	if input == nil {
		return r, errors.Wrapf(errors.ErrMalformedTermination, "Invalid Format: Missing 'Action Input:' after 'Action:'")
	}
	if r.Action == "" {
		return r, errors.Wrapf(errors.ErrMalformedTermination, "Invalid Format: 'Action:' names no tool")
	}
	arg := rest[input[1]:]
	// An answer written after the action is premature; the action runs first.
	if loc := finalAnswerLine.FindStringIndex(arg); loc != nil {
		arg = arg[:loc[0]]
	}
	r.ActionInput = strings.TrimSpace(arg)
	return r, nil
}

// FormatError extracts the observation text for a parse failure.
func FormatError(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, "Invalid Format:"); i >= 0 {
		msg = msg[i:]
	}
	if j := strings.LastIndex(msg, ": "+errors.ErrMalformedTermination.Error()); j >= 0 {
		msg = msg[:j]
	}
	return msg
}

func cleanThought(s string) string {
	return strings.TrimSpace(thoughtPrefix.ReplaceAllString(strings.TrimSpace(s), ""))
}

func cleanAction(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*`'\"[] ")
	return strings.TrimSpace(s)
}

// StripFinalAnswer returns the text after the Final Answer marker, with
// every leading repetition of the marker removed.
func StripFinalAnswer(s string) string {
	if loc := finalAnswerLine.FindStringIndex(s); loc != nil {
		s = s[loc[1]:]
	}
	s = strings.TrimSpace(s)
	for {
		loc := finalAnswerLine.FindStringIndex(s)
		if loc == nil || loc[0] != 0 {
			return s
		}
		s = strings.TrimSpace(s[loc[1]:])
	}
}
