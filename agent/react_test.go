package agent

import (
	"testing"

	"github.com/m4xw311/aida/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name   string
		reply  string
		want   Reply
		errMsg string
	}{
		{
			name:  "action",
			reply: "Thought: I need to count users\nAction: shell\nAction Input: who | wc -l",
			want: Reply{
				Thought:     "I need to count users",
				Action:      "shell",
				ActionInput: "who | wc -l",
			},
		},
		{
			name:  "final answer",
			reply: "Thought: I now know what to respond\nFinal Answer: There are 3 users.",
			want: Reply{
				Thought:     "I now know what to respond",
				FinalAnswer: "There are 3 users.",
				IsFinal:     true,
			},
		},
		{
			name:  "markdown emphasis",
			reply: "**Thought:** check uptime\n**Action:** shell\n**Action Input:** uptime",
			want: Reply{
				Thought:     "check uptime",
				Action:      "shell",
				ActionInput: "uptime",
			},
		},
		{
			name:  "invented observation is dropped",
			reply: "Thought: t\nAction: shell\nAction Input: uptime\nObservation: up 10 days\nFinal Answer: 10 days",
			want:  Reply{Thought: "t", Action: "shell", ActionInput: "uptime"},
		},
		{
			name:  "action wins over a later answer",
			reply: "Thought: t\nAction: shell\nAction Input: df -h\nFinal Answer: plenty of space",
			want:  Reply{Thought: "t", Action: "shell", ActionInput: "df -h"},
		},
		{
			name:  "answer phrase inside a thought",
			reply: "Thought: before giving a final answer: let me check\nAction: shell\nAction Input: uptime",
			want: Reply{
				Thought:     "before giving a final answer: let me check",
				Action:      "shell",
				ActionInput: "uptime",
			},
		},
		{
			name:  "bold final answer",
			reply: "**Thought:** done\n**Final Answer:** 3 users",
			want:  Reply{Thought: "done", FinalAnswer: "3 users", IsFinal: true},
		},
		{
			name:   "missing action",
			reply:  "Thought: I am not sure what to do",
			errMsg: "Invalid Format: Missing 'Action:' after 'Thought:'",
		},
		{
			name:   "missing action input",
			reply:  "Thought: t\nAction: shell",
			errMsg: "Invalid Format: Missing 'Action Input:' after 'Action:'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReply(tt.reply)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.ErrMalformedTermination))
				assert.Equal(t, tt.errMsg, FormatError(err))
				return
			}
			require.NoError(t, err)
			got.Log = ""
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseReplyKeepsLogWithoutObservation(t *testing.T) {
	r, err := ParseReply("Thought: t\nAction: shell\nAction Input: uptime\nObservation: fake")
	require.NoError(t, err)
	assert.Equal(t, "Thought: t\nAction: shell\nAction Input: uptime", r.Log)
}

func TestStripFinalAnswer(t *testing.T) {
	assert.Equal(t, "3 users", StripFinalAnswer("Final Answer: 3 users"))
	assert.Equal(t, "3 users", StripFinalAnswer("Thought: done\nFinal Answer: Final Answer: 3 users"))
	assert.Equal(t, "no marker", StripFinalAnswer("  no marker "))
	assert.Equal(t, "", StripFinalAnswer("Final Answer:"))
	assert.Equal(t, "3", StripFinalAnswer("**Final Answer:** 3"))
	assert.Equal(t, "3", StripFinalAnswer("**Final Answer**: 3"))
}

func TestTranscriptRender(t *testing.T) {
	tr := &Transcript{
		Query: "How many users are logged in?",
		Steps: []Step{
			{Thought: "count", Action: "shell", ActionInput: "who | wc -l", Observation: "3"},
		},
		FinalAnswer: "There are 3 users.",
		Complete:    true,
	}
	want := "Thought: count\nAction: shell\nAction Input: who | wc -l\nObservation: 3\nFinal Answer: There are 3 users."
	assert.Equal(t, want, tr.Render())

	tr.Complete = false
	tr.FinalAnswer = StoppedAnswer
	assert.Contains(t, tr.Render(), "Observation: 3\n"+StoppedAnswer)
}
