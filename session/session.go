package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m4xw311/aida/errors"
	"github.com/m4xw311/aida/llm"
)

// Role identifies the speaker of a turn.
type Role string

const (
	User      Role = "User"
	Assistant Role = "Assistant"
	System    Role = "System"
)

// DefaultWindow is the number of turns rendered by Recent when n <= 0.
const DefaultWindow = 5

type Turn struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// State is the append-only conversation shared by the preprocessor and the
// agent. It is safe for concurrent use.
type State struct {
	ID string `json:"id"`

	mu    sync.Mutex
	turns []Turn
	dir   string
}

type stateFile struct {
	ID    string `json:"id"`
	Turns []Turn `json:"turns"`
}

// New creates an empty conversation persisted under dir. An empty dir disables Save.
func New(dir string) *State {
	return &State{ID: uuid.NewString(), dir: dir}
}

// Load reads a saved conversation from dir.
func Load(dir, id string) (*State, error) {
	path := filepath.Join(dir, id+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read session file %s", path)
	}

	var f stateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "could not parse session file %s", path)
	}
	if f.ID == "" {
		f.ID = id
	}
	return &State{ID: f.ID, turns: f.Turns, dir: dir}, nil
}

// Save writes the conversation to <dir>/<id>.json.
func (s *State) Save() error {
	if s.dir == "" {
		return nil
	}
	s.mu.Lock()
	f := stateFile{ID: s.ID, Turns: append([]Turn(nil), s.turns...)}
	s.mu.Unlock()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to serialize session")
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return errors.Wrapf(err, "could not create session directory")
	}
	return os.WriteFile(filepath.Join(s.dir, s.ID+".json"), data, 0644)
}

// Append records a turn.
func (s *State) Append(role Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, Turn{Role: role, Content: content, Time: time.Now()})
}

// Turns returns a copy of every recorded turn.
func (s *State) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.turns...)
}

func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Recent renders the last n turns as "<Role>: <content>" lines.
func (s *State) Recent(n int) string {
	if n <= 0 {
		n = DefaultWindow
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := max(len(s.turns)-n, 0)
	lines := make([]string, 0, len(s.turns)-start)
	for _, t := range s.turns[start:] {
		lines = append(lines, fmt.Sprintf("%s: %s", t.Role, t.Content))
	}
	return strings.Join(lines, "\n")
}

// NativeMessages projects the conversation into provider messages.
// System turns are bookkeeping and are not sent to the model.
func (s *State) NativeMessages() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]llm.Message, 0, len(s.turns))
	for _, t := range s.turns {
		switch t.Role {
		case User:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: t.Content})
		case Assistant:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: t.Content})
		}
	}
	return msgs
}
