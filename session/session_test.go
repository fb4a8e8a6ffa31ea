package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/m4xw311/aida/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecentWindow(t *testing.T) {
	s := New("")
	assert.Equal(t, "", s.Recent(5))

	for i := range 7 {
		s.Append(User, fmt.Sprintf("q%d", i))
	}
	assert.Equal(t, "User: q4\nUser: q5\nUser: q6", s.Recent(3))
	assert.Equal(t, "User: q2\nUser: q3\nUser: q4\nUser: q5\nUser: q6", s.Recent(0))
}

func TestNativeMessagesDropsSystemTurns(t *testing.T) {
	s := New("")
	s.Append(User, "How many users are logged in?")
	s.Append(System, "Relevance check: relevant")
	s.Append(Assistant, "3 users are logged in.")

	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "How many users are logged in?"},
		{Role: llm.RoleAssistant, Content: "3 users are logged in."},
	}, s.NativeMessages())
	assert.Equal(t, 3, s.Len())
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	s.Append(User, "uptime")
	s.Append(Assistant, "up 3 days")
	require.NoError(t, s.Save())

	loaded, err := Load(dir, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, loaded.ID)
	assert.Equal(t, s.Recent(5), loaded.Recent(5))

	_, err = Load(dir, "missing")
	assert.Error(t, err)
}

func TestSaveWithoutDirIsNoop(t *testing.T) {
	s := New("")
	s.Append(User, "x")
	assert.NoError(t, s.Save())
}

func TestConcurrentAppend(t *testing.T) {
	s := New("")
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Append(User, "x")
		}()
	}
	wg.Wait()
	assert.Len(t, s.Turns(), 50)
}
