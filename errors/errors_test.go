package errors

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCarriesCallSite(t *testing.T) {
	err := New("model %q not found", "llama")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "[errors_test.go:"), err.Error())
	assert.Contains(t, err.Error(), `model "llama" not found`)
}

func TestWrapfKeepsKind(t *testing.T) {
	err := Wrapf(ErrUnavailableModel, "model %q", "nope")
	assert.True(t, Is(err, ErrUnavailableModel))
	assert.False(t, Is(err, ErrMissingCredential))
	assert.Nil(t, Wrapf(nil, "ignored"))
}

func TestMark(t *testing.T) {
	base := fmt.Errorf("exit status 2")
	marked := Mark(base, ErrToolExecution)
	assert.True(t, Is(marked, ErrToolExecution))
	assert.True(t, Is(marked, base))
	assert.Same(t, marked, Mark(marked, ErrToolExecution))
	assert.Nil(t, Mark(nil, ErrProvider))
}
