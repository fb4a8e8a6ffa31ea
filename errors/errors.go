package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Error kinds. Wrap one of these with Wrapf and classify with Is.
var (
	// ErrConfig reports a malformed configuration or an explicit config path that cannot be read.
	ErrConfig = stderrors.New("configuration error")
	// ErrUnsupportedProvider reports a provider kind missing from the registry.
	ErrUnsupportedProvider = stderrors.New("unsupported provider kind")
	// ErrUnavailableModel reports a model that failed provider-specific validation.
	ErrUnavailableModel = stderrors.New("unavailable model")
	// ErrMissingCredential reports an absent secret required by a hosted provider.
	ErrMissingCredential = stderrors.New("missing credential")
	// ErrProvider reports a transport, auth or rate-limit failure of a single model call.
	ErrProvider = stderrors.New("provider error")
	// ErrToolExecution reports a failed tool call. The agent loop turns it into an observation.
	ErrToolExecution = stderrors.New("tool execution error")
	// ErrMalformedTermination reports a model reply that is neither an action nor a final answer.
	ErrMalformedTermination = stderrors.New("malformed termination")
	// ErrMalformedClassification reports a relevance reply without a RELEVANT/NOT RELEVANT token.
	ErrMalformedClassification = stderrors.New("malformed classification")
	// ErrDepthExceeded reports an attempt to nest an agent loop deeper than allowed.
	ErrDepthExceeded = stderrors.New("agent depth exceeded")
)

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "???"
		line = 0
	} else {
		file = filepath.Base(file)
	}
	return fmt.Errorf("[%s:%d] %s", file, line, fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "???"
		line = 0
	} else {
		file = filepath.Base(file)
	}
	return fmt.Errorf("[%s:%d] %s: %w", file, line, fmt.Sprintf(format, a...), err)
}

// Mark attaches kind to err so that Is(result, kind) holds while err stays in the chain.
func Mark(err error, kind error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }
