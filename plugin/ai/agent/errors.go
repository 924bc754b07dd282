// Package agent runs agent turns: it composes the prompt, consumes the generation
// stream, dispatches tool calls and persists the final reply.
package agent

import "errors"

// Turn failure causes. Callers map them to API error codes.
var (
	// ErrGenerationUnavailable indicates the generation stream could not be opened.
	ErrGenerationUnavailable = errors.New("generation unavailable")

	// ErrStreamInterrupted indicates the stream broke before its end marker.
	ErrStreamInterrupted = errors.New("stream interrupted")

	// ErrEmptyReply indicates the stream ended without any text or tool activity.
	ErrEmptyReply = errors.New("empty reply")

	// ErrPersistFailed indicates the reply could not be stored after the retry.
	ErrPersistFailed = errors.New("persist failed")

	// ErrUnknownPersona indicates no agent is registered for the participant.
	ErrUnknownPersona = errors.New("unknown persona")
)

// IsTransientError reports whether the turn failed for a reason that may clear up
// on its own, so that the caller can suggest trying again.
func IsTransientError(err error) bool {
	return errors.Is(err, ErrGenerationUnavailable) ||
		errors.Is(err, ErrStreamInterrupted) ||
		errors.Is(err, ErrPersistFailed)
}
