package core

import "errors"

// Command-level rejections. Returned synchronously to the issuing
// connection only, never broadcast.
var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrSessionFull   = errors.New("session full")
	ErrRoomFull      = errors.New("room full")
	ErrBanned        = errors.New("banned")
	ErrSessionEnded  = errors.New("session ended")
	ErrNotAuthorized = errors.New("not authorized")
	// ErrQuarantined marks a session whose internal invariants were
	// violated; it refuses further commands instead of corrupting state.
	ErrQuarantined = errors.New("session quarantined")
	// ErrActorStopped is returned when a command is sent to a session
	// whose run loop already exited.
	ErrActorStopped = errors.New("session actor stopped")

	ErrInvalidTransition = errors.New("invalid moderation transition")
)
