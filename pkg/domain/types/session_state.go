package types

// SessionState is the lifecycle state of a backend's dialogue buffer
type SessionState string

const (
	// SessionStateEmpty means nothing has been ingested since initialization
	SessionStateEmpty SessionState = "empty"
	// SessionStateBuffering means dialogues are pending finalize
	SessionStateBuffering SessionState = "buffering"
	// SessionStateFinalizing means a finalize holds the exclusive lock
	SessionStateFinalizing SessionState = "finalizing"
	// SessionStateIdle means the last finalize drained the buffer
	SessionStateIdle SessionState = "idle"
)

// String returns the string representation of the session state
func (s SessionState) String() string {
	return string(s)
}
