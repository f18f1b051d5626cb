package model

import "github.com/m-mizutani/goerr/v2"

// Sentinel errors shared by backends, the orchestrator and the transport
var (
	ErrInvalidInput       = goerr.New("invalid input")
	ErrBackendUnavailable = goerr.New("backend unavailable")
	ErrExtractionFailed   = goerr.New("extraction failed")
	ErrAnswerFailed       = goerr.New("answer synthesis failed")
	ErrBackendTimeout     = goerr.New("backend timeout")
	ErrNotImplemented     = goerr.New("backend not implemented")
	ErrNotFound           = goerr.New("memory record not found")
	ErrClearNotConfirmed  = goerr.New("clear requires confirmation")
	ErrNotInitialized     = goerr.New("backend not initialized")
)

// Context keys for error values
const (
	EntryIDKey     = "entry_id"
	BackendTypeKey = "backend_type"
	SpeakerKey     = "speaker"
	TimestampKey   = "timestamp"
	TableNameKey   = "table_name"
)
