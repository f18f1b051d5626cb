package config

import "time"

// IsSetter is exported for testing
type IsSetter = isSetter

// NewStoreForTest creates a Store config for testing purposes
func NewStoreForTest(backend, path, tableName, projectID string) *Store {
	return &Store{
		backend:            backend,
		path:               path,
		tableName:          tableName,
		firestoreProjectID: projectID,
		timeout:            time.Second,
		concurrency:        2,
	}
}

// NewLLMForTest creates an LLM config for testing purposes
func NewLLMForTest(provider, apiKey, geminiProject string) *LLM {
	return &LLM{
		provider:       provider,
		apiKey:         apiKey,
		geminiProject:  geminiProject,
		geminiLocation: "us-central1",
	}
}

// NewLoggerForTest creates a Logger config for testing purposes
func NewLoggerForTest(level, format, output string) *Logger {
	return &Logger{
		level:  level,
		format: format,
		output: output,
	}
}

// NewFileForTest creates a File config for testing purposes
func NewFileForTest(path string) *File {
	return &File{path: path}
}

// StoreValues exposes values of a Store for assertions
func StoreValues(s *Store) (backend, path, tableName string, timeout time.Duration, concurrency int) {
	return s.backend, s.path, s.tableName, s.timeout, s.concurrency
}

// LLMValues exposes values of an LLM for assertions
func LLMValues(l *LLM) (provider, model, apiKey, geminiProject string) {
	return l.provider, l.model, l.apiKey, l.geminiProject
}
