package port

import "errors"

// Sentinel errors used across ports.
var (
	ErrMirrorUnavailable  = errors.New("repository mirror unavailable")
	ErrCommitNotFound     = errors.New("commit not found")
	ErrEmbeddingProvider  = errors.New("embedding provider error")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
	ErrGenerationProvider = errors.New("generation provider error")
	ErrIndexWrite         = errors.New("index write failed")

	ErrEmptyQuestion = errors.New("question is empty")
	ErrQueueFull     = errors.New("ingest queue full")
	ErrQueueClosed   = errors.New("ingest queue closed")
	ErrJobNotFound   = errors.New("job not found")
)
