package stt

import (
	"context"
)

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text       string
	Language   string
	Confidence float64
}

// Recognizer abstracts STT backends. Implementations must tolerate repeated
// calls over growing windows of the same audio as well as disjoint chunks.
type Recognizer interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) (TranscriptResult, error)
}
