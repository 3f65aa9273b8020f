package stt

import (
	"context"
	"fmt"
)

type mockRecognizer struct{}

func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) (TranscriptResult, error) {
	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}
	ms := 0
	if sampleRate > 0 {
		ms = len(samples) * 1000 / sampleRate
	}
	return TranscriptResult{
		Text:     fmt.Sprintf("[%s transcript %dms]", language, ms),
		Language: language,
	}, nil
}
