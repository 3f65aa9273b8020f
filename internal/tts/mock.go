package tts

import (
	"context"
	"time"
)

const (
	mockLatency = 10 * time.Millisecond
	mockClipMS  = 100
	mockChunkMS = 50
)

type mockSynth struct {
	sampleRate int
	channels   int
}

// NewMockSynth returns 100 ms of silence per request, streamed in two chunks.
func NewMockSynth(sampleRate, channels int) Synthesizer {
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	if channels <= 0 {
		channels = 1
	}
	return &mockSynth{sampleRate: sampleRate, channels: channels}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	n := mockClipMS / mockChunkMS
	chunks := make(chan SynthChunk, n)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(mockLatency):
		}
		frame := m.sampleRate * mockChunkMS / 1000 * m.channels
		for i := 0; i < n; i++ {
			chunks <- SynthChunk{
				SessionID:  req.SessionID,
				Sequence:   i,
				SampleRate: m.sampleRate,
				Channels:   m.channels,
				PCM:        make([]byte, frame*2),
				Final:      i == n-1,
			}
		}
	}()
	return chunks, errs
}
