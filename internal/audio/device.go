package audio

import (
	"context"
	"sync"
)

// FrameFunc receives captured frames. The slice is only valid for the
// duration of the call.
type FrameFunc func(frame []float32)

// Source opens push-style input streams.
type Source interface {
	Open(onFrame FrameFunc) (Stream, error)
}

// Stream is the lifecycle of an open input stream.
type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// Player plays a WAV file and blocks until playback completes.
type Player interface {
	PlayFile(ctx context.Context, path string) error
}

// NullSource opens streams that never deliver frames.
type NullSource struct{}

func (NullSource) Open(FrameFunc) (Stream, error) { return &nullStream{}, nil }

type nullStream struct {
	mu      sync.Mutex
	started bool
}

func (s *nullStream) Start() error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *nullStream) Stop() error {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

func (s *nullStream) Close() error { return s.Stop() }

// NullPlayer validates the clip and discards it.
type NullPlayer struct{}

func (NullPlayer) PlayFile(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := ReadFile(path)
	return err
}
