package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/loqalabs/loqa-interpret/internal/audio"
)

const playbackBlock = 1024

// Playback writes WAV clips to the default output device.
type Playback struct {
	mu sync.Mutex
}

func NewPlayback() *Playback {
	return &Playback{}
}

// PlayFile decodes path and blocks until the whole clip has been written to
// the device. Only one clip plays at a time.
func (p *Playback) PlayFile(ctx context.Context, path string) error {
	clip, err := audio.ReadFile(path)
	if err != nil {
		return err
	}
	if len(clip.Samples) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	buffer := make([]float32, playbackBlock*clip.Channels)
	stream, err := portaudio.OpenDefaultStream(0, clip.Channels, float64(clip.SampleRate), playbackBlock, &buffer)
	if err != nil {
		return fmt.Errorf("open output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("start output stream: %w", err)
	}
	defer stream.Stop()

	for pos := 0; pos < len(clip.Samples); pos += len(buffer) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(buffer, clip.Samples[pos:])
		for i := n; i < len(buffer); i++ {
			buffer[i] = 0
		}
		if err := stream.Write(); err != nil {
			return fmt.Errorf("write output stream: %w", err)
		}
	}
	return nil
}
