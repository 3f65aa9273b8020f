package tts

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Clip is a fully synthesized utterance.
type Clip struct {
	PCM        []byte
	SampleRate int
	Channels   int
	Chunks     int
}

// Duration is the playing time of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.PCM) / 2 / c.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// ErrNoAudio is returned when a synthesizer finishes without producing samples.
var ErrNoAudio = errors.New("synthesizer produced no audio")

// Collect drains a synthesis stream into a single clip. The first error from
// the backend aborts collection.
func Collect(ctx context.Context, synth Synthesizer, req SynthRequest) (Clip, error) {
	chunks, errs := synth.Synthesize(ctx, req)
	var clip Clip
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if clip.SampleRate == 0 {
				clip.SampleRate = chunk.SampleRate
				clip.Channels = chunk.Channels
			}
			clip.PCM = append(clip.PCM, chunk.PCM...)
			clip.Chunks++
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return Clip{}, fmt.Errorf("synthesize: %w", err)
			}
		case <-ctx.Done():
			return Clip{}, ctx.Err()
		}
	}
	if len(clip.PCM) == 0 {
		return Clip{}, ErrNoAudio
	}
	if len(clip.PCM)%2 != 0 {
		return Clip{}, fmt.Errorf("synthesizer returned odd PCM length %d", len(clip.PCM))
	}
	return clip, nil
}
