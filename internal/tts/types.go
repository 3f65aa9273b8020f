package tts

import "context"

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	SessionID string
	Text      string
	Language  string
	Voice     string
}

// SynthChunk contains 16-bit little-endian PCM data.
type SynthChunk struct {
	SessionID  string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// VoiceFor picks the configured voice for a language, falling back to the
// language code itself.
func VoiceFor(voices map[string]string, lang string) string {
	if v, ok := voices[lang]; ok && v != "" {
		return v
	}
	return lang
}
