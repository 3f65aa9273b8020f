// Package vad gates audio chunks on voice activity using the WebRTC detector.
package vad

import (
	"fmt"
	"sync"

	"github.com/loqalabs/loqa-interpret/internal/audio"
	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

// Detector reports whether a chunk contains at least one voiced 20 ms frame.
type Detector struct {
	mu         sync.Mutex
	vad        *webrtcvad.VAD
	sampleRate int
	frameSize  int
}

func New(sampleRate, mode int) (*Detector, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("create webrtc vad: %w", err)
	}
	if err := v.SetMode(mode); err != nil {
		return nil, fmt.Errorf("set vad mode: %w", err)
	}
	frameSize := sampleRate / 50
	if !v.ValidRateAndFrameLength(sampleRate, frameSize) {
		return nil, fmt.Errorf("sample rate %d not supported by vad", sampleRate)
	}
	return &Detector{vad: v, sampleRate: sampleRate, frameSize: frameSize}, nil
}

// ContainsSpeech scans samples frame by frame and stops at the first voiced frame.
// A trailing partial frame is ignored.
func (d *Detector) ContainsSpeech(samples []float32) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := 0; i+d.frameSize <= len(samples); i += d.frameSize {
		frame := audio.PCM16FromFloat32(samples[i : i+d.frameSize])
		active, err := d.vad.Process(d.sampleRate, frame)
		if err != nil {
			return false, fmt.Errorf("vad process: %w", err)
		}
		if active {
			return true, nil
		}
	}
	return false, nil
}
