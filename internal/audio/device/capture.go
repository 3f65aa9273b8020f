// Package device binds the audio contracts to PortAudio.
package device

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/loqalabs/loqa-interpret/internal/audio"
	"github.com/loqalabs/loqa-interpret/internal/config"
)

// Capture opens callback-driven PortAudio input streams.
type Capture struct {
	sampleRate float64
	blockSize  int
	channels   int
	deviceName string
	log        *slog.Logger
}

func NewCapture(cfg config.AudioConfig, log *slog.Logger) *Capture {
	return &Capture{
		sampleRate: float64(cfg.SampleRate),
		blockSize:  cfg.BlockSize,
		channels:   cfg.Channels,
		deviceName: cfg.InputDevice,
		log:        log.With(slog.String("component", "audio-capture")),
	}
}

type inputStream struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	closed bool
}

// Open initializes PortAudio and opens an input stream that hands every
// block to onFrame from the driver's callback thread.
func (c *Capture) Open(onFrame audio.FrameFunc) (audio.Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	callback := func(in []float32) {
		onFrame(in)
	}

	var (
		stream *portaudio.Stream
		err    error
	)
	if c.deviceName != "" && c.deviceName != "default" {
		dev, findErr := findInputDevice(c.deviceName)
		if findErr != nil {
			c.log.Warn("input device not found, using default", slog.String("device", c.deviceName))
			stream, err = portaudio.OpenDefaultStream(c.channels, 0, c.sampleRate, c.blockSize, callback)
		} else {
			params := portaudio.StreamParameters{
				Input: portaudio.StreamDeviceParameters{
					Device:   dev,
					Channels: c.channels,
					Latency:  dev.DefaultLowInputLatency,
				},
				SampleRate:      c.sampleRate,
				FramesPerBuffer: c.blockSize,
			}
			stream, err = portaudio.OpenStream(params, callback)
		}
	} else {
		stream, err = portaudio.OpenDefaultStream(c.channels, 0, c.sampleRate, c.blockSize, callback)
	}
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	return &inputStream{stream: stream}, nil
}

func (s *inputStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("input stream closed")
	}
	return s.stream.Start()
}

func (s *inputStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.stream.Stop()
}

func (s *inputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.stream.Close()
	if termErr := portaudio.Terminate(); err == nil {
		err = termErr
	}
	return err
}

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if dev.Name == name && dev.MaxInputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", name)
}

// InputDevice describes a capture-capable device.
type InputDevice struct {
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
	IsDefault         bool
}

// ListInputDevices enumerates capture devices.
func ListInputDevices() ([]InputDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	var defaultName string
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultName = def.Name
	}
	var out []InputDevice
	for _, dev := range devices {
		if dev.MaxInputChannels == 0 {
			continue
		}
		out = append(out, InputDevice{
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			IsDefault:         dev.Name == defaultName,
		})
	}
	return out, nil
}
