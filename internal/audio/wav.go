package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// PCM16FromFloat32 converts normalized samples to little-endian 16-bit PCM.
func PCM16FromFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// Float32FromPCM16 converts little-endian 16-bit PCM to normalized samples.
func Float32FromPCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out
}

func floatToInt16(s float32) int16 {
	if s > 1 {
		s = 1
	}
	if s < -1 {
		s = -1
	}
	return int16(math.Round(float64(s) * 32767))
}

// WritePCM16 encodes 16-bit PCM into a WAV container.
func WritePCM16(w io.WriteSeeker, pcm []byte, sampleRate, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: 16,
	}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// WriteFloat32 encodes normalized mono samples as a 16-bit WAV.
func WriteFloat32(w io.WriteSeeker, samples []float32, sampleRate int) error {
	return WritePCM16(w, PCM16FromFloat32(samples), sampleRate, 1)
}

// Clip is a decoded WAV file.
type Clip struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Duration returns the playback length of the clip in seconds.
func (c Clip) Duration() float64 {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate*c.Channels)
}

// ReadFile decodes a WAV file into normalized float32 samples.
func ReadFile(path string) (Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return Clip{}, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Clip{}, fmt.Errorf("%s is not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("decode wav: %w", err)
	}
	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}
	scale := float32(math.Pow(2, float64(depth-1)))
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / scale
	}
	return Clip{
		Samples:    samples,
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	}, nil
}

// WriteTempFile spools samples into a new WAV file under dir and returns its path.
// The caller removes the file.
func WriteTempFile(dir, pattern string, pcm []byte, sampleRate, channels int) (string, error) {
	file, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	path := file.Name()
	if err := WritePCM16(file, pcm, sampleRate, channels); err != nil {
		file.Close()
		os.Remove(path)
		return "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return path, nil
}
