package audio

import (
	"math"
	"os"
	"testing"
)

func TestPCMRoundTrip(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 1, -1}
	out := Float32FromPCM16(PCM16FromFloat32(in))
	if len(out) != len(in) {
		t.Fatalf("expected %d samples, got %d", len(in), len(out))
	}
	for i := range in {
		if math.Abs(float64(in[i]-out[i])) > 1e-3 {
			t.Fatalf("sample %d: expected %v, got %v", i, in[i], out[i])
		}
	}
}

func TestPCM16ClampsOutOfRange(t *testing.T) {
	out := Float32FromPCM16(PCM16FromFloat32([]float32{2, -3}))
	if out[0] < 0.99 || out[1] > -0.99 {
		t.Fatalf("expected clamped samples, got %v", out)
	}
}

func TestWriteTempFileAndRead(t *testing.T) {
	samples := make([]float32, 1600)
	for i := range samples {
		samples[i] = float32(math.Sin(float64(i) / 10))
	}
	path, err := WriteTempFile(t.TempDir(), "clip_*.wav", PCM16FromFloat32(samples), 16000, 1)
	if err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected spooled file: %v", err)
	}

	clip, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if clip.SampleRate != 16000 || clip.Channels != 1 {
		t.Fatalf("unexpected format: %+v", clip)
	}
	if len(clip.Samples) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(clip.Samples))
	}
	if d := clip.Duration(); math.Abs(d-0.1) > 1e-6 {
		t.Fatalf("expected 0.1s clip, got %v", d)
	}
	for i := range samples {
		if math.Abs(float64(samples[i]-clip.Samples[i])) > 1e-3 {
			t.Fatalf("sample %d drifted: %v vs %v", i, samples[i], clip.Samples[i])
		}
	}
}

func TestWritePCM16RejectsOddPayload(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "odd_*.wav")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := WritePCM16(f, []byte{1, 2, 3}, 16000, 1); err == nil {
		t.Fatal("expected alignment error")
	}
}
