package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-interpret/internal/audio"
	"github.com/loqalabs/loqa-interpret/internal/config"
	"github.com/loqalabs/loqa-interpret/internal/stt"
	"github.com/loqalabs/loqa-interpret/internal/translate"
	"github.com/loqalabs/loqa-interpret/internal/tts"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Audio.Mode = "null"
	cfg.Audio.SpoolDir = t.TempDir()
	cfg.Streaming.PollIntervalMS = 20
	cfg.TTS.SampleRate = 16000
	return cfg
}

// seconds returns n seconds of a quiet tone at 16 kHz.
func seconds(n float64) []float32 {
	out := make([]float32, int(n*16000))
	for i := range out {
		out[i] = 0.01
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startPipeline(t *testing.T, cfg config.Config, deps Deps) *Pipeline {
	t.Helper()
	p, err := New(cfg, deps, newLogger())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	waitFor(t, "pipeline workers", p.Healthy)
	return p
}

type recognizerFunc func(ctx context.Context, samples []float32, sampleRate int, language string) (stt.TranscriptResult, error)

func (f recognizerFunc) Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) (stt.TranscriptResult, error) {
	return f(ctx, samples, sampleRate, language)
}

func fixedText(text string) recognizerFunc {
	return func(context.Context, []float32, int, string) (stt.TranscriptResult, error) {
		return stt.TranscriptResult{Text: text}, nil
	}
}

type punctuatorFunc func(ctx context.Context, text string) (string, error)

func (f punctuatorFunc) Restore(ctx context.Context, text string) (string, error) { return f(ctx, text) }

type translatorFunc func(ctx context.Context, text, source, dest string) (translate.Result, error)

func (f translatorFunc) Translate(ctx context.Context, text, source, dest string) (translate.Result, error) {
	return f(ctx, text, source, dest)
}

func echoTranslator() translatorFunc {
	return func(_ context.Context, text, _, dest string) (translate.Result, error) {
		return translate.Result{Text: dest + ":" + text}, nil
	}
}

// recordingSynth wraps the mock synthesizer and remembers every request.
type recordingSynth struct {
	mu   sync.Mutex
	reqs []tts.SynthRequest
	fail func(tts.SynthRequest) error
}

func (r *recordingSynth) Synthesize(ctx context.Context, req tts.SynthRequest) (<-chan tts.SynthChunk, <-chan error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	fail := r.fail
	r.mu.Unlock()
	if fail != nil {
		if err := fail(req); err != nil {
			chunks := make(chan tts.SynthChunk)
			errs := make(chan error, 1)
			errs <- err
			close(chunks)
			close(errs)
			return chunks, errs
		}
	}
	return tts.NewMockSynth(16000, 1).Synthesize(ctx, req)
}

func (r *recordingSynth) requests() []tts.SynthRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tts.SynthRequest(nil), r.reqs...)
}

// recordingPlayer checks the clip exists while it is being played.
type recordingPlayer struct {
	mu     sync.Mutex
	paths  []string
	err    error
	played atomic.Int32
}

func (r *recordingPlayer) PlayFile(ctx context.Context, path string) error {
	if _, err := audio.ReadFile(path); err != nil {
		return err
	}
	r.mu.Lock()
	r.paths = append(r.paths, path)
	err := r.err
	r.mu.Unlock()
	r.played.Add(1)
	return err
}

func (r *recordingPlayer) playedPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

type fakeStream struct {
	started atomic.Bool
	closed  atomic.Bool
}

func (s *fakeStream) Start() error {
	s.started.Store(true)
	return nil
}

// Stop fails the way a device that was unplugged mid-session does.
func (s *fakeStream) Stop() error {
	s.started.Store(false)
	return errors.New("device already stopped")
}

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeSource struct {
	mu      sync.Mutex
	onFrame audio.FrameFunc
	streams []*fakeStream
}

func (f *fakeSource) Open(fn audio.FrameFunc) (audio.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := &fakeStream{}
	f.onFrame = fn
	f.streams = append(f.streams, st)
	return st, nil
}

// push delivers samples to the latest callback in 100 ms frames.
func (f *fakeSource) push(samples []float32) {
	f.mu.Lock()
	fn := f.onFrame
	f.mu.Unlock()
	if fn == nil {
		return
	}
	const frame = 1600
	for len(samples) > 0 {
		n := min(frame, len(samples))
		fn(samples[:n])
		samples = samples[n:]
	}
}

func (f *fakeSource) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func (f *fakeSource) lastStream() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

func spoolEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read spool dir: %v", err)
	}
	return len(entries)
}

// collect returns a func that waits for the next n events of the given kinds.
func collect(t *testing.T, ch <-chan Event, kinds ...EventKind) func(n int) []Event {
	t.Helper()
	want := make(map[EventKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	return func(n int) []Event {
		t.Helper()
		var got []Event
		timeout := time.After(3 * time.Second)
		for len(got) < n {
			select {
			case ev, ok := <-ch:
				if !ok {
					t.Fatalf("event stream closed after %d events", len(got))
				}
				if want[ev.Kind] {
					got = append(got, ev)
				}
			case <-timeout:
				t.Fatalf("timed out after %d of %d events", len(got), n)
			}
		}
		return got
	}
}
