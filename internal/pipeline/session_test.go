package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-interpret/internal/stt"
	"github.com/loqalabs/loqa-interpret/internal/translate"
)

func TestFinalTickRespectsChunkThreshold(t *testing.T) {
	cfg := testConfig(t)
	var calls atomic.Int32
	rec := recognizerFunc(func(_ context.Context, samples []float32, rate int, _ string) (stt.TranscriptResult, error) {
		calls.Add(1)
		if rate != 16000 {
			t.Errorf("unexpected sample rate %d", rate)
		}
		return stt.TranscriptResult{Text: "chunk"}, nil
	})
	p, err := New(cfg, Deps{Recognizer: rec, Translator: echoTranslator(), Synthesizer: &recordingSynth{}}, newLogger())
	if err != nil {
		t.Fatal(err)
	}
	s := p.NewSession(SessionOptions{Languages: StaticLanguages("en", "fr")})
	ctx := context.Background()

	s.buf.Append(seconds(0.99))
	s.finalTick(ctx)
	if calls.Load() != 0 {
		t.Fatal("recognizer called below the chunk threshold")
	}
	if s.buf.Len() != 15840 {
		t.Fatalf("buffer drained below threshold, len=%d", s.buf.Len())
	}

	s.buf.Append(make([]float32, 160))
	s.finalTick(ctx)
	if calls.Load() != 1 {
		t.Fatalf("expected one recognition at 1.0s, got %d", calls.Load())
	}
	if s.buf.Len() != 0 {
		t.Fatalf("expected buffer drained, len=%d", s.buf.Len())
	}
	if p.translations.Len() != 1 {
		t.Fatalf("expected one queued chunk, got %d", p.translations.Len())
	}
}

func TestFinalTickKeepsChunkWhenPunctuatorFails(t *testing.T) {
	for name, punct := range map[string]punctuatorFunc{
		"error": func(context.Context, string) (string, error) {
			return "", errors.New("restorer unavailable")
		},
		"panic": func(context.Context, string) (string, error) {
			panic("model crashed")
		},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t)
			p, err := New(cfg, Deps{Recognizer: fixedText("hello world"), Punctuator: punct, Translator: echoTranslator(), Synthesizer: &recordingSynth{}}, newLogger())
			if err != nil {
				t.Fatal(err)
			}
			s := p.NewSession(SessionOptions{Languages: StaticLanguages("en", "fr")})
			s.buf.Append(seconds(1.2))
			s.finalTick(context.Background())

			if p.translations.Len() != 1 {
				t.Fatalf("expected the chunk queued, got %d", p.translations.Len())
			}
			chunk, err := p.translations.Pop(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if chunk.Text != "hello world" {
				t.Fatalf("expected raw text, got %q", chunk.Text)
			}
		})
	}
}

func TestFinalTickPullsLanguagesAtEnqueue(t *testing.T) {
	cfg := testConfig(t)
	var mu sync.Mutex
	pair := [2]string{"en", "fr"}
	langs := func() (string, string) {
		mu.Lock()
		defer mu.Unlock()
		return pair[0], pair[1]
	}
	var hint string
	rec := recognizerFunc(func(_ context.Context, _ []float32, _ int, lang string) (stt.TranscriptResult, error) {
		hint = lang
		mu.Lock()
		pair = [2]string{"de", "it"}
		mu.Unlock()
		return stt.TranscriptResult{Text: "guten tag"}, nil
	})
	p, err := New(cfg, Deps{Recognizer: rec, Translator: echoTranslator(), Synthesizer: &recordingSynth{}}, newLogger())
	if err != nil {
		t.Fatal(err)
	}
	s := p.NewSession(SessionOptions{Languages: langs})
	s.buf.Append(seconds(1))
	s.finalTick(context.Background())

	if hint != "en" {
		t.Fatalf("expected source hint en, got %q", hint)
	}
	chunk, err := p.translations.Pop(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if chunk.Source != "de" || chunk.Dest != "it" || chunk.Sequence != 1 || chunk.SessionID != s.ID() {
		t.Fatalf("unexpected chunk %+v", chunk)
	}
}

func TestFinalTickSkipsEmptyAndFailedRecognition(t *testing.T) {
	cfg := testConfig(t)
	results := []stt.TranscriptResult{{Text: "   "}, {}}
	errs := []error{nil, errors.New("decoder crashed")}
	var n int
	rec := recognizerFunc(func(context.Context, []float32, int, string) (stt.TranscriptResult, error) {
		i := n
		n++
		return results[i], errs[i]
	})
	p, err := New(cfg, Deps{Recognizer: rec, Translator: echoTranslator(), Synthesizer: &recordingSynth{}}, newLogger())
	if err != nil {
		t.Fatal(err)
	}
	events, cancel := p.Events().Subscribe(8)
	defer cancel()

	s := p.NewSession(SessionOptions{})
	for i := 0; i < 2; i++ {
		s.buf.Append(seconds(1))
		s.finalTick(context.Background())
	}
	if p.translations.Len() != 0 {
		t.Fatalf("expected nothing queued, got %d", p.translations.Len())
	}
	ev := <-events
	if ev.Kind != EventError || ev.Stage != "recognition" {
		t.Fatalf("expected recognition error event, got %+v", ev)
	}
}

type gateFunc func([]float32) (bool, error)

func (f gateFunc) ContainsSpeech(samples []float32) (bool, error) { return f(samples) }

func TestVoiceGateDropsSilentChunks(t *testing.T) {
	cfg := testConfig(t)
	var calls atomic.Int32
	rec := recognizerFunc(func(context.Context, []float32, int, string) (stt.TranscriptResult, error) {
		calls.Add(1)
		return stt.TranscriptResult{Text: "speech"}, nil
	})
	voiced := false
	gate := gateFunc(func([]float32) (bool, error) { return voiced, nil })
	p, err := New(cfg, Deps{Recognizer: rec, Translator: echoTranslator(), Synthesizer: &recordingSynth{}, VoiceGate: gate}, newLogger())
	if err != nil {
		t.Fatal(err)
	}
	s := p.NewSession(SessionOptions{})
	s.buf.Append(seconds(1))
	s.finalTick(context.Background())
	if calls.Load() != 0 || s.buf.Len() != 0 {
		t.Fatalf("silent chunk should be drained and dropped, calls=%d len=%d", calls.Load(), s.buf.Len())
	}
	voiced = true
	s.buf.Append(seconds(1))
	s.finalTick(context.Background())
	if calls.Load() != 1 {
		t.Fatalf("voiced chunk should be transcribed, calls=%d", calls.Load())
	}
}

func TestSessionEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{}
	synth := &recordingSynth{}
	player := &recordingPlayer{}
	tr := translatorFunc(func(_ context.Context, text, source, dest string) (translate.Result, error) {
		if text == "bonjour le monde" && source == "fr" && dest == "en" {
			return translate.Result{Text: "hello world"}, nil
		}
		return translate.Result{}, translate.ErrUnsupportedPair
	})
	p := startPipeline(t, cfg, Deps{
		Recognizer:  fixedText("bonjour le monde"),
		Punctuator:  stt.NewNoopPunctuator(),
		Translator:  tr,
		Synthesizer: synth,
		Source:      src,
		Player:      player,
	})
	events, cancel := p.Events().Subscribe(32)
	defer cancel()
	next := collect(t, events, EventTranslation, EventSpeech, EventError)

	var mu sync.Mutex
	var results []TranslationResult
	s := p.NewSession(SessionOptions{
		Languages: StaticLanguages("fr", "en"),
		OnResult: func(r TranslationResult) {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		},
	})
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.State() != StateListening || p.ActiveSession() != s {
		t.Fatalf("expected listening active session, state=%s", s.State())
	}
	src.push(seconds(1))

	got := next(2)
	if got[0].Kind != EventTranslation || got[0].Text != "hello world" || got[0].Original != "bonjour le monde" {
		t.Fatalf("unexpected translation event %+v", got[0])
	}
	if got[1].Kind != EventSpeech || got[1].Text != "hello world" || got[1].Dest != "en" {
		t.Fatalf("unexpected speech event %+v", got[1])
	}

	// a few more polls with an empty buffer must not produce anything else
	time.Sleep(5 * time.Duration(cfg.Streaming.PollIntervalMS) * time.Millisecond)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 1 {
		t.Fatalf("expected exactly one translation result, got %d", len(results))
	}
	want := TranslationResult{SessionID: s.ID(), Sequence: 1, Translated: "hello world", Original: "bonjour le monde", Source: "fr", Dest: "en"}
	if results[0] != want {
		t.Fatalf("unexpected result %+v", results[0])
	}
	reqs := synth.requests()
	if len(reqs) != 1 || reqs[0].Text != "hello world" || reqs[0].Language != "en" {
		t.Fatalf("expected one speech job, got %+v", reqs)
	}
	if player.played.Load() != 1 {
		t.Fatalf("expected one clip played, got %d", player.played.Load())
	}
}

func TestSessionPartials(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeSource{}
	var calls atomic.Int32
	rec := recognizerFunc(func(_ context.Context, samples []float32, _ int, _ string) (stt.TranscriptResult, error) {
		calls.Add(1)
		return stt.TranscriptResult{Text: "bonj"}, nil
	})
	p := startPipeline(t, cfg, Deps{Recognizer: rec, Translator: echoTranslator(), Synthesizer: &recordingSynth{}, Source: src})

	partials := make(chan string, 8)
	s := p.NewSession(SessionOptions{
		Languages: StaticLanguages("fr", "en"),
		Partials:  true,
		OnPartial: func(text string) {
			select {
			case partials <- text:
			default:
			}
		},
	})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	src.push(seconds(0.4))
	select {
	case text := <-partials:
		t.Fatalf("partial emitted below threshold: %q", text)
	case <-time.After(60 * time.Millisecond):
	}

	src.push(seconds(0.2))
	select {
	case text := <-partials:
		if text != "bonj" {
			t.Fatalf("unexpected partial %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no partial emitted")
	}
	if got := s.buf.Len(); got != 9600 {
		t.Fatalf("partial mode must not drain, len=%d", got)
	}
}

func TestSessionGuardAllowsOneActiveSession(t *testing.T) {
	cfg := testConfig(t)
	p := startPipeline(t, cfg, Deps{Recognizer: fixedText(""), Translator: echoTranslator(), Synthesizer: &recordingSynth{}, Source: &fakeSource{}})

	first := p.NewSession(SessionOptions{})
	second := p.NewSession(SessionOptions{})
	if err := first.Start(); err != nil {
		t.Fatal(err)
	}
	if err := second.Start(); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
	if second.State() != StateIdle {
		t.Fatalf("rejected session must stay idle, got %s", second.State())
	}
	first.Stop()
	if p.ActiveSession() != nil {
		t.Fatal("expected active slot released")
	}
	if err := second.Start(); err != nil {
		t.Fatalf("start after release: %v", err)
	}
	second.Stop()
}

func TestSessionStartStopIdempotent(t *testing.T) {
	cfg := testConfig(t)
	cfg.Streaming.PollIntervalMS = 200
	src := &fakeSource{}
	p := startPipeline(t, cfg, Deps{Recognizer: fixedText(""), Translator: echoTranslator(), Synthesizer: &recordingSynth{}, Source: src})
	s := p.NewSession(SessionOptions{})

	s.Stop()
	if s.State() != StateIdle {
		t.Fatal("stop on idle session changed state")
	}

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if s.Generation() != 1 || src.opened() != 1 {
		t.Fatalf("second start must be a no-op, generation=%d streams=%d", s.Generation(), src.opened())
	}
	stream := src.lastStream()

	started := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Stop()
			if st := s.State(); st != StateIdle {
				t.Errorf("stop returned before idle: %s", st)
			}
		}()
	}
	wg.Wait()
	// one poll interval plus scheduling slack
	if elapsed, limit := time.Since(started), s.poll+100*time.Millisecond; elapsed > limit {
		t.Fatalf("stop took %s, want under %s", elapsed, limit)
	}
	if !stream.closed.Load() || stream.started.Load() {
		t.Fatal("expected input stream stopped and closed")
	}

	// frames delivered after stop are ignored
	src.push(seconds(1))
	if s.buf.Len() != 0 {
		t.Fatalf("frames appended after stop, len=%d", s.buf.Len())
	}

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if s.Generation() != 2 {
		t.Fatalf("expected generation 2, got %d", s.Generation())
	}
	s.Stop()
}

func TestSessionSwapReversesPair(t *testing.T) {
	cfg := testConfig(t)
	p, err := New(cfg, Deps{Recognizer: fixedText(""), Translator: echoTranslator(), Synthesizer: &recordingSynth{}}, newLogger())
	if err != nil {
		t.Fatal(err)
	}
	s := p.NewSession(SessionOptions{Languages: StaticLanguages("en", "ja"), Swap: true})
	if src, dst := s.Languages(); src != "ja" || dst != "en" {
		t.Fatalf("expected ja->en, got %s->%s", src, dst)
	}
	def := p.NewSession(p.DefaultSessionOptions())
	if src, dst := def.Languages(); src != cfg.Translation.SourceLang || dst != cfg.Translation.DestLang {
		t.Fatalf("unexpected default pair %s->%s", src, dst)
	}
	if def.ID() == "" || def.ID() == s.ID() {
		t.Fatal("expected distinct generated session ids")
	}
}

func TestPipelineShutdownStopsActiveSession(t *testing.T) {
	cfg := testConfig(t)
	p, err := New(cfg, Deps{Recognizer: fixedText(""), Translator: echoTranslator(), Synthesizer: &recordingSynth{}, Source: &fakeSource{}}, newLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()
	waitFor(t, "pipeline running", p.Healthy)

	s := p.NewSession(SessionOptions{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return")
	}
	if s.State() != StateIdle {
		t.Fatalf("expected session idle after shutdown, got %s", s.State())
	}
}
