package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-interpret/internal/audio"
)

type State int32

const (
	StateIdle State = iota
	StateListening
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// LanguageFunc returns the current language pair. Sessions call it each time
// a chunk is finalized, so the pair can change while listening.
type LanguageFunc func() (source, dest string)

// StaticLanguages returns a LanguageFunc for a fixed pair.
func StaticLanguages(source, dest string) LanguageFunc {
	return func() (string, string) { return source, dest }
}

type SessionOptions struct {
	ID        string // defaults to a random UUID
	Languages LanguageFunc
	Swap      bool // evaluate the pair as dest to source, for the reply side of a conversation
	Partials  bool
	OnPartial func(text string)
	OnResult  func(TranslationResult)
}

// DefaultSessionOptions fills options from the pipeline configuration.
func (p *Pipeline) DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		Languages: StaticLanguages(p.cfg.Translation.SourceLang, p.cfg.Translation.DestLang),
		Partials:  p.cfg.Streaming.Partials,
	}
}

// Session is one listening lifecycle over the audio source:
// Idle -> Listening -> Stopping -> Idle. It can be started again after it
// returns to Idle.
type Session struct {
	p      *Pipeline
	id     string
	opts   SessionOptions
	logger *slog.Logger
	buf    *audio.StreamBuffer

	minChunk   int
	partialMin int
	poll       time.Duration

	mu         sync.Mutex
	state      State
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}

	seq  atomic.Uint64
	kick chan struct{}
}

// NewSession binds a session to the pipeline. It does not start listening.
func (p *Pipeline) NewSession(opts SessionOptions) *Session {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Languages == nil {
		opts.Languages = StaticLanguages(p.cfg.Translation.SourceLang, p.cfg.Translation.DestLang)
	}
	rate := p.cfg.Audio.SampleRate
	poll := time.Duration(p.cfg.Streaming.PollIntervalMS) * time.Millisecond
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	done := make(chan struct{})
	close(done)
	return &Session{
		p:          p,
		id:         opts.ID,
		opts:       opts,
		logger:     p.logger.With(slog.String("session_id", opts.ID)),
		buf:        audio.NewStreamBuffer(audio.Samples(2*p.cfg.Streaming.MinChunkMS, rate)),
		minChunk:   audio.Samples(p.cfg.Streaming.MinChunkMS, rate),
		partialMin: audio.Samples(p.cfg.Streaming.PartialMinMS, rate),
		poll:       poll,
		done:       done,
		kick:       make(chan struct{}, 1),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Generation counts how many times the session has started listening.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Languages returns the pair the session would use for the next chunk.
func (s *Session) Languages() (source, dest string) {
	source, dest = s.opts.Languages()
	if s.opts.Swap {
		return dest, source
	}
	return source, dest
}

// Start opens the input stream and begins listening. Starting a listening
// session is a no-op; starting one that is still stopping waits for it first.
func (s *Session) Start() error {
	for {
		s.mu.Lock()
		switch s.state {
		case StateListening:
			s.mu.Unlock()
			return nil
		case StateStopping:
			done := s.done
			s.mu.Unlock()
			<-done
			continue
		}
		err := s.startLocked()
		s.mu.Unlock()
		return err
	}
}

func (s *Session) startLocked() error {
	if err := s.p.claim(s); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(s.p.baseContext())
	s.buf.Reset()
	s.drainKick()

	stream, err := s.p.deps.Source.Open(func(frame []float32) {
		if ctx.Err() != nil {
			return
		}
		s.buf.Append(frame)
		if s.opts.Partials && s.buf.Len() >= s.partialMin {
			select {
			case s.kick <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		cancel()
		s.p.release(s)
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		cancel()
		_ = stream.Close()
		s.p.release(s)
		return fmt.Errorf("start input stream: %w", err)
	}

	s.generation++
	s.state = StateListening
	s.cancel = cancel
	s.done = make(chan struct{})

	partialDone := make(chan struct{})
	if s.opts.Partials {
		go s.runPartials(ctx, partialDone)
	} else {
		close(partialDone)
	}
	go s.drive(ctx, stream, partialDone, s.done)

	s.logger.Info("session listening", slog.Uint64("generation", s.generation))
	s.publishState(StateListening)
	return nil
}

// Stop cancels listening and returns once the session is Idle. Stopping an
// idle session is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == StateListening {
		s.state = StateStopping
		s.publishState(StateStopping)
		s.cancel()
	}
	done := s.done
	s.mu.Unlock()
	<-done
}

func (s *Session) drive(ctx context.Context, stream audio.Stream, partialDone <-chan struct{}, done chan struct{}) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			s.finalTick(ctx)
		}
	}

	if err := stream.Stop(); err != nil {
		s.logger.Debug("input stream stop failed", slogError(err))
	}
	if err := stream.Close(); err != nil {
		s.logger.Debug("input stream close failed", slogError(err))
	}
	<-partialDone

	s.mu.Lock()
	s.state = StateIdle
	s.cancel = nil
	s.p.release(s)
	close(done)
	s.mu.Unlock()

	s.logger.Info("session idle")
	s.publishState(StateIdle)
}

// finalTick drains the buffer once it holds a full chunk and queues the
// recognized text for translation.
func (s *Session) finalTick(ctx context.Context) {
	if s.buf.Len() < s.minChunk {
		return
	}
	samples := s.buf.Drain()

	if gate := s.p.deps.VoiceGate; gate != nil {
		voiced, err := gate.ContainsSpeech(samples)
		if err != nil {
			s.logger.Warn("voice gate failed, transcribing anyway", slogError(err))
		} else if !voiced {
			s.logger.Debug("dropping chunk without speech", slog.Int("samples", len(samples)))
			return
		}
	}

	source, _ := s.Languages()
	text, err := s.p.recognize(s.p.baseContext(), s.id, "final", samples, source)
	if err != nil {
		s.logger.Warn("recognition failed", slogError(err))
		s.p.reportError(ctx, "recognition", s.id, err)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	source, dest := s.Languages()
	chunk := TranscriptChunk{
		SessionID: s.id,
		Sequence:  s.seq.Add(1),
		Text:      text,
		Source:    source,
		Dest:      dest,
		OnResult:  s.opts.OnResult,
	}
	s.p.events.Publish(Event{
		Kind:      EventTranscript,
		SessionID: s.id,
		Sequence:  chunk.Sequence,
		Text:      text,
		Source:    source,
		Dest:      dest,
	})
	if err := s.p.translations.Push(ctx, chunk); err != nil {
		s.logger.Warn("transcript not queued", slog.Uint64("sequence", chunk.Sequence), slogError(err))
		return
	}
	s.p.metrics.add(ctx, s.p.metrics.chunks)
}

// runPartials transcribes the undrained buffer whenever capture signals that
// enough audio has accumulated. Results are display-only.
func (s *Session) runPartials(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		}
		samples := s.buf.Snapshot()
		if len(samples) < s.partialMin {
			continue
		}
		source, _ := s.Languages()
		text, err := s.p.recognize(s.p.baseContext(), s.id, "partial", samples, source)
		if err != nil {
			s.logger.Debug("partial recognition failed", slogError(err))
			s.p.metrics.failed(ctx, "partial")
			continue
		}
		if text == "" || ctx.Err() != nil {
			continue
		}
		if s.opts.OnPartial != nil {
			if err := notifyPartial(s.opts.OnPartial, text); err != nil {
				s.logger.Warn("partial callback failed", slogError(err))
			}
		}
		s.p.metrics.add(ctx, s.p.metrics.partials)
		s.p.events.Publish(Event{Kind: EventPartial, SessionID: s.id, Text: text, Source: source})
	}
}

func notifyPartial(fn func(string), text string) (err error) {
	defer recoverJob(&err, "partial callback")
	fn(text)
	return nil
}

func (s *Session) drainKick() {
	select {
	case <-s.kick:
	default:
	}
}

func (s *Session) publishState(state State) {
	s.p.events.Publish(Event{Kind: EventSession, SessionID: s.id, State: state.String()})
}
