// Package pipeline turns captured audio into spoken translations. A Pipeline
// owns the translation and speech queues and their workers; Sessions feed it
// from a live input stream, and the direct text path feeds it from callers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-interpret/internal/audio"
	"github.com/loqalabs/loqa-interpret/internal/config"
	"github.com/loqalabs/loqa-interpret/internal/stt"
	"github.com/loqalabs/loqa-interpret/internal/translate"
	"github.com/loqalabs/loqa-interpret/internal/tts"
)

var (
	// ErrSessionActive is returned when a session starts while another one
	// still holds the pipeline.
	ErrSessionActive = errors.New("another session is active")
	ErrEmptyText     = errors.New("text is empty")
)

// VoiceGate reports whether a chunk of samples contains speech.
type VoiceGate interface {
	ContainsSpeech(samples []float32) (bool, error)
}

// Deps are the collaborators a pipeline drives.
type Deps struct {
	Recognizer  stt.Recognizer
	Punctuator  stt.Punctuator
	Translator  translate.Translator
	Synthesizer tts.Synthesizer
	Source      audio.Source
	Player      audio.Player

	// VoiceGate is optional; when set, final chunks without speech are dropped.
	VoiceGate VoiceGate
}

type Pipeline struct {
	cfg    config.Config
	deps   Deps
	logger *slog.Logger

	translations *Queue[TranscriptChunk]
	speech       *Queue[SpeechJob]
	events       *Events
	metrics      *instruments

	mu       sync.Mutex
	base     context.Context
	active   *Session
	running  atomic.Bool
	textSeq  atomic.Uint64
	workers  sync.WaitGroup
	startRun sync.Once
}

func New(cfg config.Config, deps Deps, logger *slog.Logger) (*Pipeline, error) {
	if deps.Recognizer == nil {
		return nil, errors.New("pipeline requires a recognizer")
	}
	if deps.Translator == nil {
		return nil, errors.New("pipeline requires a translator")
	}
	if deps.Synthesizer == nil {
		return nil, errors.New("pipeline requires a synthesizer")
	}
	if deps.Punctuator == nil {
		deps.Punctuator = stt.NewNoopPunctuator()
	}
	if deps.Source == nil {
		deps.Source = audio.NullSource{}
	}
	if deps.Player == nil {
		deps.Player = audio.NullPlayer{}
	}
	overflow, err := ParseOverflow(cfg.Queue.Overflow)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:          cfg,
		deps:         deps,
		logger:       logger.With(slog.String("component", "pipeline")),
		translations: NewQueue[TranscriptChunk](cfg.Queue.Capacity, overflow),
		speech:       NewQueue[SpeechJob](cfg.Queue.Capacity, overflow),
		events:       newEvents(),
		base:         context.Background(),
	}
	p.metrics = newInstruments(p, p.logger)
	return p, nil
}

// Run starts the translation and speech workers and blocks until ctx ends.
// On return any active session has stopped and both queues are closed.
func (p *Pipeline) Run(ctx context.Context) error {
	started := false
	p.startRun.Do(func() { started = true })
	if !started {
		return errors.New("pipeline already running")
	}

	p.mu.Lock()
	p.base = ctx
	p.mu.Unlock()

	p.workers.Add(2)
	go p.runTranslations(ctx)
	go p.runSpeech(ctx)
	p.running.Store(true)
	p.logger.Info("pipeline started",
		slog.Int("queue_capacity", p.cfg.Queue.Capacity),
		slog.String("overflow", string(p.translations.overflow)))

	<-ctx.Done()
	p.running.Store(false)
	if s := p.ActiveSession(); s != nil {
		s.Stop()
	}
	p.translations.Close()
	p.speech.Close()
	p.workers.Wait()
	p.events.close()
	p.logger.Info("pipeline stopped")
	return nil
}

// Healthy reports whether the workers are running.
func (p *Pipeline) Healthy() bool { return p.running.Load() }

func (p *Pipeline) Events() *Events { return p.events }

// Config returns the configuration the pipeline was built with.
func (p *Pipeline) Config() config.Config { return p.cfg }

// ActiveSession returns the session currently holding the pipeline, or nil.
func (p *Pipeline) ActiveSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// QueueDepths reports how many items wait in the translation and speech queues.
func (p *Pipeline) QueueDepths() (translations, speech int) {
	return p.translations.Len(), p.speech.Len()
}

func (p *Pipeline) baseContext() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.base
}

func (p *Pipeline) claim(s *Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil && p.active != s {
		return fmt.Errorf("%w: %s", ErrSessionActive, p.active.ID())
	}
	p.active = s
	return nil
}

func (p *Pipeline) release(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == s {
		p.active = nil
	}
}

// TranslateText translates text synchronously. When speak is set the result
// is queued for speech as well.
func (p *Pipeline) TranslateText(ctx context.Context, text, source, dest string, speak bool) (TranslationResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return TranslationResult{}, ErrEmptyText
	}
	seq := p.textSeq.Add(1)
	res, err := p.translate(ctx, TranscriptChunk{Sequence: seq, Text: text, Source: source, Dest: dest})
	if err != nil {
		p.reportError(ctx, "translation", "", err)
		return TranslationResult{}, err
	}
	p.publishTranslation(res)
	if speak {
		job := SpeechJob{Sequence: seq, Text: res.Translated, Lang: dest}
		if err := p.speech.Push(ctx, job); err != nil {
			return res, fmt.Errorf("queue speech: %w", err)
		}
	}
	return res, nil
}

// EnqueueText queues text for asynchronous translation and speech. onResult
// may be nil.
func (p *Pipeline) EnqueueText(ctx context.Context, text, source, dest string, onResult func(TranslationResult)) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	chunk := TranscriptChunk{
		Sequence: p.textSeq.Add(1),
		Text:     text,
		Source:   source,
		Dest:     dest,
		OnResult: onResult,
	}
	return p.translations.Push(ctx, chunk)
}

func (p *Pipeline) reportError(ctx context.Context, stage, sessionID string, err error) {
	p.metrics.failed(ctx, stage)
	p.events.Publish(Event{Kind: EventError, SessionID: sessionID, Stage: stage, Err: err.Error()})
}

// withTimeout bounds a collaborator call when ms is positive.
func withTimeout(ctx context.Context, ms int) (context.Context, context.CancelFunc) {
	if ms <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
}

// recoverJob converts a panic in a collaborator or callback into an error.
func recoverJob(err *error, what string) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s panicked: %v", what, r)
	}
}
