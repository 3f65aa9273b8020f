package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/loqalabs/loqa-interpret/internal/audio"
	"github.com/loqalabs/loqa-interpret/internal/tts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func (p *Pipeline) runSpeech(ctx context.Context) {
	defer p.workers.Done()
	log := p.logger.With(slog.String("stage", "speech"))
	for {
		job, err := p.speech.Pop(ctx)
		if err != nil {
			if !errors.Is(err, ErrQueueClosed) && ctx.Err() == nil {
				log.Warn("speech queue failed", slogError(err))
			}
			return
		}
		if err := p.speak(ctx, job); err != nil {
			log.Warn("speech failed",
				slog.String("session_id", job.SessionID),
				slog.Uint64("sequence", job.Sequence),
				slogError(err))
			p.reportError(ctx, "speech", job.SessionID, err)
			continue
		}
		p.events.Publish(Event{
			Kind:      EventSpeech,
			SessionID: job.SessionID,
			Sequence:  job.Sequence,
			Text:      job.Text,
			Dest:      job.Lang,
		})
	}
}

// speak synthesizes job into a temporary WAV file, plays it and removes the
// file whatever the outcome.
func (p *Pipeline) speak(ctx context.Context, job SpeechJob) (err error) {
	defer recoverJob(&err, "speech")

	ctx, span := p.metrics.tracer.Start(ctx, "pipeline.speak", trace.WithAttributes(
		attribute.String("session.id", job.SessionID),
		attribute.String("lang", job.Lang),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	ctx, cancel := withTimeout(ctx, p.cfg.TTS.TimeoutMS)
	defer cancel()

	started := time.Now()
	clip, err := tts.Collect(ctx, p.deps.Synthesizer, tts.SynthRequest{
		SessionID: job.SessionID,
		Text:      job.Text,
		Language:  job.Lang,
		Voice:     tts.VoiceFor(p.cfg.TTS.Voices, job.Lang),
	})
	p.metrics.observe(ctx, "synthesis", started)
	if err != nil {
		return err
	}

	path, err := audio.WriteTempFile(p.cfg.Audio.SpoolDir, "loqa-speech-*.wav", clip.PCM, clip.SampleRate, clip.Channels)
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			p.logger.Warn("failed to remove speech file", slog.String("path", path), slogError(rmErr))
		}
	}()

	p.logger.Debug("playing speech",
		slog.String("session_id", job.SessionID),
		slog.Uint64("sequence", job.Sequence),
		slog.Duration("duration", clip.Duration()))
	started = time.Now()
	if err := p.deps.Player.PlayFile(ctx, path); err != nil {
		return err
	}
	p.metrics.observe(ctx, "playback", started)
	p.metrics.add(ctx, p.metrics.speech)
	return nil
}
