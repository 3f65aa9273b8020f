package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/loqa-interpret/internal/stt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// recognize transcribes samples and restores punctuation on text longer than
// the configured minimum. Restoration never fails the call: on any error or
// panic from the punctuator the raw transcript is kept.
func (p *Pipeline) recognize(ctx context.Context, sessionID, mode string, samples []float32, language string) (text string, err error) {
	ctx, span := p.metrics.tracer.Start(ctx, "pipeline.recognize", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("mode", mode),
		attribute.Int("samples", len(samples)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	text, err = p.transcribe(ctx, samples, language)
	if err != nil {
		return "", err
	}
	if utf8.RuneCountInString(text) <= p.cfg.Streaming.PunctuateMinChars {
		return text, nil
	}
	return p.punctuate(ctx, sessionID, text), nil
}

func (p *Pipeline) transcribe(ctx context.Context, samples []float32, language string) (text string, err error) {
	defer recoverJob(&err, "recognizer")

	callCtx, cancel := withTimeout(ctx, p.cfg.STT.TimeoutMS)
	defer cancel()
	started := time.Now()
	res, err := p.deps.Recognizer.Transcribe(callCtx, samples, p.cfg.Audio.SampleRate, language)
	p.metrics.observe(ctx, "recognition", started)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Text), nil
}

// punctuate returns the restored text, or text unchanged when restoration
// fails.
func (p *Pipeline) punctuate(ctx context.Context, sessionID, text string) string {
	restored, err := p.restore(ctx, text)
	if err != nil {
		var perr *stt.PunctuationError
		if errors.As(err, &perr) {
			p.logger.Debug("punctuation failed, keeping raw text", slog.String("session_id", sessionID), slogError(err))
		} else {
			p.logger.Warn("punctuator error, keeping raw text", slog.String("session_id", sessionID), slogError(err))
			p.metrics.failed(ctx, "punctuation")
		}
		return text
	}
	if restored = strings.TrimSpace(restored); restored == "" {
		return text
	}
	return restored
}

func (p *Pipeline) restore(ctx context.Context, text string) (restored string, err error) {
	defer recoverJob(&err, "punctuator")
	return p.deps.Punctuator.Restore(ctx, text)
}
