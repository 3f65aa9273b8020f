package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func (p *Pipeline) runTranslations(ctx context.Context) {
	defer p.workers.Done()
	log := p.logger.With(slog.String("stage", "translation"))
	for {
		chunk, err := p.translations.Pop(ctx)
		if err != nil {
			if !errors.Is(err, ErrQueueClosed) && ctx.Err() == nil {
				log.Warn("translation queue failed", slogError(err))
			}
			return
		}
		p.handleChunk(ctx, log, chunk)
	}
}

func (p *Pipeline) handleChunk(ctx context.Context, log *slog.Logger, chunk TranscriptChunk) {
	res, err := p.translate(ctx, chunk)
	if err == nil && chunk.OnResult != nil {
		err = deliver(chunk.OnResult, res)
	}
	if err != nil {
		log.Warn("translation failed",
			slog.String("session_id", chunk.SessionID),
			slog.Uint64("sequence", chunk.Sequence),
			slogError(err))
		p.reportError(ctx, "translation", chunk.SessionID, err)
		return
	}
	p.publishTranslation(res)

	job := SpeechJob{SessionID: chunk.SessionID, Sequence: chunk.Sequence, Text: res.Translated, Lang: res.Dest}
	if err := p.speech.Push(ctx, job); err != nil {
		log.Debug("speech job not queued", slog.Uint64("sequence", chunk.Sequence), slogError(err))
	}
}

func deliver(fn func(TranslationResult), res TranslationResult) (err error) {
	defer recoverJob(&err, "result callback")
	fn(res)
	return nil
}

// translate runs one chunk through the translator.
func (p *Pipeline) translate(ctx context.Context, chunk TranscriptChunk) (res TranslationResult, err error) {
	defer recoverJob(&err, "translator")

	ctx, span := p.metrics.tracer.Start(ctx, "pipeline.translate", trace.WithAttributes(
		attribute.String("session.id", chunk.SessionID),
		attribute.String("lang.source", chunk.Source),
		attribute.String("lang.dest", chunk.Dest),
	))
	defer span.End()
	ctx, cancel := withTimeout(ctx, p.cfg.Translation.TimeoutMS)
	defer cancel()

	started := time.Now()
	out, err := p.deps.Translator.Translate(ctx, chunk.Text, chunk.Source, chunk.Dest)
	p.metrics.observe(ctx, "translation", started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return TranslationResult{}, err
	}
	p.metrics.add(ctx, p.metrics.translations)
	return TranslationResult{
		SessionID:  chunk.SessionID,
		Sequence:   chunk.Sequence,
		Translated: out.Text,
		Original:   chunk.Text,
		Source:     chunk.Source,
		Dest:       chunk.Dest,
	}, nil
}

func (p *Pipeline) publishTranslation(res TranslationResult) {
	p.events.Publish(Event{
		Kind:      EventTranslation,
		SessionID: res.SessionID,
		Sequence:  res.Sequence,
		Text:      res.Translated,
		Original:  res.Original,
		Source:    res.Source,
		Dest:      res.Dest,
	})
}
