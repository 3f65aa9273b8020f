package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-interpret/pipeline"

type instruments struct {
	tracer       trace.Tracer
	chunks       metric.Int64Counter
	partials     metric.Int64Counter
	translations metric.Int64Counter
	speech       metric.Int64Counter
	errors       metric.Int64Counter
	latency      metric.Float64Histogram
}

func newInstruments(p *Pipeline, log *slog.Logger) *instruments {
	meter := otel.Meter(instrumentationName)
	in := &instruments{tracer: otel.Tracer(instrumentationName)}
	if err := in.init(meter, p); err != nil {
		log.Warn("failed to initialize metrics", slogError(err))
	}
	return in
}

func (in *instruments) init(meter metric.Meter, p *Pipeline) error {
	var err error
	if in.chunks, err = meter.Int64Counter("loqa.interpret.chunks",
		metric.WithDescription("Finalized transcript chunks enqueued for translation")); err != nil {
		return err
	}
	if in.partials, err = meter.Int64Counter("loqa.interpret.partials",
		metric.WithDescription("Partial transcripts emitted")); err != nil {
		return err
	}
	if in.translations, err = meter.Int64Counter("loqa.interpret.translations",
		metric.WithDescription("Successful translations")); err != nil {
		return err
	}
	if in.speech, err = meter.Int64Counter("loqa.interpret.speech",
		metric.WithDescription("Utterances played")); err != nil {
		return err
	}
	if in.errors, err = meter.Int64Counter("loqa.interpret.errors",
		metric.WithDescription("Failed stage invocations")); err != nil {
		return err
	}
	if in.latency, err = meter.Float64Histogram("loqa.interpret.stage.duration",
		metric.WithDescription("Collaborator call latency"), metric.WithUnit("s")); err != nil {
		return err
	}

	translationDepth, err := meter.Int64ObservableGauge("loqa.interpret.queue.translation",
		metric.WithDescription("Chunks waiting for translation"))
	if err != nil {
		return err
	}
	speechDepth, err := meter.Int64ObservableGauge("loqa.interpret.queue.speech",
		metric.WithDescription("Jobs waiting for speech"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(translationDepth, int64(p.translations.Len()))
		obs.ObserveInt64(speechDepth, int64(p.speech.Len()))
		return nil
	}, translationDepth, speechDepth)
	return err
}

func stageAttr(stage string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("stage", stage))
}

func (in *instruments) failed(ctx context.Context, stage string) {
	if in.errors != nil {
		in.errors.Add(ctx, 1, stageAttr(stage))
	}
}

func (in *instruments) observe(ctx context.Context, stage string, started time.Time) {
	if in.latency != nil {
		in.latency.Record(ctx, time.Since(started).Seconds(), stageAttr(stage))
	}
}

func (in *instruments) add(ctx context.Context, c metric.Int64Counter) {
	if c != nil {
		c.Add(ctx, 1)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
