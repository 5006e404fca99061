// Package tracing sets up Jaeger and opens spans around pipeline stages and
// store writes.
package tracing

import (
	"context"
	"fmt"
	"io"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"

	"github.com/aiprojectops/youtube-shorts-generator/internal/config"
)

// InitTracer creates a Jaeger tracer reporting to the collector endpoint and
// installs it as the global tracer. A sample rate below 1 samples
// probabilistically.
func InitTracer(cfg config.TracingConfig) (opentracing.Tracer, io.Closer, error) {
	sampler := &jaegercfg.SamplerConfig{Type: jaeger.SamplerTypeConst, Param: 1}
	if cfg.SampleRate > 0 && cfg.SampleRate < 1 {
		sampler = &jaegercfg.SamplerConfig{Type: jaeger.SamplerTypeProbabilistic, Param: cfg.SampleRate}
	}

	jc := &jaegercfg.Configuration{
		ServiceName: cfg.ServiceName,
		Sampler:     sampler,
		Reporter: &jaegercfg.ReporterConfig{
			CollectorEndpoint: cfg.JaegerEndpoint,
		},
	}

	tracer, closer, err := jc.NewTracer()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	opentracing.SetGlobalTracer(tracer)
	return tracer, closer, nil
}

func StartSpan(ctx context.Context, operationName string) (opentracing.Span, context.Context) {
	return opentracing.StartSpanFromContext(ctx, operationName)
}

// StartStageSpan opens a "pipeline.<stage>" span for one job
func StartStageSpan(ctx context.Context, stage, userID, jobID string) (opentracing.Span, context.Context) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "pipeline."+stage)
	span.SetTag("pipeline.stage", stage)
	span.SetTag("user.id", userID)
	span.SetTag("job.id", jobID)
	return span, ctx
}

// FinishSpan finishes a span, marking it failed when err is non-nil
func FinishSpan(span opentracing.Span, err error) {
	if span == nil {
		return
	}
	LogError(span, err)
	span.Finish()
}

func LogError(span opentracing.Span, err error) {
	if span != nil && err != nil {
		ext.Error.Set(span, true)
		span.LogKV("event", "error", "message", err.Error())
	}
}

func SetTag(span opentracing.Span, key string, value interface{}) {
	if span != nil {
		span.SetTag(key, value)
	}
}
