package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiprojectops/youtube-shorts-generator/internal/config"
)

func useMockTracer(t *testing.T) *mocktracer.MockTracer {
	t.Helper()
	tracer := mocktracer.New()
	opentracing.SetGlobalTracer(tracer)
	t.Cleanup(func() { opentracing.SetGlobalTracer(opentracing.NoopTracer{}) })
	return tracer
}

func TestStartStageSpan(t *testing.T) {
	tracer := useMockTracer(t)

	span, ctx := StartStageSpan(context.Background(), "upload", "user-1", "job-1")
	require.NotNil(t, opentracing.SpanFromContext(ctx))
	FinishSpan(span, errors.New("quota exceeded"))

	finished := tracer.FinishedSpans()
	require.Len(t, finished, 1)
	assert.Equal(t, "pipeline.upload", finished[0].OperationName)
	assert.Equal(t, "upload", finished[0].Tag("pipeline.stage"))
	assert.Equal(t, "user-1", finished[0].Tag("user.id"))
	assert.Equal(t, "job-1", finished[0].Tag("job.id"))
	assert.Equal(t, true, finished[0].Tag("error"))
}

func TestChildSpansShareTrace(t *testing.T) {
	tracer := useMockTracer(t)

	parent, ctx := StartStageSpan(context.Background(), "generation", "user-1", "job-1")
	child, _ := StartSpan(ctx, "store.save")
	FinishSpan(child, nil)
	FinishSpan(parent, nil)

	finished := tracer.FinishedSpans()
	require.Len(t, finished, 2)
	assert.Equal(t, finished[1].SpanContext.TraceID, finished[0].SpanContext.TraceID)
	assert.Equal(t, finished[1].SpanContext.SpanID, finished[0].ParentID)
	assert.Nil(t, finished[1].Tag("error"))
}

func TestInitTracerInstallsGlobal(t *testing.T) {
	defer opentracing.SetGlobalTracer(opentracing.NoopTracer{})

	tracer, closer, err := InitTracer(config.TracingConfig{
		ServiceName:    "shorts-scheduler-test",
		JaegerEndpoint: "http://127.0.0.1:1/api/traces",
		SampleRate:     0.5,
	})
	require.NoError(t, err)
	defer closer.Close()
	assert.Same(t, tracer, opentracing.GlobalTracer())
}

func TestNilSpanHelpers(t *testing.T) {
	FinishSpan(nil, errors.New("ignored"))
	LogError(nil, errors.New("ignored"))
	SetTag(nil, "key", "value")
}
