package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

// disabledProvider exercises the no-op path; an enabled provider would dial
// a collector, which unit tests never do.
func disabledProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	return p
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "covenantd", cfg.ServiceName)
	require.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	require.Equal(t, 1.0, cfg.SampleRate)
	require.True(t, cfg.Enabled)
	require.False(t, cfg.Insecure)
}

func TestDisabledProviderIsUsable(t *testing.T) {
	p := disabledProvider(t)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())

	ctx := context.Background()
	p.RecordRequest(ctx, attribute.String("k", "v"))
	p.RecordError(ctx, errors.New("boom"), attribute.String("k", "v"))
	p.RecordDuration(ctx, 100*time.Millisecond)

	spanCtx, span := p.StartSpan(ctx, "noop.span")
	require.NotNil(t, spanCtx)
	span.End()

	require.NoError(t, p.Shutdown(ctx))
}

func TestTrackOperation(t *testing.T) {
	p := disabledProvider(t)

	ctx, finish := p.TrackOperation(context.Background(), "dispatch",
		AttrIntentName.String("realm:list"))
	require.NotNil(t, ctx)
	finish(nil)

	_, finish = p.TrackOperation(context.Background(), "dispatch")
	finish(errors.New("handler failed"))
}

func TestIntentAttrs(t *testing.T) {
	attrs := IntentAttrs("agreement:propose", "Entity", "realm-1")
	require.Len(t, attrs, 3)
	require.Equal(t, "covenant.intent.name", string(attrs[0].Key))
	require.Equal(t, "agreement:propose", attrs[0].Value.AsString())
	require.Equal(t, "realm-1", attrs[2].Value.AsString())

	// Empty realm is elided.
	require.Len(t, IntentAttrs("realm:list", "System", ""), 2)
}

func TestSpanFromContext(t *testing.T) {
	require.NotNil(t, SpanFromContext(context.Background()))
}
