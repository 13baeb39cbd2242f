package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type fakeConn struct {
	msgs    []*nats.Msg
	err     error
	drained bool
}

func (f *fakeConn) PublishMsg(m *nats.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*headerCarrier)(msg)

	assert.Equal(t, "", carrier.Get("missing"))
	assert.Nil(t, carrier.Keys())

	carrier.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", carrier.Get("traceparent"))
	assert.Len(t, carrier.Keys(), 1)
}

func TestNATSPublisher_Publish(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	conn := &fakeConn{}
	p := newNATSPublisher(conn, "ndt.jobs.", zap.NewNop())

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	evt := JobEvent{
		Type:       TypeJobStatusChanged,
		JobID:      uuid.New(),
		Status:     "open",
		FromStatus: "draft",
		ActorID:    uuid.New(),
		Version:    2,
		OccurredAt: time.Now().UTC(),
	}
	require.NoError(t, p.Publish(ctx, evt))
	require.Len(t, conn.msgs, 1)

	msg := conn.msgs[0]
	assert.Equal(t, "ndt.jobs.job.status_changed", msg.Subject)
	assert.Contains(t, msg.Header.Get("traceparent"), "4bf92f3577b34da6a3ce929d0e0e4736")

	var decoded JobEvent
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, evt.JobID, decoded.JobID)
	assert.Equal(t, "draft", decoded.FromStatus)

	p.Close()
	assert.True(t, conn.drained)
}

func TestNATSPublisher_PublishError(t *testing.T) {
	conn := &fakeConn{err: errors.New("connection closed")}
	p := newNATSPublisher(conn, "ndt.jobs", zap.NewNop())

	err := p.Publish(context.Background(), JobEvent{Type: TypeJobCreated})
	assert.ErrorContains(t, err, "ndt.jobs.job.created")
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	require.NoError(t, r.Publish(context.Background(), JobEvent{Type: TypeJobCreated}))
	require.NoError(t, r.Publish(context.Background(), JobEvent{Type: TypeQuotationSubmitted}))
	assert.Equal(t, []string{TypeJobCreated, TypeQuotationSubmitted}, r.Types())
}
