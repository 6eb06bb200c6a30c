package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var m map[string]any
		require.NoError(t, dec.Decode(&m))
		out = append(out, m)
	}
	return out
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(&bytes.Buffer{}, "vahti", "loud")
	require.Error(t, err)
}

func TestLogger_ServiceField(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(&buf, "vahti", "info")
	require.NoError(t, err)

	l.LogReportIngested(context.Background(), "r-1", "prowler", "aws", 3)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "vahti", lines[0]["service"])
	assert.Equal(t, "r-1", lines[0]["report"])
	assert.Equal(t, float64(3), lines[0]["findings"])
	assert.NotContains(t, lines[0], "trace_id")
}

func TestLogger_TraceIDsFromSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	var buf bytes.Buffer
	l, err := NewLogger(&buf, "vahti", "info")
	require.NoError(t, err)

	l.LogReportRejected(ctx, errors.New("malformed input"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, span.SpanContext().TraceID().String(), lines[0]["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), lines[0]["span_id"])
}

func TestLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(&buf, "vahti", "info")
	require.NoError(t, err)

	l.LogSpanStart(context.Background(), "normalize", attribute.String("tool", "prowler"))
	l.LogSpanEnd(context.Background(), "normalize", nil)
	assert.Empty(t, buf.String())

	l.LogSpanEnd(context.Background(), "normalize", errors.New("boom"))
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "span failed", lines[0]["message"])
}
