package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "depotd", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.ServiceVersion)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Enabled = false

	shutdown, err := Init(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	// Should be able to call shutdown without error
	err = shutdown(ctx)
	assert.NoError(t, err)

	// Should not be enabled
	assert.False(t, IsEnabled())
}

func TestTracerReturnsNoOp(t *testing.T) {
	// Reset state
	tracer = nil
	enabled = false

	// Without initialization, should return no-op tracer
	tr := Tracer()
	require.NotNil(t, tr)
}

func TestStartSpan(t *testing.T) {
	ctx := context.Background()

	// Even without initialization, StartSpan should work (no-op)
	newCtx, span := StartSpan(ctx, "test.operation")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)

	// Should be able to end the span
	span.End()
}

func TestSpanFromContext(t *testing.T) {
	ctx := context.Background()

	// Should return a span even without active span
	span := SpanFromContext(ctx)
	require.NotNil(t, span)
}

func TestAddEvent(t *testing.T) {
	ctx := context.Background()

	// Should not panic with no active span
	require.NotPanics(t, func() {
		AddEvent(ctx, "test.event")
	})
}

func TestRecordError(t *testing.T) {
	ctx := context.Background()

	// Should not panic with nil error
	require.NotPanics(t, func() {
		RecordError(ctx, nil)
	})

	// Should not panic with error
	require.NotPanics(t, func() {
		RecordError(ctx, errors.New("test error"))
	})
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Ok, "success")
	})

	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Error, "failed")
	})
}

func TestSetAttributes(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	require.NotPanics(t, func() {
		SetAttributes(ctx, ClientIP("192.168.1.1"))
	})
}

func TestTraceID(t *testing.T) {
	ctx := context.Background()

	// Without active span, should return empty string
	traceID := TraceID(ctx)
	assert.Equal(t, "", traceID)
}

func TestSpanID(t *testing.T) {
	ctx := context.Background()

	// Without active span, should return empty string
	spanID := SpanID(ctx)
	assert.Equal(t, "", spanID)
}

func TestAttributeHelpers(t *testing.T) {
	t.Run("ClientIP", func(t *testing.T) {
		attr := ClientIP("192.168.1.100")
		assert.Equal(t, AttrClientIP, string(attr.Key))
		assert.Equal(t, "192.168.1.100", attr.Value.AsString())
	})

	t.Run("ClientAddr", func(t *testing.T) {
		attr := ClientAddr("192.168.1.100:12345")
		assert.Equal(t, AttrClientAddr, string(attr.Key))
		assert.Equal(t, "192.168.1.100:12345", attr.Value.AsString())
	})

	t.Run("HTTPMethod", func(t *testing.T) {
		attr := HTTPMethod("GET")
		assert.Equal(t, AttrHTTPMethod, string(attr.Key))
		assert.Equal(t, "GET", attr.Value.AsString())
	})

	t.Run("HTTPStatus", func(t *testing.T) {
		attr := HTTPStatus(304)
		assert.Equal(t, AttrHTTPStatus, string(attr.Key))
		assert.Equal(t, int64(304), attr.Value.AsInt64())
	})

	t.Run("StoreName", func(t *testing.T) {
		attr := StoreName("media")
		assert.Equal(t, AttrStoreName, string(attr.Key))
		assert.Equal(t, "media", attr.Value.AsString())
	})

	t.Run("StoreBackend", func(t *testing.T) {
		attr := StoreBackend("s3")
		assert.Equal(t, AttrStoreBackend, string(attr.Key))
		assert.Equal(t, "s3", attr.Value.AsString())
	})

	t.Run("FileID", func(t *testing.T) {
		attr := FileID("7a5c9d1e-0000-11ef-9f0a-0242ac120002")
		assert.Equal(t, AttrFileID, string(attr.Key))
		assert.Equal(t, "7a5c9d1e-0000-11ef-9f0a-0242ac120002", attr.Value.AsString())
	})

	t.Run("FilePath", func(t *testing.T) {
		attr := FilePath("media/abc")
		assert.Equal(t, AttrFilePath, string(attr.Key))
		assert.Equal(t, "media/abc", attr.Value.AsString())
	})

	t.Run("Filename", func(t *testing.T) {
		attr := Filename("report.pdf")
		assert.Equal(t, AttrFilename, string(attr.Key))
		assert.Equal(t, "report.pdf", attr.Value.AsString())
	})

	t.Run("ContentType", func(t *testing.T) {
		attr := ContentType("application/pdf")
		assert.Equal(t, AttrContentType, string(attr.Key))
		assert.Equal(t, "application/pdf", attr.Value.AsString())
	})

	t.Run("ContentLength", func(t *testing.T) {
		attr := ContentLength(1048576)
		assert.Equal(t, AttrContentLength, string(attr.Key))
		assert.Equal(t, int64(1048576), attr.Value.AsInt64())
	})

	t.Run("Bucket", func(t *testing.T) {
		attr := Bucket("my-bucket")
		assert.Equal(t, AttrBucket, string(attr.Key))
		assert.Equal(t, "my-bucket", attr.Value.AsString())
	})

	t.Run("StorageKey", func(t *testing.T) {
		attr := StorageKey("path/to/object")
		assert.Equal(t, AttrKey, string(attr.Key))
		assert.Equal(t, "path/to/object", attr.Value.AsString())
	})

	t.Run("Region", func(t *testing.T) {
		attr := Region("eu-west-1")
		assert.Equal(t, AttrRegion, string(attr.Key))
		assert.Equal(t, "eu-west-1", attr.Value.AsString())
	})
}

func TestStartStorageSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartStorageSpan(ctx, SpanGet, "media", "abc-123")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	// Without a file ID
	newCtx2, span2 := StartStorageSpan(ctx, SpanCreate, "media", "")
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()

	// With additional attributes
	newCtx3, span3 := StartStorageSpan(ctx, SpanReplace, "media", "abc-123",
		Filename("f.txt"), ContentLength(1024))
	require.NotNil(t, newCtx3)
	require.NotNil(t, span3)
	span3.End()
}

func TestStartServeSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartServeSpan(ctx, "GET", "/depot/media/abc-123")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}
