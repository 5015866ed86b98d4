package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on depot spans. Storage attributes follow the
// "store.*" / "file.*" convention; backend object attributes use the
// generic "storage.*" keys so dashboards work across S3, GCS and GridFS.
const (
	// Client attributes
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.addr"

	// HTTP serving attributes
	AttrHTTPMethod = "http.method"
	AttrHTTPPath   = "http.path"
	AttrHTTPStatus = "http.status_code"

	// Store attributes
	AttrStoreName    = "store.name"
	AttrStoreBackend = "store.backend"

	// File attributes
	AttrFileID        = "file.id"
	AttrFilePath      = "file.path"
	AttrFilename      = "file.name"
	AttrContentType   = "file.content_type"
	AttrContentLength = "file.content_length"

	// Backend object attributes
	AttrBucket = "storage.bucket"
	AttrKey    = "storage.key"
	AttrRegion = "storage.region"
)

// Span names for operations.
// Format: depot.<operation> for storage operations,
// http.<operation> for the serving layer.
const (
	SpanCreate  = "depot.create"
	SpanGet     = "depot.get"
	SpanReplace = "depot.replace"
	SpanDelete  = "depot.delete"
	SpanExists  = "depot.exists"
	SpanList    = "depot.list"

	SpanServeFile = "http.serve_file"
)

// ClientIP returns an attribute for client IP address
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// ClientAddr returns an attribute for full client address
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// HTTPMethod returns an attribute for the request method
func HTTPMethod(method string) attribute.KeyValue {
	return attribute.String(AttrHTTPMethod, method)
}

// HTTPPath returns an attribute for the request path
func HTTPPath(path string) attribute.KeyValue {
	return attribute.String(AttrHTTPPath, path)
}

// HTTPStatus returns an attribute for the response status code
func HTTPStatus(code int) attribute.KeyValue {
	return attribute.Int(AttrHTTPStatus, code)
}

// StoreName returns an attribute for the store name
func StoreName(name string) attribute.KeyValue {
	return attribute.String(AttrStoreName, name)
}

// StoreBackend returns an attribute for the store backend kind
func StoreBackend(backend string) attribute.KeyValue {
	return attribute.String(AttrStoreBackend, backend)
}

// FileID returns an attribute for a stored file ID
func FileID(id string) attribute.KeyValue {
	return attribute.String(AttrFileID, id)
}

// FilePath returns an attribute for a "store/file_id" path
func FilePath(path string) attribute.KeyValue {
	return attribute.String(AttrFilePath, path)
}

// Filename returns an attribute for the stored filename
func Filename(name string) attribute.KeyValue {
	return attribute.String(AttrFilename, name)
}

// ContentType returns an attribute for the stored MIME type
func ContentType(ct string) attribute.KeyValue {
	return attribute.String(AttrContentType, ct)
}

// ContentLength returns an attribute for the stored size in bytes
func ContentLength(n int64) attribute.KeyValue {
	return attribute.Int64(AttrContentLength, n)
}

// Bucket returns an attribute for an object storage bucket
func Bucket(bucket string) attribute.KeyValue {
	return attribute.String(AttrBucket, bucket)
}

// StorageKey returns an attribute for an object storage key
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Region returns an attribute for an object storage region
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// StartStorageSpan starts a span for a storage operation against a named
// store. Pass one of the Span* constants as name. fileID may be empty for
// operations that do not target a single file (create, list).
func StartStorageSpan(ctx context.Context, name, store, fileID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	spanAttrs := make([]attribute.KeyValue, 0, len(attrs)+2)
	spanAttrs = append(spanAttrs, StoreName(store))
	if fileID != "" {
		spanAttrs = append(spanAttrs, FileID(fileID))
	}
	spanAttrs = append(spanAttrs, attrs...)

	return StartSpan(ctx, name, trace.WithAttributes(spanAttrs...))
}

// StartServeSpan starts a span for an HTTP file-serving request.
func StartServeSpan(ctx context.Context, method, path string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	spanAttrs := make([]attribute.KeyValue, 0, len(attrs)+2)
	spanAttrs = append(spanAttrs, HTTPMethod(method), HTTPPath(path))
	spanAttrs = append(spanAttrs, attrs...)

	return StartSpan(ctx, SpanServeFile, trace.WithAttributes(spanAttrs...))
}
