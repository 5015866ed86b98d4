package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so logs from the
// registry, the drivers, and the serving layer aggregate cleanly.
const (
	// ========================================================================
	// Storage addressing
	// ========================================================================
	KeyStore   = "store"   // Named store identifier from the registry
	KeyBackend = "backend" // Driver backend: local, memory, s3, gcs, gridfs, badger
	KeyFileID  = "file_id" // File identifier within a store
	KeyPath    = "path"    // Combined "store/file_id" path

	// ========================================================================
	// File metadata
	// ========================================================================
	KeyFilename    = "filename"     // Stored filename
	KeyContentType = "content_type" // Stored content type
	KeySize        = "size"         // Content length in bytes

	// ========================================================================
	// Cloud backends
	// ========================================================================
	KeyBucket = "bucket" // Bucket name (S3, GCS)
	KeyKey    = "key"    // Object key in cloud storage
	KeyRegion = "region" // Cloud region

	// ========================================================================
	// HTTP serving
	// ========================================================================
	KeyRequestID = "request_id" // Request correlation ID
	KeyClientIP  = "client_ip"  // Client IP address
	KeyMethod    = "method"     // HTTP method
	KeyStatus    = "status"     // HTTP status code

	// ========================================================================
	// Operation metadata
	// ========================================================================
	KeyOperation  = "operation"   // Storage operation: create, get, replace, delete
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyAttempt    = "attempt"     // Retry attempt number
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// Store returns a slog.Attr for a named store
func Store(name string) slog.Attr {
	return slog.String(KeyStore, name)
}

// Backend returns a slog.Attr for a driver backend name
func Backend(name string) slog.Attr {
	return slog.String(KeyBackend, name)
}

// FileID returns a slog.Attr for a file identifier
func FileID(id string) slog.Attr {
	return slog.String(KeyFileID, id)
}

// Path returns a slog.Attr for a "store/file_id" path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Filename returns a slog.Attr for a stored filename
func Filename(name string) slog.Attr {
	return slog.String(KeyFilename, name)
}

// ContentType returns a slog.Attr for a stored content type
func ContentType(ct string) slog.Attr {
	return slog.String(KeyContentType, ct)
}

// Size returns a slog.Attr for a content length
func Size(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}

// Bucket returns a slog.Attr for a cloud bucket name
func Bucket(name string) slog.Attr {
	return slog.String(KeyBucket, name)
}

// Operation returns a slog.Attr for a storage operation name
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Status returns a slog.Attr for an HTTP status code
func Status(code int) slog.Attr {
	return slog.Int(KeyStatus, code)
}

// Err returns a slog.Attr for an error value
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
