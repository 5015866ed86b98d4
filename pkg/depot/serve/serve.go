// Package serve exposes stored files over HTTP.
//
// A Handler fronts a depot registry at a configurable mountpoint and maps
// "{mountpoint}/{store}/{file_id}" requests to stored files, with the cache
// and conditional-request headers a CDN or browser cache expects. Stores
// whose backend serves HTTP directly, such as a public S3 bucket, are
// answered with a redirect to the backend's own URL instead of proxying the
// payload.
//
// Requests the handler does not recognize fall through to the wrapped
// handler, so the Middleware form drops into a chi or net/http stack without
// claiming the whole path space.
package serve

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/depotfs/depot/internal/logger"
	"github.com/depotfs/depot/internal/mimeheader"
	"github.com/depotfs/depot/pkg/bufpool"
	"github.com/depotfs/depot/pkg/depot"
)

// DefaultMountpoint is the path prefix files are served under when the
// configuration names none.
const DefaultMountpoint = "/depot"

// DefaultCacheMaxAge is the freshness lifetime advertised to caches when the
// configuration names none. Stored files only change through Replace, so a
// long lifetime is safe.
const DefaultCacheMaxAge = 7 * 24 * time.Hour

// Config holds the serving configuration.
type Config struct {
	// Mountpoint is the path prefix requests must carry. It must begin
	// with "/" and is matched on full path segments, so "/depot" does
	// not claim "/depots".
	Mountpoint string `mapstructure:"mountpoint" yaml:"mountpoint"`

	// CacheMaxAge is advertised in Cache-Control and Expires.
	CacheMaxAge time.Duration `mapstructure:"cache_max_age" yaml:"cache_max_age"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Mountpoint == "" {
		c.Mountpoint = DefaultMountpoint
	}
	if c.CacheMaxAge <= 0 {
		c.CacheMaxAge = DefaultCacheMaxAge
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Mountpoint, "/") {
		return fmt.Errorf("mountpoint %q must begin with /", c.Mountpoint)
	}
	return nil
}

// Handler serves files from a registry over HTTP. It implements
// http.Handler and is safe for concurrent use.
type Handler struct {
	registry   *depot.Registry
	next       http.Handler
	mountpoint string
	maxAge     time.Duration
}

var _ http.Handler = (*Handler)(nil)

// NewHandler creates a Handler serving files from reg. Requests outside the
// mountpoint, and methods other than GET and HEAD, are passed to next; a nil
// next answers them with 404.
func NewHandler(reg *depot.Registry, next http.Handler, cfg Config) (*Handler, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Handler{
		registry:   reg,
		next:       next,
		mountpoint: strings.TrimSuffix(cfg.Mountpoint, "/"),
		maxAge:     cfg.CacheMaxAge,
	}, nil
}

// Middleware wraps NewHandler in the middleware shape chi and net/http mux
// stacks compose with. The configuration is validated eagerly, so a bad
// mountpoint fails at router construction rather than on the first request.
func Middleware(reg *depot.Registry, cfg Config) (func(http.Handler) http.Handler, error) {
	// Probe the configuration once up front.
	if _, err := NewHandler(reg, nil, cfg); err != nil {
		return nil, err
	}
	return func(next http.Handler) http.Handler {
		h, _ := NewHandler(reg, next, cfg)
		return h
	}, nil
}

// URLFor returns the URL path a "store/file_id" depot path is served under.
func (h *Handler) URLFor(path string) string {
	return h.mountpoint + "/" + strings.TrimPrefix(path, "/")
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.delegate(w, r)
		return
	}
	rest, ok := strings.CutPrefix(r.URL.Path, h.mountpoint+"/")
	if !ok {
		h.delegate(w, r)
		return
	}

	storeName, fileID, ok := strings.Cut(rest, "/")
	if !ok || storeName == "" || fileID == "" {
		h.respondError(w, r, storeName, http.StatusNotFound)
		return
	}

	store, err := h.registry.Get(storeName)
	if err != nil {
		h.respondError(w, r, storeName, http.StatusNotFound)
		return
	}

	file, err := store.Get(r.Context(), fileID)
	if err != nil {
		status := http.StatusNotFound
		if !isLookupError(err) {
			status = http.StatusInternalServerError
			logger.Error("loading file for request failed",
				logger.Store(storeName),
				logger.FileID(fileID),
				logger.Err(err))
		}
		h.respondError(w, r, storeName, status)
		return
	}
	defer file.Close()

	h.respondFile(w, r, storeName, file)
}

// respondFile writes the response for a successfully loaded file. The
// payload is only opened when a full GET response needs it.
func (h *Handler) respondFile(w http.ResponseWriter, r *http.Request, storeName string, file *depot.StoredFile) {
	if file.PublicURL != "" {
		observeRequest(storeName, http.StatusMovedPermanently)
		http.Redirect(w, r, file.PublicURL, http.StatusMovedPermanently)
		return
	}

	etag := entityTag(file.Info())
	header := w.Header()
	header.Set("ETag", etag)
	header.Set("Cache-Control", fmt.Sprintf("max-age=%d, public", int(h.maxAge.Seconds())))
	header.Set("Expires", time.Now().Add(h.maxAge).UTC().Format(http.TimeFormat))

	// Conditional checks run before the payload is ever opened.
	if since := r.Header.Get("If-Modified-Since"); since != "" {
		t, err := http.ParseTime(since)
		if err != nil {
			observeRequest(storeName, http.StatusBadRequest)
			http.Error(w, "malformed If-Modified-Since header", http.StatusBadRequest)
			return
		}
		if !file.LastModified.After(t) {
			observeRequest(storeName, http.StatusNotModified)
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		observeRequest(storeName, http.StatusNotModified)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	header.Set("Content-Type", file.ContentType)
	header.Set("Content-Length", strconv.FormatInt(file.ContentLength, 10))
	header.Set("Content-Disposition", mimeheader.ContentDisposition(file.Filename))
	header.Set("Last-Modified", file.LastModified.UTC().Format(http.TimeFormat))

	observeRequest(storeName, http.StatusOK)
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.WriteHeader(http.StatusOK)
	buf := bufpool.GetChunk()
	defer bufpool.Put(buf)

	// A client hanging up surfaces as a write error and ends the copy;
	// the deferred Close in ServeHTTP releases the payload either way.
	written, err := copyBody(w, file, buf)
	observeBytes(storeName, written)
	if err != nil {
		logger.Debug("streaming stored file ended early",
			logger.Store(storeName),
			logger.FileID(file.FileID),
			logger.Size(written),
			logger.Err(err))
	}
}

func (h *Handler) delegate(w http.ResponseWriter, r *http.Request) {
	if h.next == nil {
		http.NotFound(w, r)
		return
	}
	h.next.ServeHTTP(w, r)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, storeName string, status int) {
	observeRequest(storeName, status)
	http.Error(w, http.StatusText(status), status)
}

// entityTag derives the ETag for a file. It depends only on the stored
// modification time and size, so every process serving the same store
// produces the same tag.
func entityTag(info depot.FileInfo) string {
	return `"` + info.LastModified.UTC().Format(depot.TimeFormat) + "-" + strconv.FormatInt(info.ContentLength, 10) + `"`
}

// copyBody streams src to dst chunk by chunk through buf.
func copyBody(dst http.ResponseWriter, src *depot.StoredFile, buf []byte) (int64, error) {
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
		}
		if errors.Is(rerr, io.EOF) {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// isLookupError reports whether err means the file cannot exist, as opposed
// to the backend failing.
func isLookupError(err error) bool {
	return errors.Is(err, depot.ErrNotFound) ||
		errors.Is(err, depot.ErrInvalidID) ||
		errors.Is(err, depot.ErrStoreNotFound) ||
		errors.Is(err, depot.ErrNoDefaultStore)
}
