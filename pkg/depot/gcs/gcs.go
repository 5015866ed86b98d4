// Package gcs provides a Google Cloud Storage backend.
//
// Credentials come from a service account file, inline JSON, or the
// application-default chain. The standard STORAGE_EMULATOR_HOST variable is
// honored for local testing against fake-gcs-server. Filenames and
// modification times ride along as object metadata, mirroring the S3 driver,
// so buckets stay readable by other tooling.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/depotfs/depot/internal/logger"
	"github.com/depotfs/depot/internal/mimeheader"
	"github.com/depotfs/depot/pkg/bufpool"
	"github.com/depotfs/depot/pkg/depot"
)

// Backend is the name this driver registers under.
const Backend = "gcs"

// Object metadata keys on stored objects.
const (
	metaFilename = "x-depot-filename"
	metaModified = "x-depot-modified"
)

// Canned policies for new objects.
const (
	PolicyPrivate    = "private"
	PolicyPublicRead = "public-read"
)

// signedURLExpiry is how long download links for private objects stay valid.
// V2 signatures carry no seven-day cap, so links outlive typical caches.
const signedURLExpiry = 365 * 24 * time.Hour

func init() {
	depot.Register(Backend, func(ctx context.Context, options map[string]any) (depot.Storage, error) {
		cfg := DefaultConfig()
		if err := depot.DecodeOptions(options, &cfg); err != nil {
			return nil, err
		}
		// credentials is accepted as an older name for credentials_file.
		if cfg.CredentialsFile == "" && cfg.CredentialsJSON == "" {
			if path, ok := options["credentials"].(string); ok {
				cfg.CredentialsFile = path
			}
		}
		return New(ctx, cfg)
	})
}

// Config holds the GCS driver configuration.
type Config struct {
	// ProjectID is the Google Cloud project. Only needed when CreateBucket
	// is set, bucket handles are project-independent otherwise.
	ProjectID string `mapstructure:"project_id"`

	// Bucket is the bucket files are stored in. Required.
	Bucket string `mapstructure:"bucket"`

	// CredentialsFile is a path to a service account JSON file. Empty uses
	// inline CredentialsJSON or the application-default chain.
	CredentialsFile string `mapstructure:"credentials_file"`

	// CredentialsJSON is the service account key itself, for configuration
	// systems that inject secrets as values rather than files.
	CredentialsJSON string `mapstructure:"credentials_json"`

	// Prefix is prepended to every object name.
	Prefix string `mapstructure:"prefix"`

	// Policy is the canned ACL for new objects, PolicyPrivate or
	// PolicyPublicRead. Public objects get a plain URL, private ones a
	// signed link.
	Policy string `mapstructure:"policy"`

	// StorageClass selects the storage class for new objects and buckets,
	// for example NEARLINE. Empty uses the bucket default.
	StorageClass string `mapstructure:"storage_class"`

	// CreateBucket creates the bucket when it does not exist yet instead
	// of failing. Requires ProjectID.
	CreateBucket bool `mapstructure:"create_bucket"`
}

// DefaultConfig returns the configuration used when options are omitted.
func DefaultConfig() Config {
	return Config{
		Policy: PolicyPrivate,
	}
}

// Store keeps files as objects under {prefix}{file_id}. It is safe for
// concurrent use.
type Store struct {
	client       *storage.Client
	bucket       *storage.BucketHandle
	bucketName   string
	prefix       string
	policy       string
	storageClass string
	ownsClient   bool
	signWarn     sync.Once
}

var _ depot.Storage = (*Store)(nil)
var _ depot.Lister = (*Store)(nil)

// New builds a GCS client from cfg and verifies bucket access.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s, err := NewWithClient(ctx, client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.ownsClient = true
	return s, nil
}

// NewWithClient wraps an existing client, for callers that already manage
// Google Cloud configuration. Bucket access is verified up front; with
// cfg.CreateBucket set a missing bucket is created.
func NewWithClient(ctx context.Context, client *storage.Client, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs: bucket is required")
	}
	switch cfg.Policy {
	case "", PolicyPrivate, PolicyPublicRead:
	default:
		return nil, fmt.Errorf("gcs: unknown policy %q", cfg.Policy)
	}

	s := &Store{
		client:       client,
		bucket:       client.Bucket(cfg.Bucket),
		bucketName:   cfg.Bucket,
		prefix:       cfg.Prefix,
		policy:       cfg.Policy,
		storageClass: cfg.StorageClass,
	}
	if s.policy == "" {
		s.policy = PolicyPrivate
	}

	if err := s.ensureBucket(ctx, cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func newClient(ctx context.Context, cfg Config) (*storage.Client, error) {
	var opts []option.ClientOption
	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case os.Getenv("STORAGE_EMULATOR_HOST") != "":
		opts = append(opts, option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}
	return client, nil
}

func (s *Store) ensureBucket(ctx context.Context, cfg Config) error {
	_, err := s.bucket.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !cfg.CreateBucket || !isNotFoundError(err) {
		return fmt.Errorf("accessing bucket %q: %w", s.bucketName, err)
	}
	if cfg.ProjectID == "" {
		return fmt.Errorf("gcs: project_id is required to create bucket %q", s.bucketName)
	}

	attrs := &storage.BucketAttrs{StorageClass: s.storageClass}
	if err := s.bucket.Create(ctx, cfg.ProjectID, attrs); err != nil {
		return fmt.Errorf("creating bucket %q: %w", s.bucketName, err)
	}
	logger.Info("created bucket", logger.Bucket(s.bucketName))
	return nil
}

// Close releases the underlying client when this store created it. Stores
// built with NewWithClient leave the client to its owner.
func (s *Store) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close()
}

func (s *Store) key(fileID string) string {
	return s.prefix + fileID
}

// Create implements depot.Storage.
func (s *Store) Create(ctx context.Context, content depot.Content) (string, error) {
	src, err := content.Source()
	if err != nil {
		return "", err
	}
	id, err := depot.NewID()
	if err != nil {
		return "", err
	}

	filename, contentType := content.Describe()
	if err := s.put(ctx, id, src, filename, contentType); err != nil {
		return "", fmt.Errorf("gcs: create %s: %w", id, err)
	}
	return id, nil
}

// put uploads one object with full depot metadata attached. GCS resumable
// uploads handle payloads of unknown length, so no spooling is needed.
func (s *Store) put(ctx context.Context, fileID string, src io.Reader, filename, contentType string) error {
	modified := depot.NormalizeTime(time.Now())

	// Cancelling the writer's context aborts the upload without committing
	// a partial object.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket.Object(s.key(fileID)).NewWriter(wctx)
	w.ObjectAttrs.ContentType = contentType
	w.ObjectAttrs.ContentDisposition = mimeheader.ContentDisposition(filename)
	w.ObjectAttrs.Metadata = map[string]string{
		metaFilename: mimeheader.PercentEncode(filename),
		metaModified: modified.Format(depot.TimeFormat),
	}
	if s.storageClass != "" {
		w.ObjectAttrs.StorageClass = s.storageClass
	}
	if s.policy == PolicyPublicRead {
		w.PredefinedACL = "publicRead"
	}

	buf := bufpool.GetChunk()
	defer bufpool.Put(buf)

	if _, err := io.CopyBuffer(w, src, buf); err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("writing object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("committing object: %w", err)
	}
	return nil
}

// Get implements depot.Storage. The object body is only requested when the
// returned handle is first read.
func (s *Store) Get(ctx context.Context, fileID string) (*depot.StoredFile, error) {
	if err := depot.ValidateID(fileID); err != nil {
		return nil, err
	}

	attrs, err := s.bucket.Object(s.key(fileID)).Attrs(ctx)
	if err != nil {
		if isNotFoundError(err) {
			return nil, depot.ErrNotFound
		}
		return nil, fmt.Errorf("gcs: get %s: %w", fileID, err)
	}

	info := s.infoFromAttrs(fileID, attrs)
	key := s.key(fileID)
	return depot.NewStoredFile(info, func() (io.ReadCloser, error) {
		r, err := s.bucket.Object(key).NewReader(ctx)
		if err != nil {
			if isNotFoundError(err) {
				return nil, depot.ErrNotFound
			}
			return nil, fmt.Errorf("gcs: read %s: %w", fileID, err)
		}
		return r, nil
	}), nil
}

// infoFromAttrs assembles file metadata from object attributes, falling back
// to the object's own fields when depot metadata is missing, for example on
// objects written by other tools.
func (s *Store) infoFromAttrs(fileID string, attrs *storage.ObjectAttrs) depot.FileInfo {
	filename := mimeheader.PercentDecode(attrs.Metadata[metaFilename])
	if filename == "" {
		filename = depot.DefaultFilename
	}
	contentType := attrs.ContentType
	if contentType == "" {
		contentType = depot.DefaultContentType
	}

	modified, err := time.Parse(depot.TimeFormat, attrs.Metadata[metaModified])
	if err != nil {
		modified = attrs.Updated
	}

	return depot.FileInfo{
		FileID:        fileID,
		Filename:      filename,
		ContentType:   contentType,
		ContentLength: attrs.Size,
		LastModified:  depot.NormalizeTime(modified),
		PublicURL:     s.publicURL(fileID),
	}
}

// publicURL returns a plain object URL for public buckets and a signed link
// for private ones. A signing failure, for example with a client that has no
// private key, degrades to no URL.
func (s *Store) publicURL(fileID string) string {
	if s.policy == PolicyPublicRead {
		return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucketName, s.key(fileID))
	}

	url, err := s.bucket.SignedURL(s.key(fileID), &storage.SignedURLOptions{
		Method:  http.MethodGet,
		Expires: time.Now().Add(signedURLExpiry),
	})
	if err != nil {
		s.signWarn.Do(func() {
			logger.Warn("could not sign download URL",
				logger.Bucket(s.bucketName),
				logger.Err(err))
		})
		return ""
	}
	return url
}

// Replace implements depot.Storage.
func (s *Store) Replace(ctx context.Context, fileID string, content depot.Content) error {
	if err := depot.ValidateID(fileID); err != nil {
		return err
	}
	src, err := content.Source()
	if err != nil {
		return err
	}

	attrs, err := s.bucket.Object(s.key(fileID)).Attrs(ctx)
	if err != nil {
		if isNotFoundError(err) {
			return depot.ErrNotFound
		}
		return fmt.Errorf("gcs: replace %s: %w", fileID, err)
	}

	existing := s.infoFromAttrs(fileID, attrs)
	filename, contentType := content.DescribeReplacement(existing)
	if err := s.put(ctx, fileID, src, filename, contentType); err != nil {
		return fmt.Errorf("gcs: replace %s: %w", fileID, err)
	}
	return nil
}

// Delete implements depot.Storage. Deleting an absent object is a no-op.
func (s *Store) Delete(ctx context.Context, fileID string) error {
	if err := depot.ValidateID(fileID); err != nil {
		return err
	}

	err := s.bucket.Object(s.key(fileID)).Delete(ctx)
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("gcs: delete %s: %w", fileID, err)
	}
	return nil
}

// Exists implements depot.Storage.
func (s *Store) Exists(ctx context.Context, fileID string) (bool, error) {
	if err := depot.ValidateID(fileID); err != nil {
		return false, err
	}

	_, err := s.bucket.Object(s.key(fileID)).Attrs(ctx)
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("gcs: stat %s: %w", fileID, err)
	}
	return true, nil
}

// List implements depot.Lister. Objects under the configured prefix that do
// not look like file IDs are skipped.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var ids []string

	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs: list: %w", err)
		}
		id := strings.TrimPrefix(attrs.Name, s.prefix)
		if depot.ValidateID(id) != nil {
			continue
		}
		ids = append(ids, id)
	}

	sort.Strings(ids)
	return ids, nil
}

// isNotFoundError reports whether err means the object or bucket does not
// exist, checking the package sentinels first and falling back to the API
// status code.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound
	}
	return false
}
