// Package s3 provides an Amazon S3 storage backend.
//
// It works against AWS as well as S3-compatible services such as MinIO or
// LocalStack through the endpoint_url option. Filenames and modification
// times ride along as object user metadata, so a bucket stays readable by
// other tooling.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/depotfs/depot/internal/bytesize"
	"github.com/depotfs/depot/internal/logger"
	"github.com/depotfs/depot/internal/mimeheader"
	"github.com/depotfs/depot/pkg/depot"
)

// Backend is the name this driver registers under.
const Backend = "s3"

// User metadata keys on stored objects.
const (
	metaFilename = "x-depot-filename"
	metaModified = "x-depot-modified"
)

// Canned policies for new objects.
const (
	PolicyPrivate    = "private"
	PolicyPublicRead = "public-read"
)

// presignExpiry is how long download links for private objects stay valid.
// SigV4 caps presigned URLs at seven days.
const presignExpiry = 7 * 24 * time.Hour

func init() {
	depot.Register(Backend, func(ctx context.Context, options map[string]any) (depot.Storage, error) {
		cfg := DefaultConfig()
		if err := depot.DecodeOptions(options, &cfg); err != nil {
			return nil, err
		}
		// host is accepted as an older name for endpoint_url.
		if cfg.Endpoint == "" {
			if host, ok := options["host"].(string); ok {
				cfg.Endpoint = host
			}
		}
		return New(ctx, cfg)
	})
}

// Config holds the S3 driver configuration.
type Config struct {
	// AccessKeyID and SecretAccessKey are static credentials. Leave both
	// empty to use the SDK's default chain (environment, shared config,
	// instance roles).
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// Bucket is the bucket files are stored in. Required.
	Bucket string `mapstructure:"bucket"`

	// Region is the AWS region. Optional with a custom endpoint.
	Region string `mapstructure:"region_name"`

	// Endpoint overrides the S3 endpoint URL for compatible services.
	Endpoint string `mapstructure:"endpoint_url"`

	// Policy is the canned ACL for new objects, PolicyPrivate or
	// PolicyPublicRead. Public objects get a plain URL, private ones a
	// presigned link.
	Policy string `mapstructure:"policy"`

	// Prefix is prepended to every object key.
	Prefix string `mapstructure:"prefix"`

	// StorageClass selects the storage class for new objects, for example
	// STANDARD_IA. Empty uses the bucket default.
	StorageClass string `mapstructure:"storage_class"`

	// EncryptKey enables AES256 server-side encryption for new objects.
	EncryptKey bool `mapstructure:"encrypt_key"`

	// ForcePathStyle switches to path-style addressing, required by most
	// S3-compatible services.
	ForcePathStyle bool `mapstructure:"force_path_style"`

	// CreateBucket creates the bucket when it does not exist yet instead
	// of failing.
	CreateBucket bool `mapstructure:"create_bucket"`

	// SpoolThreshold bounds how much of a payload of unknown length is
	// buffered in memory before spilling to a temporary file.
	SpoolThreshold bytesize.ByteSize `mapstructure:"spool_threshold"`
}

// DefaultConfig returns the configuration used when options are omitted.
func DefaultConfig() Config {
	return Config{
		Policy:         PolicyPrivate,
		SpoolThreshold: bytesize.MiB,
	}
}

// Store keeps files as objects under {prefix}{file_id}. It is safe for
// concurrent use.
type Store struct {
	client         *s3.Client
	presigner      *s3.PresignClient
	bucket         string
	prefix         string
	policy         string
	storageClass   string
	encrypt        bool
	endpoint       string
	region         string
	spoolThreshold int64
}

var _ depot.Storage = (*Store)(nil)
var _ depot.Lister = (*Store)(nil)

// New builds an S3 client from cfg and verifies bucket access.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithClient(ctx, client, cfg)
}

// NewWithClient wraps an existing client, for callers that already manage
// AWS configuration. Bucket access is verified up front; with
// cfg.CreateBucket set a missing bucket is created.
func NewWithClient(ctx context.Context, client *s3.Client, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	switch cfg.Policy {
	case "", PolicyPrivate, PolicyPublicRead:
	default:
		return nil, fmt.Errorf("s3: unknown policy %q", cfg.Policy)
	}

	threshold := cfg.SpoolThreshold.Int64()
	if threshold <= 0 {
		threshold = bytesize.MiB.Int64()
	}

	s := &Store{
		client:         client,
		presigner:      s3.NewPresignClient(client),
		bucket:         cfg.Bucket,
		prefix:         cfg.Prefix,
		policy:         cfg.Policy,
		storageClass:   cfg.StorageClass,
		encrypt:        cfg.EncryptKey,
		endpoint:       cfg.Endpoint,
		region:         cfg.Region,
		spoolThreshold: threshold,
	}
	if s.policy == "" {
		s.policy = PolicyPrivate
	}

	if err := s.ensureBucket(ctx, cfg.CreateBucket); err != nil {
		return nil, err
	}
	return s, nil
}

func newClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})
	return client, nil
}

func (s *Store) ensureBucket(ctx context.Context, create bool) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}
	if !create || !isNotFoundError(err) {
		return fmt.Errorf("accessing bucket %q: %w", s.bucket, err)
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
	if s.region != "" && s.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if !errors.As(err, &owned) {
			return fmt.Errorf("creating bucket %q: %w", s.bucket, err)
		}
	}

	waiter := s3.NewBucketExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}, 30*time.Second); err != nil {
		return fmt.Errorf("waiting for bucket %q: %w", s.bucket, err)
	}
	logger.Info("created bucket", logger.Bucket(s.bucket))
	return nil
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
	if err := s.put(ctx, id, src, content.Size(), filename, contentType); err != nil {
		return "", fmt.Errorf("s3: create %s: %w", id, err)
	}
	return id, nil
}

// put uploads one object with full depot metadata attached.
func (s *Store) put(ctx context.Context, fileID string, src io.Reader, declaredSize int64, filename, contentType string) error {
	body, size, cleanup, err := s.uploadBody(src, declaredSize)
	if err != nil {
		return err
	}
	defer cleanup()

	modified := depot.NormalizeTime(time.Now())
	input := &s3.PutObjectInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(s.key(fileID)),
		Body:               body,
		ContentLength:      aws.Int64(size),
		ContentType:        aws.String(contentType),
		ContentDisposition: aws.String(mimeheader.ContentDisposition(filename)),
		Metadata: map[string]string{
			metaFilename: mimeheader.PercentEncode(filename),
			metaModified: modified.Format(depot.TimeFormat),
		},
	}
	if s.policy == PolicyPublicRead {
		input.ACL = types.ObjectCannedACLPublicRead
	} else {
		input.ACL = types.ObjectCannedACLPrivate
	}
	if s.encrypt {
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	}
	if s.storageClass != "" {
		input.StorageClass = types.StorageClass(s.storageClass)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("putting object: %w", err)
	}
	return nil
}

// uploadBody turns src into a body with a known size. Seekable sources are
// measured and streamed in place; sources of unknown length are spooled
// first so the upload can carry an exact Content-Length.
func (s *Store) uploadBody(src io.Reader, declaredSize int64) (io.Reader, int64, func(), error) {
	noop := func() {}

	if seeker, ok := src.(io.ReadSeeker); ok {
		if size, err := seekerSize(seeker); err == nil {
			return seeker, size, noop, nil
		}
	}
	if declaredSize >= 0 {
		return src, declaredSize, noop, nil
	}

	sp, err := spoolReader(src, s.spoolThreshold)
	if err != nil {
		return nil, 0, noop, err
	}
	return sp.Reader(), sp.Size(), func() { _ = sp.Close() }, nil
}

// seekerSize measures the bytes remaining in rs without consuming them.
func seekerSize(rs io.ReadSeeker) (int64, error) {
	current, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	end, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := rs.Seek(current, io.SeekStart); err != nil {
		return 0, err
	}
	return end - current, nil
}

// Get implements depot.Storage. The object body is only requested when the
// returned handle is first read.
func (s *Store) Get(ctx context.Context, fileID string) (*depot.StoredFile, error) {
	if err := depot.ValidateID(fileID); err != nil {
		return nil, err
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(fileID)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, depot.ErrNotFound
		}
		return nil, fmt.Errorf("s3: get %s: %w", fileID, err)
	}

	info := s.infoFromHead(ctx, fileID, head)
	key := s.key(fileID)
	return depot.NewStoredFile(info, func() (io.ReadCloser, error) {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if isNotFoundError(err) {
				return nil, depot.ErrNotFound
			}
			return nil, fmt.Errorf("s3: read %s: %w", fileID, err)
		}
		return out.Body, nil
	}), nil
}

// infoFromHead assembles file metadata from a HeadObject response, falling
// back to the object's own attributes when depot metadata is missing, for
// example on objects written by other tools.
func (s *Store) infoFromHead(ctx context.Context, fileID string, head *s3.HeadObjectOutput) depot.FileInfo {
	filename := mimeheader.PercentDecode(head.Metadata[metaFilename])
	if filename == "" {
		filename = depot.DefaultFilename
	}
	contentType := aws.ToString(head.ContentType)
	if contentType == "" {
		contentType = depot.DefaultContentType
	}

	modified, err := time.Parse(depot.TimeFormat, head.Metadata[metaModified])
	if err != nil {
		modified = aws.ToTime(head.LastModified)
	}

	return depot.FileInfo{
		FileID:        fileID,
		Filename:      filename,
		ContentType:   contentType,
		ContentLength: aws.ToInt64(head.ContentLength),
		LastModified:  depot.NormalizeTime(modified),
		PublicURL:     s.publicURL(ctx, fileID),
	}
}

// publicURL returns a plain object URL for public buckets and a presigned
// link for private ones. A presigning failure degrades to no URL.
func (s *Store) publicURL(ctx context.Context, fileID string) string {
	if s.policy == PolicyPublicRead {
		return s.objectURL(fileID)
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(fileID)),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		logger.Warn("could not presign download URL",
			logger.Bucket(s.bucket),
			logger.FileID(fileID),
			logger.Err(err))
		return ""
	}
	return req.URL
}

func (s *Store) objectURL(fileID string) string {
	key := s.key(fileID)
	if s.endpoint != "" {
		return strings.TrimRight(s.endpoint, "/") + "/" + s.bucket + "/" + key
	}
	if s.region != "" {
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
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

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(fileID)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return depot.ErrNotFound
		}
		return fmt.Errorf("s3: replace %s: %w", fileID, err)
	}

	existing := s.infoFromHead(ctx, fileID, head)
	filename, contentType := content.DescribeReplacement(existing)
	if err := s.put(ctx, fileID, src, content.Size(), filename, contentType); err != nil {
		return fmt.Errorf("s3: replace %s: %w", fileID, err)
	}
	return nil
}

// Delete implements depot.Storage. Deleting an absent object is a no-op.
func (s *Store) Delete(ctx context.Context, fileID string) error {
	if err := depot.ValidateID(fileID); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(fileID)),
	})
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("s3: delete %s: %w", fileID, err)
	}
	return nil
}

// Exists implements depot.Storage.
func (s *Store) Exists(ctx context.Context, fileID string) (bool, error) {
	if err := depot.ValidateID(fileID); err != nil {
		return false, err
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(fileID)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3: stat %s: %w", fileID, err)
	}
	return true, nil
}

// List implements depot.Lister. Keys under the configured prefix that do not
// look like file IDs are skipped.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var ids []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: list: %w", err)
		}
		for _, obj := range page.Contents {
			id := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if depot.ValidateID(id) != nil {
				continue
			}
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)
	return ids, nil
}

// isNotFoundError reports whether err means the object or bucket does not
// exist, checking typed errors first and falling back to the API error code
// and message for S3-compatible services with looser error shapes.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) || errors.As(err, &noSuchBucket) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "NoSuchBucket" || code == "404" {
			return true
		}
	}

	errStr := err.Error()
	return strings.Contains(errStr, "StatusCode: 404") ||
		strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "NoSuchKey")
}
