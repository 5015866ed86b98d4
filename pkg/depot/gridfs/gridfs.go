// Package gridfs provides a MongoDB GridFS storage backend.
//
// Files live in the chunked-file collections MongoDB tooling already
// understands, so a bucket written by this driver can be inspected with
// mongofiles. IDs are native ObjectIDs rather than UUIDs, which keeps them
// joinable against the files collection.
package gridfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/depotfs/depot/pkg/depot"
)

// Backend is the name this driver registers under.
const Backend = "gridfs"

// DefaultCollection is the GridFS bucket name used when none is configured.
const DefaultCollection = "depot"

func init() {
	depot.Register(Backend, func(ctx context.Context, options map[string]any) (depot.Storage, error) {
		cfg := DefaultConfig()
		if err := depot.DecodeOptions(options, &cfg); err != nil {
			return nil, err
		}
		return New(ctx, cfg)
	})
}

// Config holds the GridFS driver configuration.
type Config struct {
	// URI is the MongoDB connection string. Required.
	URI string `mapstructure:"mongouri"`

	// Database overrides the database named in the URI path. One of the
	// two must name a database.
	Database string `mapstructure:"database"`

	// Collection is the GridFS bucket name; the driver stores files in
	// {collection}.files and {collection}.chunks.
	Collection string `mapstructure:"collection"`

	// ConnectTimeout bounds the initial connection. Zero uses the driver
	// default.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// DefaultConfig returns the configuration used when options are omitted.
func DefaultConfig() Config {
	return Config{
		Collection: DefaultCollection,
	}
}

// Store keeps files in a GridFS bucket. It is safe for concurrent use.
type Store struct {
	client     *mongo.Client
	bucket     *gridfs.Bucket
	files      *mongo.Collection
	ownsClient bool
}

var _ depot.Storage = (*Store)(nil)
var _ depot.Lister = (*Store)(nil)

// New connects to MongoDB and opens the configured bucket. The connection is
// verified with a ping before any file operation runs.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("gridfs: mongouri is required")
	}

	clientOpts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		clientOpts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	s, err := NewWithClient(client, cfg)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	s.ownsClient = true
	return s, nil
}

// NewWithClient opens a bucket on an existing client, for callers that
// already manage MongoDB connections.
func NewWithClient(client *mongo.Client, cfg Config) (*Store, error) {
	dbName := cfg.Database
	if dbName == "" {
		dbName = defaultDatabase(cfg.URI)
	}
	if dbName == "" {
		return nil, fmt.Errorf("gridfs: no database in mongouri and none configured")
	}

	name := cfg.Collection
	if name == "" {
		name = DefaultCollection
	}

	bucket, err := gridfs.NewBucket(client.Database(dbName), options.GridFSBucket().SetName(name))
	if err != nil {
		return nil, fmt.Errorf("opening GridFS bucket %q: %w", name, err)
	}

	return &Store{
		client: client,
		bucket: bucket,
		files:  bucket.GetFilesCollection(),
	}, nil
}

// Close disconnects the underlying client when this store created it. Stores
// built with NewWithClient leave the client to its owner.
func (s *Store) Close(ctx context.Context) error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// defaultDatabase extracts the database path component from a MongoDB
// connection string, the same database mongo shells default to.
func defaultDatabase(uri string) string {
	rest := uri
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '@'); i >= 0 {
		rest = rest[i+1:]
	}
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return ""
	}
	return rest[slash+1:]
}

// parseID maps a hex file ID onto an ObjectID, reporting ErrInvalidID for
// anything else so garbage never reaches a query.
func parseID(fileID string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(fileID)
	if err != nil {
		return primitive.NilObjectID, depot.ErrInvalidID
	}
	return oid, nil
}

// fileDoc mirrors the subset of a files-collection document the driver reads
// back.
type fileDoc struct {
	ID         primitive.ObjectID `bson:"_id"`
	Length     int64              `bson:"length"`
	Filename   string             `bson:"filename"`
	UploadDate time.Time          `bson:"uploadDate"`
	Metadata   fileMetadata       `bson:"metadata"`
}

type fileMetadata struct {
	ContentType  string `bson:"contentType"`
	LastModified string `bson:"lastModified"`
}

// infoFromDoc assembles file metadata from a files document, falling back to
// the document's own fields for files uploaded by other tools.
func infoFromDoc(doc fileDoc) depot.FileInfo {
	filename := doc.Filename
	if filename == "" {
		filename = depot.DefaultFilename
	}
	contentType := doc.Metadata.ContentType
	if contentType == "" {
		contentType = depot.DefaultContentType
	}

	modified, err := time.Parse(depot.TimeFormat, doc.Metadata.LastModified)
	if err != nil {
		modified = doc.UploadDate
	}

	return depot.FileInfo{
		FileID:        doc.ID.Hex(),
		Filename:      filename,
		ContentType:   contentType,
		ContentLength: doc.Length,
		LastModified:  depot.NormalizeTime(modified),
	}
}

// Create implements depot.Storage. The returned ID is the hex form of a
// native ObjectID.
func (s *Store) Create(ctx context.Context, content depot.Content) (string, error) {
	src, err := content.Source()
	if err != nil {
		return "", err
	}

	oid := primitive.NewObjectID()
	filename, contentType := content.Describe()
	if err := s.put(ctx, oid, src, filename, contentType); err != nil {
		return "", fmt.Errorf("gridfs: create %s: %w", oid.Hex(), err)
	}
	return oid.Hex(), nil
}

// put uploads one file with depot metadata on the files document.
func (s *Store) put(ctx context.Context, oid primitive.ObjectID, src io.Reader, filename, contentType string) error {
	modified := depot.NormalizeTime(time.Now())
	opts := options.GridFSUpload().SetMetadata(bson.D{
		{Key: "contentType", Value: contentType},
		{Key: "lastModified", Value: modified.Format(depot.TimeFormat)},
	})

	s.applyDeadline(ctx)
	if err := s.bucket.UploadFromStreamWithID(oid, filename, src, opts); err != nil {
		return fmt.Errorf("uploading to GridFS: %w", err)
	}
	return nil
}

// applyDeadline forwards the context deadline to the bucket. Bucket streams
// in the mongo driver are bounded by per-bucket deadlines rather than a
// context; a zero deadline means unbounded.
func (s *Store) applyDeadline(ctx context.Context) {
	deadline, _ := ctx.Deadline()
	_ = s.bucket.SetWriteDeadline(deadline)
	_ = s.bucket.SetReadDeadline(deadline)
}

// findDoc fetches the files document for one ID.
func (s *Store) findDoc(ctx context.Context, oid primitive.ObjectID) (fileDoc, error) {
	var doc fileDoc
	err := s.files.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fileDoc{}, depot.ErrNotFound
	}
	if err != nil {
		return fileDoc{}, err
	}
	return doc, nil
}

// Get implements depot.Storage. The chunk stream is only opened when the
// returned handle is first read.
func (s *Store) Get(ctx context.Context, fileID string) (*depot.StoredFile, error) {
	oid, err := parseID(fileID)
	if err != nil {
		return nil, err
	}

	doc, err := s.findDoc(ctx, oid)
	if err != nil {
		if errors.Is(err, depot.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("gridfs: get %s: %w", fileID, err)
	}

	return depot.NewStoredFile(infoFromDoc(doc), func() (io.ReadCloser, error) {
		s.applyDeadline(ctx)
		ds, err := s.bucket.OpenDownloadStream(oid)
		if err != nil {
			if isFileNotFound(err) {
				return nil, depot.ErrNotFound
			}
			return nil, fmt.Errorf("gridfs: read %s: %w", fileID, err)
		}
		return ds, nil
	}), nil
}

// Replace implements depot.Storage. GridFS has no atomic swap, so the stored
// file is deleted and the new payload uploaded under the same ID; a reader
// between the two steps observes ErrNotFound.
func (s *Store) Replace(ctx context.Context, fileID string, content depot.Content) error {
	oid, err := parseID(fileID)
	if err != nil {
		return err
	}
	src, err := content.Source()
	if err != nil {
		return err
	}

	doc, err := s.findDoc(ctx, oid)
	if err != nil {
		if errors.Is(err, depot.ErrNotFound) {
			return err
		}
		return fmt.Errorf("gridfs: replace %s: %w", fileID, err)
	}
	filename, contentType := content.DescribeReplacement(infoFromDoc(doc))

	s.applyDeadline(ctx)
	if err := s.bucket.Delete(oid); err != nil && !isFileNotFound(err) {
		return fmt.Errorf("gridfs: replace %s: %w", fileID, err)
	}
	if err := s.put(ctx, oid, src, filename, contentType); err != nil {
		return fmt.Errorf("gridfs: replace %s: %w", fileID, err)
	}
	return nil
}

// Delete implements depot.Storage. Deleting an absent file is a no-op.
func (s *Store) Delete(ctx context.Context, fileID string) error {
	oid, err := parseID(fileID)
	if err != nil {
		return err
	}

	s.applyDeadline(ctx)
	if err := s.bucket.Delete(oid); err != nil && !isFileNotFound(err) {
		return fmt.Errorf("gridfs: delete %s: %w", fileID, err)
	}
	return nil
}

// Exists implements depot.Storage.
func (s *Store) Exists(ctx context.Context, fileID string) (bool, error) {
	oid, err := parseID(fileID)
	if err != nil {
		return false, err
	}

	count, err := s.files.CountDocuments(ctx, bson.M{"_id": oid}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("gridfs: stat %s: %w", fileID, err)
	}
	return count > 0, nil
}

// List implements depot.Lister.
func (s *Store) List(ctx context.Context) ([]string, error) {
	cursor, err := s.files.Find(ctx, bson.D{},
		options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("gridfs: list: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("gridfs: list: %w", err)
		}
		ids = append(ids, doc.ID.Hex())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("gridfs: list: %w", err)
	}

	sort.Strings(ids)
	return ids, nil
}

func isFileNotFound(err error) bool {
	return errors.Is(err, gridfs.ErrFileNotFound) || errors.Is(err, mongo.ErrNoDocuments)
}
