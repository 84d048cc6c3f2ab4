// Package gcs provides a Google Cloud Storage attachment blob store.
// Objects are keyed by content hash, so repeated uploads of the same
// bytes hit one object.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"cloud.google.com/go/auth/credentials"
	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/virtmail/mailstore/store"
)

// Store implements store.FileStore backed by Google Cloud Storage.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

var _ store.FileStore = (*Store)(nil)

// New creates a GCS blob store.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	o := &options{
		prefix: "blobs",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	clientOpts, err := buildClientOptions(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("build client options: %w", err)
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	return &Store{
		client: client,
		bucket: o.bucket,
		prefix: o.prefix,
		logger: o.logger,
	}, nil
}

// buildClientOptions builds GCS client options based on authentication
// settings.
func buildClientOptions(_ context.Context, o *options) ([]option.ClientOption, error) {
	var opts []option.ClientOption

	switch {
	case o.credentialsJSON != nil:
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
			CredentialsJSON: o.credentialsJSON,
		})
		if err != nil {
			return nil, fmt.Errorf("detect credentials from json: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))

	case o.credentialsFile != "":
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
			CredentialsFile: o.credentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("detect credentials from file: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))

	case o.apiKey != "":
		opts = append(opts, option.WithAPIKey(o.apiKey))

	default:
		// Application Default Credentials: GOOGLE_APPLICATION_CREDENTIALS,
		// gcloud user credentials, Workload Identity on GKE, or the
		// instance service account.
	}

	if o.endpoint != "" {
		opts = append(opts, option.WithEndpoint(o.endpoint))
	}

	return opts, nil
}

// Put uploads the blob under the given content-hash key.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	obj := s.client.Bucket(s.bucket).Object(s.objectKey(key))
	w := obj.NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy content to gcs: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close gcs writer: %w", err)
	}

	s.logger.Debug("uploaded blob to gcs", "bucket", s.bucket, "key", key, "size", size)
	return nil
}

// Get returns a reader for the blob.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj := s.client.Bucket(s.bucket).Object(s.objectKey(key))
	r, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("blob %s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("create gcs reader: %w", err)
	}
	return r, nil
}

// Delete removes the blob.
func (s *Store) Delete(ctx context.Context, key string) error {
	obj := s.client.Bucket(s.bucket).Object(s.objectKey(key))
	if err := obj.Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("blob %s: %w", key, store.ErrNotFound)
		}
		return fmt.Errorf("delete object from gcs: %w", err)
	}

	s.logger.Debug("deleted blob from gcs", "bucket", s.bucket, "key", key)
	return nil
}

// Exists reports whether a blob with the key is stored.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	obj := s.client.Bucket(s.bucket).Object(s.objectKey(key))
	_, err := obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat object in gcs: %w", err)
	}
	return true, nil
}

// Close closes the GCS client.
func (s *Store) Close() error {
	return s.client.Close()
}

// objectKey shards the hash into a two-level prefix.
func (s *Store) objectKey(hash string) string {
	if len(hash) < 4 {
		return path.Join(s.prefix, hash)
	}
	return path.Join(s.prefix, hash[:2], hash[2:4], hash)
}
