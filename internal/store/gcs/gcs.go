// Package gcs serves documents from a Google Cloud Storage bucket. Object name
// prefixes ending in "/" act as containers.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/spigell/resume-ranker/internal/document"
	internalstore "github.com/spigell/resume-ranker/internal/store"
)

// Store lists prefixes and reads objects of one bucket.
type Store struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

// New opens a client for bucket.
func New(ctx context.Context, bucket string, opts ...option.ClientOption) (*Store, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Store{client: client, bucket: client.Bucket(bucket)}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) List(ctx context.Context, containerID string) ([]internalstore.Entry, error) {
	prefix := containerPrefix(containerID)
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})

	var entries []internalstore.Entry
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify("list", containerID, err)
		}

		if attrs.Prefix != "" {
			entries = append(entries, internalstore.Entry{
				ID:          attrs.Prefix,
				Name:        path.Base(strings.TrimSuffix(attrs.Prefix, "/")),
				IsContainer: true,
			})
			continue
		}
		// Folder placeholder objects created by the console.
		if attrs.Name == prefix || strings.HasSuffix(attrs.Name, "/") {
			continue
		}

		name := path.Base(attrs.Name)
		entries = append(entries, internalstore.Entry{
			ID:         attrs.Name,
			Name:       name,
			Extension:  string(document.FormatOf(name)),
			Size:       attrs.Size,
			ModifiedAt: attrs.Updated,
		})
	}
	return entries, nil
}

func (s *Store) Fetch(ctx context.Context, id string) ([]byte, error) {
	r, err := s.bucket.Object(id).NewReader(ctx)
	if err != nil {
		return nil, classify("fetch", id, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, classify("fetch", id, err)
	}
	return data, nil
}

// ParseURL splits gs://bucket/prefix into the bucket and a container id.
// Values without the scheme are treated as a prefix only.
func ParseURL(raw string) (bucket, prefix string, err error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "gs://") {
		return "", containerPrefix(raw), nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse gcs url %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("gcs url %q has no bucket", raw)
	}
	return u.Host, containerPrefix(u.Path), nil
}

func containerPrefix(id string) string {
	id = strings.Trim(id, "/ ")
	if id == "" || id == "." {
		return ""
	}
	return id + "/"
}

func classify(op, id string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return internalstore.Permanent(op, id, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return internalstore.FromStatus(op, id, gerr.Code, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return internalstore.Permanent(op, id, err)
	}
	return internalstore.Transient(op, id, err)
}
