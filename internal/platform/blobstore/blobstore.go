// Package blobstore wraps cloud.google.com/go/storage behind the blob
// store contract the orchestrator and stitcher depend on: put-bytes and
// get-public-url, plus a staging/permanent key-prefix split for the blob
// lifecycle described by the concurrency model (temporary tile inputs and
// intermediate outputs live under a staging prefix; the stitcher writes a
// tiled job's composite under the permanent prefix). A non-tiled job's final
// output is not copied into the store and stays at the provider's URL.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

const (
	StagingPrefix   = "staging/"
	PermanentPrefix = "final/"
)

// Store is the blob store contract.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Copy(ctx context.Context, srcKey, dstKey string) error
	PublicURL(key string) string
}

type gcsStore struct {
	log           *logger.Logger
	client        *storage.Client
	bucket        string
	emulatorHost  string
	publicBaseURL string
}

// Config configures the GCS-backed blob store. When EmulatorHost is set the
// client talks to a local storage emulator instead of production GCS,
// matching the teacher's dev/test convention.
type Config struct {
	Bucket        string
	EmulatorHost  string
	PublicBaseURL string
}

func New(ctx context.Context, log *logger.Logger, cfg Config) (Store, error) {
	serviceLog := log.With("component", "BlobStore")
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("blobstore: missing bucket name")
	}

	var client *storage.Client
	var err error
	if cfg.EmulatorHost != "" {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", strings.TrimRight(cfg.EmulatorHost, "/"))
		client, err = storage.NewClient(ctx, option.WithoutAuthentication())
	} else {
		client, err = storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore: create storage client: %w", err)
	}

	serviceLog.Info("blob store initialized", "bucket", cfg.Bucket, "emulator", cfg.EmulatorHost != "")

	return &gcsStore{
		log:           serviceLog,
		client:        client,
		bucket:        cfg.Bucket,
		emulatorHost:  strings.TrimRight(cfg.EmulatorHost, "/"),
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

func (s *gcsStore) Put(ctx context.Context, key string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if ct := contentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("blobstore: write %q: %w", key, err)
	}
	return w.Close()
}

// readCloserWithCancel keeps the download context alive until the caller
// closes the reader; canceling eagerly makes the first read return 0 bytes.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (s *gcsStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("blobstore: read %q: %w", key, err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (s *gcsStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	src := s.client.Bucket(s.bucket).Object(srcKey)
	dst := s.client.Bucket(s.bucket).Object(dstKey)
	_, err := dst.CopierFrom(src).Run(ctx)
	if err != nil {
		return fmt.Errorf("blobstore: copy %s->%s: %w", srcKey, dstKey, err)
	}
	return nil
}

func (s *gcsStore) PublicURL(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.emulatorHost != "" {
		base := s.publicBaseURL
		if base == "" {
			base = s.emulatorHost
		}
		return fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media", base, url.PathEscape(s.bucket), url.PathEscape(key))
	}
	if s.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, s.bucket, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key)
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(key)
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	default:
		return ""
	}
}
