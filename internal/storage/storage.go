// Package storage reads campaign attachment files from the local
// filesystem or S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ignite/campaign-sender/internal/config"
)

// ErrFileNotFound is returned when a stored file does not exist.
var ErrFileNotFound = errors.New("stored file not found")

type backend interface {
	open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Storage maps campaign attachments to storage paths and opens them.
type Storage struct {
	config  config.StorageConfig
	backend backend
}

// New creates a storage instance for the configured backend.
func New(ctx context.Context, cfg config.StorageConfig) (*Storage, error) {
	s := &Storage{config: cfg}

	switch cfg.Type {
	case "", "local":
		if cfg.LocalPath == "" {
			return nil, fmt.Errorf("local storage path not configured")
		}
		if err := os.MkdirAll(cfg.LocalPath, 0755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
		s.backend = &localBackend{root: cfg.LocalPath}
		log.Printf("[Storage] Using local files at %s", cfg.LocalPath)
	case "s3":
		b, err := NewS3Backend(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region, cfg.GetAWSProfile())
		if err != nil {
			return nil, err
		}
		s.backend = b
		log.Printf("[Storage] Using S3 bucket %s (%s)", cfg.S3Bucket, cfg.S3Region)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
	return s, nil
}

// AttachmentPath returns the storage path of a campaign attachment.
func (s *Storage) AttachmentPath(campaignID int64, filename string) string {
	return path.Join("campaign", "attachment", strconv.FormatInt(campaignID, 10), filename)
}

// Open opens a stored file by its storage path. The caller closes it.
func (s *Storage) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	key, err := cleanKey(p)
	if err != nil {
		return nil, err
	}
	return s.backend.open(ctx, key)
}

// cleanKey normalizes a storage path and refuses paths that escape the
// storage root.
func cleanKey(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty storage path")
	}
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return "", fmt.Errorf("invalid storage path %q", p)
		}
	}
	return strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(p)), "/"), nil
}

type localBackend struct {
	root string
}

func (b *localBackend) open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(b.root, filepath.FromSlash(key)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, key)
		}
		return nil, fmt.Errorf("opening %s: %w", key, err)
	}
	return f, nil
}
