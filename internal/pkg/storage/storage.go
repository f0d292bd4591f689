// Package storage writes exported statements to object storage.
package storage

import (
	"context"
	"io"
)

// Store is the subset of object storage the ledger needs.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	URL(key string) string
}

type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	LocalDir  string // used when Endpoint and AccessKey are empty
}

// New picks the S3 backend when credentials are configured, otherwise a
// local directory.
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.AccessKey != "" || cfg.Endpoint != "" {
		return NewS3(ctx, cfg)
	}
	dir := cfg.LocalDir
	if dir == "" {
		dir = "./statements"
	}
	return NewLocal(dir)
}
