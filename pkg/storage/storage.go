// Package storage persists run artifacts such as manifests and snapshots.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
)

var ErrNotExist = errors.New("blob does not exist")

// BlobStore is a flat key/value artifact store.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	// Location describes where key lives, for logs and manifests.
	Location(key string) string
}

// Open selects a store from a target: "s3://bucket/prefix" or a directory.
func Open(ctx context.Context, target, region string) (BlobStore, error) {
	if !strings.HasPrefix(target, "s3://") {
		return NewLocalStore(target), nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid s3 url: %w", err)
	}
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewS3Store(cfg, u.Host, strings.Trim(u.Path, "/")), nil
}
