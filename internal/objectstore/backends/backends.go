// Package backends turns storage configuration into a concrete objectstore.Store.
package backends

import (
	"context"
	"fmt"

	"github.com/Adoubf/cloud-mail/internal/config"
	"github.com/Adoubf/cloud-mail/internal/objectstore"
	"github.com/Adoubf/cloud-mail/internal/objectstore/memory"
	"github.com/Adoubf/cloud-mail/internal/objectstore/native"
	"github.com/Adoubf/cloud-mail/internal/objectstore/signeds3"
)

// New selects the backend once; callers only ever see objectstore.Store.
func New(ctx context.Context, cfg config.StorageConfig) (objectstore.Store, error) {
	const op = "objectstore.backends.New"

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	switch objectstore.Kind(cfg.Kind) {
	case objectstore.KindNative:
		store, err := native.New(ctx, native.Config{
			Endpoint:       cfg.Endpoint,
			Region:         cfg.Region,
			Bucket:         cfg.Bucket,
			AccessKey:      cfg.AccessKey,
			SecretKey:      cfg.SecretKey,
			PublicDomain:   cfg.PublicDomain,
			ForcePathStyle: cfg.ForcePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case objectstore.KindSignedS3:
		client, err := signeds3.New(signeds3.Config{
			Endpoint:     cfg.Endpoint,
			Bucket:       cfg.Bucket,
			Region:       cfg.Region,
			AccessKey:    cfg.AccessKey,
			SecretKey:    cfg.SecretKey,
			PublicDomain: cfg.PublicDomain,
			Timeout:      cfg.RequestTimeout,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case objectstore.KindMemory:
		return memory.New(cfg.PublicDomain), nil
	}

	return nil, fmt.Errorf("%s: unknown storage kind %q", op, cfg.Kind)
}
