// Package blob selects the blob store reports are written to.
package blob

import (
	"context"
	"fmt"

	"github.com/coder/quartz"

	"stagedwell/internal/blob/core"
	"stagedwell/internal/config"
	"stagedwell/internal/infra/blob/fs"
	"stagedwell/internal/infra/blob/memory"
	"stagedwell/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory driver.
	DriverMemory = core.DriverMemory
)

var (
	// ErrExists is returned when writing a key that is already stored.
	ErrExists = core.ErrExists
	// ErrNotFound is returned when reading a key that is not stored.
	ErrNotFound = core.ErrNotFound
)

// Open constructs the blob store selected by cfg.
func Open(ctx context.Context, cfg config.Blob, clock quartz.Clock) (Store, error) {
	if clock == nil {
		clock = quartz.NewReal()
	}
	switch Driver(cfg.Driver) {
	case "", DriverFilesystem:
		return fs.New(cfg.FS.Root, fs.WithClock(clock))
	case DriverMemory:
		return memory.New(memory.WithClock(clock)), nil
	case DriverS3:
		return s3.New(ctx, s3.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			PathStyle:       cfg.S3.PathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
