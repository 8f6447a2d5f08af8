// Package blob is the entry point to blob storage. Callers depend on the
// Store interface and obtain a backend through Open; the infra packages stay
// behind this boundary.
package blob

import (
	"context"
	"fmt"

	"pharmanet/internal/blob/core"
	"pharmanet/internal/infra/blob/fs"
	"pharmanet/internal/infra/blob/memory"
	"pharmanet/internal/infra/blob/s3"
	"pharmanet/pkg/config"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

// Sentinel errors shared by every backend.
var (
	ErrUnsupported = core.ErrUnsupported
	ErrNotFound    = core.ErrNotFound
	ErrExists      = core.ErrExists
)

// Open selects a Store from the blob configuration. The filesystem driver is
// the default.
func Open(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	driver := Driver(cfg.Driver)
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case DriverS3:
		return s3.New(ctx, s3.Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
		})
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewMemory returns an in-memory Store for tests and dry runs.
func NewMemory() Store { return memory.New() }

// NewMockS3ForTests exposes the S3 backend over an in-process fake transport.
func NewMockS3ForTests() Store { return s3.NewMockForTests() }
