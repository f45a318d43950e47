// Package blob is the facade over the blob storage backends. It re-exports
// the core contract and owns driver selection; the rest of the codebase
// depends on this package and never on internal/infra/blob directly.
package blob

import (
	"sessioncore/internal/blob/core"
)

// Driver aliases core.Driver.
type Driver = core.Driver

const (
	// DriverFilesystem selects the local filesystem backend (default, dev).
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 selects the S3 / MinIO compatible backend.
	DriverS3 = core.DriverS3
	// DriverMemory selects the in-memory backend (tests).
	DriverMemory = core.DriverMemory
)

// Store aliases core.Store.
type Store = core.Store

// PutOptions aliases core.PutOptions.
type PutOptions = core.PutOptions

// SignedURLOptions aliases core.SignedURLOptions.
type SignedURLOptions = core.SignedURLOptions

// Info aliases core.Info.
type Info = core.Info

// ErrUnsupported aliases core.ErrUnsupported.
var ErrUnsupported = core.ErrUnsupported
