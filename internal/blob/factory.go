package blob

import (
	"context"
	"fmt"
	"os"

	fsblob "sessioncore/internal/infra/blob/fs"
	memblob "sessioncore/internal/infra/blob/memory"
	s3blob "sessioncore/internal/infra/blob/s3"
)

// Open selects a blob.Store implementation using environment variables.
//
//	SESSIONCORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	SESSIONCORE_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	(S3 specific variables documented in internal/infra/blob/s3)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("SESSIONCORE_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return fsblob.New(os.Getenv("SESSIONCORE_BLOB_FS_ROOT"))
	case DriverS3:
		return s3blob.OpenFromEnv(ctx)
	case DriverMemory:
		return memblob.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
