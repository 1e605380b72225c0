package backup

import (
	"context"
	"time"
)

// Config controls periodic archive snapshots.
type Config struct {
	Enabled  bool
	Interval time.Duration
	Dir      string
	KeepLast int

	// BucketURL, when set, is an s3://bucket/prefix that receives every
	// snapshot after it is written locally.
	BucketURL      string
	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3SessionToken string
	S3UseSSL       bool
}

// Snapshotter is an archive that can copy itself to a file.
type Snapshotter interface {
	Path() string
	SnapshotTo(dstPath string) error
}

// Uploader ships one snapshot file off the host.
type Uploader interface {
	UploadFile(ctx context.Context, localPath string) error
}
