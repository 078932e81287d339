// Package archive implements the writing half of a recording: turning
// frames offered by a transport.LocalPublication into the exact on-disk
// segment/term/frame layout pkg/replay reads back, plus the durable tier
// that seals finished segments out to object storage.
package archive

import (
	"context"
	"fmt"
)

// ByteRange is an inclusive byte range for a ranged segment download.
type ByteRange struct {
	Start int64
	End   int64
}

func (br *ByteRange) headerValue() *string {
	if br == nil {
		return nil
	}
	val := fmt.Sprintf("bytes=%d-%d", br.Start, br.End)
	return &val
}

// S3Client is the abstraction the durable tier uses to seal recording
// segments and their sparse offset indexes out to object storage.
type S3Client interface {
	UploadSegment(ctx context.Context, key string, body []byte) error
	UploadIndex(ctx context.Context, key string, body []byte) error
	DownloadSegment(ctx context.Context, key string, rng *ByteRange) ([]byte, error)
	DownloadIndex(ctx context.Context, key string) ([]byte, error)
	ListSegments(ctx context.Context, prefix string) ([]S3Object, error)
	EnsureBucket(ctx context.Context) error
}

// S3Object describes one stored recording-segment or index object.
type S3Object struct {
	Key  string
	Size int64
}

// S3Config describes connection details for AWS S3 or a compatible
// endpoint (e.g. MinIO) holding sealed recording segments.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	KMSKeyARN       string
}

// segmentKey and indexKey name the object-storage keys for a sealed
// recording segment and its sparse index, keeping the two durable tiers
// addressable by the same (recordingId, segmentIndex) pair pkg/replay
// uses for the local on-disk copy.
func segmentKey(recordingID int64, segmentIndex int32) string {
	return fmt.Sprintf("recordings/%d/%d.rec", recordingID, segmentIndex)
}

func indexKey(recordingID int64, segmentIndex int32) string {
	return fmt.Sprintf("recordings/%d/%d.idx", recordingID, segmentIndex)
}
