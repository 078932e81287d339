package archive

import (
	"context"
	"testing"
)

func TestMemoryS3ClientUploadDownloadRoundTrip(t *testing.T) {
	client := NewMemoryS3Client()
	ctx := context.Background()

	if err := client.EnsureBucket(ctx); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
	if err := client.UploadSegment(ctx, segmentKey(1, 0), []byte("segment-bytes")); err != nil {
		t.Fatalf("UploadSegment: %v", err)
	}
	if err := client.UploadIndex(ctx, indexKey(1, 0), []byte("index-bytes")); err != nil {
		t.Fatalf("UploadIndex: %v", err)
	}

	data, err := client.DownloadSegment(ctx, segmentKey(1, 0), nil)
	if err != nil {
		t.Fatalf("DownloadSegment: %v", err)
	}
	if string(data) != "segment-bytes" {
		t.Fatalf("data = %q, want %q", data, "segment-bytes")
	}

	ranged, err := client.DownloadSegment(ctx, segmentKey(1, 0), &ByteRange{Start: 0, End: 6})
	if err != nil {
		t.Fatalf("DownloadSegment (ranged): %v", err)
	}
	if string(ranged) != "segment" {
		t.Fatalf("ranged = %q, want %q", ranged, "segment")
	}

	idx, err := client.DownloadIndex(ctx, indexKey(1, 0))
	if err != nil {
		t.Fatalf("DownloadIndex: %v", err)
	}
	if string(idx) != "index-bytes" {
		t.Fatalf("idx = %q, want %q", idx, "index-bytes")
	}
}

func TestMemoryS3ClientDownloadMissingSegmentFails(t *testing.T) {
	client := NewMemoryS3Client()
	if _, err := client.DownloadSegment(context.Background(), segmentKey(99, 0), nil); err == nil {
		t.Fatal("expected an error downloading a segment that was never uploaded")
	}
}

func TestMemoryS3ClientListSegmentsFiltersByPrefix(t *testing.T) {
	client := NewMemoryS3Client()
	ctx := context.Background()
	_ = client.UploadSegment(ctx, segmentKey(1, 0), []byte("a"))
	_ = client.UploadSegment(ctx, segmentKey(1, 1), []byte("bb"))
	_ = client.UploadSegment(ctx, segmentKey(2, 0), []byte("ccc"))

	got, err := client.ListSegments(ctx, "recordings/1/")
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d segments, want 2", len(got))
	}
}
