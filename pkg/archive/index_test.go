package archive

import "testing"

func TestIndexBuilderEmitsEveryInterval(t *testing.T) {
	builder := NewIndexBuilder(2)
	builder.MaybeAdd(0, 32)
	builder.MaybeAdd(320, 64) // within interval, should not add
	builder.MaybeAdd(640, 96) // interval elapsed, should add

	entries := builder.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Position != 640 || entries[1].ByteOffset != 96 {
		t.Fatalf("unexpected second entry: %#v", entries[1])
	}

	data, err := builder.BuildBytes()
	if err != nil {
		t.Fatalf("BuildBytes: %v", err)
	}
	parsed, err := ParseIndex(data)
	if err != nil {
		t.Fatalf("ParseIndex: %v", err)
	}
	if len(parsed) != 2 || parsed[0] != (IndexEntry{Position: 0, ByteOffset: 32}) {
		t.Fatalf("parsed entries mismatch: %#v", parsed)
	}
}

func TestParseIndexRejectsBadMagic(t *testing.T) {
	_, err := ParseIndex([]byte("not-an-index-at-all"))
	if err == nil {
		t.Fatal("expected an error for a buffer with no valid index magic")
	}
}
