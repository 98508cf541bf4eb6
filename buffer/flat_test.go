package buffer

import (
	"bytes"
	"testing"
)

func TestPrepareCommitConsumeRoundTrip(t *testing.T) {
	f := NewFlat(16)
	dst, err := f.Prepare(5)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	copy(dst, "hello")
	f.Commit(5)
	if got := string(f.Data()); got != "hello" {
		t.Fatalf("Data() = %q, want %q", got, "hello")
	}
	f.Consume(5)
	if !f.Empty() {
		t.Fatalf("expected empty after consuming all data")
	}
}

func TestCommitClampsToPreparedRegion(t *testing.T) {
	f := NewFlat(16)
	if _, err := f.Prepare(4); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	f.Commit(100)
	if f.Size() != 4 {
		t.Fatalf("Size() = %d, want 4 (clamped)", f.Size())
	}
}

func TestPrepareCompactsWhenTailLacksRoom(t *testing.T) {
	f := NewFlat(10)
	dst, _ := f.Prepare(6)
	copy(dst, []byte("abcdef"))
	f.Commit(6)
	f.Consume(4) // leaves "ef" unread at offset 4..6

	dst2, err := f.Prepare(6)
	if err != nil {
		t.Fatalf("Prepare after partial consume: %v", err)
	}
	copy(dst2, []byte("ghijkl"))
	f.Commit(6)

	if got := f.Data(); !bytes.Equal(got, []byte("efghijkl")) {
		t.Fatalf("Data() = %q, want %q", got, "efghijkl")
	}
}

func TestCompactedReflectsMostRecentPrepare(t *testing.T) {
	f := NewFlat(10)
	dst, _ := f.Prepare(6)
	if f.Compacted() {
		t.Fatal("first Prepare on an empty buffer should not need to compact")
	}
	copy(dst, []byte("abcdef"))
	f.Commit(6)
	f.Consume(4)

	if _, err := f.Prepare(6); err != nil {
		t.Fatalf("Prepare after partial consume: %v", err)
	}
	if !f.Compacted() {
		t.Fatal("Prepare should have compacted to fit 6 more bytes in the tail")
	}
}

func TestPrepareOverflow(t *testing.T) {
	f := NewFlat(8)
	if _, err := f.Prepare(8); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	f.Commit(8)
	if _, err := f.Prepare(1); err == nil {
		t.Fatal("expected ErrOverflow when buffer is full")
	}
}

func TestConsumeMoreThanSizeResetsToOrigin(t *testing.T) {
	f := NewFlat(8)
	dst, _ := f.Prepare(3)
	copy(dst, []byte("abc"))
	f.Commit(3)
	f.Consume(100)
	if f.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", f.Size())
	}
	// After the reset, a full-capacity Prepare should succeed without
	// needing to compact, proving the cursors returned to offset zero.
	if _, err := f.Prepare(8); err != nil {
		t.Fatalf("Prepare after full consume: %v", err)
	}
}

func TestAvailableAndCapacity(t *testing.T) {
	f := NewFlat(10)
	if f.Capacity() != 10 {
		t.Fatalf("Capacity() = %d, want 10", f.Capacity())
	}
	dst, _ := f.Prepare(4)
	copy(dst, []byte("data"))
	f.Commit(4)
	if f.Available() != 6 {
		t.Fatalf("Available() = %d, want 6", f.Available())
	}
}
