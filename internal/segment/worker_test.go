package segment

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSegment(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("write segment: %v", err)
	}
	return path
}

func TestSaveCurrentSegmentRetainsOnRollover(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, "segment-000.mkv")

	w := New("front", dir, "mkv", 10*time.Millisecond, 65)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	time.Sleep(30 * time.Millisecond) // let the loop observe the first file
	w.SaveCurrentSegment()

	writeSegment(t, dir, "segment-001.mkv") // rollover: 000 is now "closed"
	time.Sleep(60 * time.Millisecond)

	got := w.DrainMotionSegments()
	if len(got) != 1 {
		t.Fatalf("DrainMotionSegments() = %v, want exactly one retained file", got)
	}
	if _, err := os.Stat(got[0]); err != nil {
		t.Errorf("retained file %s does not exist: %v", got[0], err)
	}
}

func TestDrainEmptiesRetainedList(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, "segment-000.mkv")
	w := New("front", dir, "mkv", 10*time.Millisecond, 65)
	_ = w.Start()
	defer w.Stop()

	time.Sleep(30 * time.Millisecond)
	w.SaveCurrentSegment()
	writeSegment(t, dir, "segment-001.mkv")
	time.Sleep(60 * time.Millisecond)

	first := w.DrainMotionSegments()
	second := w.DrainMotionSegments()
	if len(first) == 0 {
		t.Fatalf("expected first drain to contain a retained file")
	}
	if len(second) != 0 {
		t.Errorf("second drain = %v, want empty (drain empties the list)", second)
	}
}

func TestFinishRequestedFinalizesOnRetainedRollover(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, "segment-000.mkv")
	w := New("front", dir, "mkv", 10*time.Millisecond, 65)
	_ = w.Start()
	defer w.Stop()

	time.Sleep(30 * time.Millisecond)
	w.SetState(FinishRequested)
	w.SaveCurrentSegment()
	writeSegment(t, dir, "segment-001.mkv")
	time.Sleep(60 * time.Millisecond)

	if got := w.GetState(); got != Finalized {
		t.Errorf("GetState() = %v, want Finalized", got)
	}
}

func TestFinishRequestedStaysWithoutRetain(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, "segment-000.mkv")
	w := New("front", dir, "mkv", 10*time.Millisecond, 65)
	_ = w.Start()
	defer w.Stop()

	time.Sleep(30 * time.Millisecond)
	w.SetState(FinishRequested)
	// No SaveCurrentSegment call: the rollover below retains nothing.
	writeSegment(t, dir, "segment-001.mkv")
	time.Sleep(60 * time.Millisecond)

	if got := w.GetState(); got != FinishRequested {
		t.Errorf("GetState() = %v, want FinishRequested to persist without a retained rollover", got)
	}
}

func TestMaxRetainedForcesFinalized(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, "segment-000.mkv")
	w := New("front", dir, "mkv", 10*time.Millisecond, 1) // cap of 1
	_ = w.Start()
	defer w.Stop()

	time.Sleep(30 * time.Millisecond)
	w.SaveCurrentSegment()
	writeSegment(t, dir, "segment-001.mkv")
	time.Sleep(30 * time.Millisecond)
	w.SaveCurrentSegment()
	writeSegment(t, dir, "segment-002.mkv")
	time.Sleep(60 * time.Millisecond)

	if got := w.GetState(); got != Finalized {
		t.Errorf("GetState() = %v, want Finalized once retained count exceeds cap", got)
	}
}
