package export

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmptyRetainedSetProducesNoOutput(t *testing.T) {
	dir := t.TempDir()
	small := filepath.Join(dir, "tiny.mkv")
	if err := os.WriteFile(small, []byte("x"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	e := New("mkv")
	req := Request{
		CameraName:   "front",
		SegmentPaths: []string{small}, // below the 1024-byte filter
		OutputDir:    dir,
		Filename:     "motion-test",
	}
	if err := e.run(req); err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, err := os.Stat(small); err != nil {
		t.Errorf("source segment was removed even though nothing was exported: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "motion-test.mkv")); !os.IsNotExist(err) {
		t.Errorf("expected no output file to be created for an empty filtered set")
	}
}

func TestConcatListEscapesSingleQuotes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "it's a segment.mkv")

	listPath, err := writeConcatList(dir, []string{path})
	if err != nil {
		t.Fatalf("writeConcatList: %v", err)
	}
	defer os.Remove(listPath)

	data, err := os.ReadFile(listPath)
	if err != nil {
		t.Fatalf("read concat list: %v", err)
	}
	want := "file '" + dir + "/it" + `'\''` + "s a segment.mkv'\n"
	if string(data) != want {
		t.Errorf("concat list = %q, want %q", string(data), want)
	}
}

func TestSubmitQueuesWhileInFlight(t *testing.T) {
	e := New("mkv")
	e.inFlight["front"] = true // simulate an export already running

	e.Submit(Request{CameraName: "front", OutputDir: t.TempDir(), Filename: "a"})
	e.mu.Lock()
	n := len(e.pending["front"])
	e.mu.Unlock()
	if n != 1 {
		t.Errorf("pending[front] len = %d, want 1", n)
	}
}
