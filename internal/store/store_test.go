package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAddDuplicateRejected(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "cameras.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := &CameraDefinition{Name: "front", URI: "rtsp://x/1"}
	if err := s.Add(def, true); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	dup := &CameraDefinition{Name: "front", URI: "rtsp://x/2"}
	if err := s.Add(dup, true); err != ErrExists {
		t.Errorf("second Add error = %v, want ErrExists", err)
	}
	if len(s.List()) != 1 {
		t.Errorf("List() len = %d, want 1 (no side effect from rejected add)", len(s.List()))
	}
}

func TestRemoveIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cameras.json")
	s, _ := Load(path)
	_ = s.Add(&CameraDefinition{Name: "front", URI: "rtsp://x/1"}, true)

	if err := s.Remove("front"); err != nil {
		t.Fatalf("first Remove: %v", err)
	}
	if err := s.Remove("front"); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if len(s.List()) != 0 {
		t.Errorf("List() len = %d, want 0", len(s.List()))
	}
}

func TestLoadSkipsMalformedEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cameras.json")
	raw := `{"cameras": [{"name": "good", "uri": "rtsp://x/1"}, {"name": 123}, {"uri": "rtsp://x/2"}]}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := s.List()
	if len(got) != 1 || got[0].Name != "good" {
		t.Errorf("List() = %+v, want exactly one entry named good", got)
	}
}

func TestSaveIsAtomicAndRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cameras.json")
	s, _ := Load(path)
	_ = s.Add(&CameraDefinition{Name: "front", URI: "rtsp://x/1", Segment: true}, true)

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	def, ok := reloaded.Get("front")
	if !ok {
		t.Fatalf("expected camera front to round-trip")
	}
	if !def.Segment {
		t.Errorf("Segment = false, want true after round trip")
	}
}

func TestValidNameAndSanitize(t *testing.T) {
	if !ValidName("front_cam-1") {
		t.Errorf("expected front_cam-1 to be valid")
	}
	if ValidName("front cam!") {
		t.Errorf("expected 'front cam!' to be invalid")
	}
	if got := Sanitize("front cam!"); got != "frontcam" {
		t.Errorf("Sanitize(%q) = %q, want frontcam", "front cam!", got)
	}
}
