package registry

import (
	"path/filepath"
	"testing"

	"github.com/ciptacoding/nvr-core/internal/config"
	"github.com/ciptacoding/nvr-core/internal/export"
	"github.com/ciptacoding/nvr-core/internal/geom"
	"github.com/ciptacoding/nvr-core/internal/rtspproxy"
	"github.com/ciptacoding/nvr-core/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Load(filepath.Join(dir, "cameras.json"))
	if err != nil {
		t.Fatalf("store.Load: %v", err)
	}
	settings := config.NewSettings(filepath.Join(dir, "settings.json"))
	return New(st, settings, filepath.Join(dir, "media"), rtspproxy.New(18554), export.New("mkv"))
}

func TestAddRejectsInvalidName(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Add(&store.CameraDefinition{Name: "bad name!", URI: "rtsp://x/1"}, true)
	if err != ErrInvalidName {
		t.Errorf("Add with invalid name = %v, want ErrInvalidName", err)
	}
}

func TestAddRejectsBothProxyVariants(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Add(&store.CameraDefinition{
		Name: "front", URI: "rtsp://x/1",
		GstreamerProxy: true, Live555Proxy: true,
	}, true)
	if err != ErrBothProxyVariants {
		t.Errorf("Add with both proxy variants = %v, want ErrBothProxyVariants", err)
	}
}

func TestMotionRegionCRUDOnUnknownCamera(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.AddMotionRegion("ghost", geom.Rect{}, 0); err != ErrCameraNotFound {
		t.Errorf("AddMotionRegion on unknown camera = %v, want ErrCameraNotFound", err)
	}
	if err := r.RemoveMotionRegion("ghost", 1); err != ErrCameraNotFound {
		t.Errorf("RemoveMotionRegion on unknown camera = %v, want ErrCameraNotFound", err)
	}
	if err := r.ClearMotionRegions("ghost"); err != ErrCameraNotFound {
		t.Errorf("ClearMotionRegions on unknown camera = %v, want ErrCameraNotFound", err)
	}
}

func TestMotionRegionAddRemoveRestoresPriorValue(t *testing.T) {
	r := newTestRegistry(t)
	// Register the definition directly in the store, bypassing Add (which
	// would build a real media graph) — region CRUD only touches the store.
	def := &store.CameraDefinition{Name: "front", URI: "rtsp://x/1"}
	if err := r.st.Add(def, false); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	before := len(def.Regions)
	id, err := r.AddMotionRegion("front", geom.Rect{X: 1, Y: 2, W: 3, H: 4}, 0)
	if err != nil {
		t.Fatalf("AddMotionRegion: %v", err)
	}
	if err := r.RemoveMotionRegion("front", id); err != nil {
		t.Fatalf("RemoveMotionRegion: %v", err)
	}
	if len(def.Regions) != before {
		t.Errorf("region set len = %d, want %d (back to prior value)", len(def.Regions), before)
	}
}

func TestSetRecordingOnUnknownCamera(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.SetRecording("ghost", true, "out.mp4"); err != ErrCameraNotFound {
		t.Errorf("SetRecording on unknown camera = %v, want ErrCameraNotFound", err)
	}
}

func TestSetRecordingRequiresFileToTurnOn(t *testing.T) {
	r := newTestRegistry(t)
	def := &store.CameraDefinition{Name: "front", URI: "rtsp://x/1"}
	if err := r.st.Add(def, false); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	if err := r.SetRecording("front", true, ""); err == nil {
		t.Fatal("SetRecording(on, \"\") = nil, want an error")
	}
}

// TestSetRecordingIsDistinctFromSegment covers the point of the review that
// prompted splitting these two fields apart: SetRecording must only ever
// touch def.Recording/def.RecordingFile, never def.Segment, and vice versa
// for SetSegmentRecording.
func TestSetRecordingIsDistinctFromSegment(t *testing.T) {
	r := newTestRegistry(t)
	// Register the definition directly in the store, bypassing Add (which
	// would build a real media graph against an unreachable URI) — with no
	// runtime present, SetRecording only needs to touch store state.
	def := &store.CameraDefinition{Name: "front", URI: "rtsp://x/1", Segment: true}
	if err := r.st.Add(def, false); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	if err := r.SetRecording("front", true, "/media/front/full.mp4"); err != nil {
		t.Fatalf("SetRecording(on): %v", err)
	}
	if !def.Recording {
		t.Error("def.Recording = false, want true after SetRecording(on)")
	}
	if def.RecordingFile != "/media/front/full.mp4" {
		t.Errorf("def.RecordingFile = %q, want /media/front/full.mp4", def.RecordingFile)
	}
	if !def.Segment {
		t.Error("def.Segment flipped by SetRecording, want it untouched")
	}

	if err := r.SetRecording("front", false, ""); err != nil {
		t.Fatalf("SetRecording(off): %v", err)
	}
	if def.Recording {
		t.Error("def.Recording = true, want false after SetRecording(off)")
	}
	if def.RecordingFile != "" {
		t.Errorf("def.RecordingFile = %q, want empty after SetRecording(off)", def.RecordingFile)
	}
	if !def.Segment {
		t.Error("def.Segment flipped by SetRecording(off), want it untouched")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Remove("nonexistent"); err != nil {
		t.Fatalf("first Remove: %v", err)
	}
	if err := r.Remove("nonexistent"); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}
