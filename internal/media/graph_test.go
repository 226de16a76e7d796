package media

import (
	"testing"
	"time"

	"gocv.io/x/gocv"
)

// fakeDecoder stands in for ffmpegDecoder in tests: it pushes one
// manufactured frame into sink synchronously from Start, recording whether
// WriteAccessUnit/Close were called, with no subprocess or network access.
type fakeDecoder struct {
	started  bool
	closed   bool
	aus      [][][]byte
	doneChan chan error
}

func (d *fakeDecoder) Start(w, h int, sink func(gocv.Mat)) (<-chan error, error) {
	d.started = true
	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	defer mat.Close()
	sink(mat)
	d.doneChan = make(chan error, 1)
	return d.doneChan, nil
}

func (d *fakeDecoder) WriteAccessUnit(au [][]byte) error {
	d.aus = append(d.aus, au)
	return nil
}

func (d *fakeDecoder) Close() error {
	d.closed = true
	if d.doneChan != nil {
		close(d.doneChan)
	}
	return nil
}

// TestGraphStartPushesFrameThroughPluggableDecoder exercises the
// NewDecoder injection point: Start must hand the frame sink to whatever
// factory produces, and the resulting frame must surface through
// FrameSource. The upstream URI is unreachable so Start still returns an
// UpstreamUnreachable error, but the decoder has already run and been torn
// down by the time it does.
func TestGraphStartPushesFrameThroughPluggableDecoder(t *testing.T) {
	fd := &fakeDecoder{}
	g, err := Build(Params{
		CameraName: "front",
		URI:        "rtsp://127.0.0.1:1/unreachable",
		NewDecoder: func() Decoder { return fd },
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	err = g.Start()
	if err == nil {
		t.Fatal("expected Start to fail against an unreachable upstream")
	}
	be, ok := err.(*BuildError)
	if !ok || be.Kind != "UpstreamUnreachable" {
		t.Fatalf("Start error = %v, want *BuildError{Kind: UpstreamUnreachable}", err)
	}

	if !fd.started {
		t.Error("decoder factory's Decoder was never started")
	}
	if !fd.closed {
		t.Error("decoder was not closed after the failed upstream connect")
	}

	frame, ok := g.FrameSource().Pull()
	if !ok {
		t.Fatal("expected a frame pushed by the fake decoder's sink")
	}
	defer frame.Close()
	if frame.Cols() != 640 || frame.Rows() != 360 {
		t.Errorf("frame size = %dx%d, want 640x360 default", frame.Cols(), frame.Rows())
	}
}

func TestRetryDelaySchedule(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 300 * time.Millisecond},
		{1, 600 * time.Millisecond},
		{2, 900 * time.Millisecond},
		{3, 1500 * time.Millisecond},
		{10, 1500 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := RetryDelay(tc.attempt); got != tc.want {
			t.Errorf("RetryDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestBuildRejectsEmptyURI(t *testing.T) {
	_, err := Build(Params{CameraName: "front"})
	if err == nil {
		t.Fatal("expected an error for an empty upstream uri")
	}
	be, ok := err.(*BuildError)
	if !ok {
		t.Fatalf("expected *BuildError, got %T", err)
	}
	if be.Kind != "PipelineBuildFailed" {
		t.Errorf("Kind = %q, want PipelineBuildFailed", be.Kind)
	}
}

func TestBuildDefaultsSegmentExt(t *testing.T) {
	g, err := Build(Params{CameraName: "front", URI: "rtsp://localhost/front"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if g.params.SegmentExt != "mkv" {
		t.Errorf("SegmentExt = %q, want mkv default", g.params.SegmentExt)
	}
}
