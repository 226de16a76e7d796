package media

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"gocv.io/x/gocv"
)

// Shape distinguishes the two pipeline builds, decided by the audio probe.
type Shape int

const (
	ShapeAudioAbsent Shape = iota
	ShapeAudioPresent
)

// BuildError is a typed construction failure.
type BuildError struct {
	Kind string // "PipelineBuildFailed" | "UpstreamUnreachable"
	Err  error
}

func (e *BuildError) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *BuildError) Unwrap() error { return e.Err }

// Params configures one camera's Graph.
type Params struct {
	CameraName   string
	URI          string
	Audio        AudioHint
	MotionW      int // 0 (or MotionH 0) => decoder default frame size, 640x360
	MotionH      int
	SegmentDir   string // <media>/<camera>/tmp
	SegmentExt   string
	SegmentSecs  int
	SegmentFiles int
	SegmentBR    int
	SegmentSpeed string
	RecordSeg    bool // the camera definition's `segment` flag

	// NewDecoder overrides how access units become raw BGR frames; nil uses
	// the ffmpeg-backed Decoder. Tests inject a fake Decoder here to exercise
	// Graph without an RTSP source, network access, or ffmpeg.
	NewDecoder DecoderFactory
}

// frameSlot is a bounded size-1 single-slot buffer: the appsink-equivalent
// copies the newest frame in, dropping the previous one if the consumer
// hasn't pulled yet.
type frameSlot struct {
	mu  sync.Mutex
	mat *gocv.Mat
	has bool
}

func (s *frameSlot) put(m gocv.Mat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.has {
		s.mat.Close() // drop the oldest
	}
	cp := m.Clone()
	s.mat = &cp
	s.has = true
}

// Pull implements motion.FrameSource.
func (s *frameSlot) Pull() (gocv.Mat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.has {
		return gocv.Mat{}, false
	}
	m := *s.mat
	s.has = false
	s.mat = nil
	return m, true
}

// Graph is one camera's running media pipeline: a gortsplib.Client pulls
// the upstream RTSP source over forced TCP and depacketizes its H.264 track
// into access units (pull.go); those access units feed a pluggable Decoder
// that turns them into the raw BGR frames the Motion Analyser taps, and,
// when RecordSeg is set, a second ffmpeg subprocess that re-encodes the same
// access units (plus the depacketized audio track, if any) into the rolling
// segment ring. Only the final decode/re-encode step still shells out to
// ffmpeg; neither subprocess is ever given the upstream URL.
type Graph struct {
	params Params
	frames *frameSlot

	source  *pulledSource
	decoder Decoder

	segmentCmd    *exec.Cmd
	segmentStdin  io.WriteCloser
	segmentAudioW *os.File

	fullRecMu sync.Mutex
	fullRec   *fullRecorder

	stopCh chan struct{}
	wg     sync.WaitGroup

	onFailure func(error)
}

// Build constructs a Graph for params. It does not start any subprocess or
// connection; call Start to run it. Build itself only validates the
// configuration, so it never blocks on the network — upstream reachability
// is discovered asynchronously and surfaced through onFailure.
func Build(p Params) (*Graph, error) {
	if p.URI == "" {
		return nil, &BuildError{Kind: "PipelineBuildFailed", Err: fmt.Errorf("empty upstream uri")}
	}
	if p.SegmentExt == "" {
		p.SegmentExt = "mkv"
	}
	return &Graph{params: p, frames: &frameSlot{}}, nil
}

// FrameSource exposes the decoded-BGR tap for the Motion Analyser.
func (g *Graph) FrameSource() *frameSlot { return g.frames }

// OnFailure registers a callback invoked when the pull, decode, or segment
// writer stops unexpectedly, so the caller (camera registry) can schedule
// the bounded exponential retry (300/600/900ms, then 1.5s steady).
func (g *Graph) OnFailure(f func(error)) { g.onFailure = f }

// Start connects to the upstream RTSP source (forced TCP), starts the frame
// decoder, and, if RecordSeg, the segment writer.
func (g *Graph) Start() error {
	g.stopCh = make(chan struct{})

	factory := g.params.NewDecoder
	if factory == nil {
		factory = defaultDecoderFactory
	}
	g.decoder = factory()

	w, h := g.params.MotionW, g.params.MotionH
	if w <= 0 || h <= 0 {
		w, h = 640, 360 // decoder default frame size when no motion_frame_size is set
	}
	decodeDone, err := g.decoder.Start(w, h, g.frames.put)
	if err != nil {
		return &BuildError{Kind: "PipelineBuildFailed", Err: err}
	}
	g.wg.Add(1)
	go g.watch(decodeDone, "decoder")

	if g.params.RecordSeg {
		if err := os.MkdirAll(g.params.SegmentDir, 0o755); err != nil {
			g.decoder.Close()
			return &BuildError{Kind: "PipelineBuildFailed", Err: err}
		}
		if err := g.startSegmentWriter(); err != nil {
			g.decoder.Close()
			return &BuildError{Kind: "PipelineBuildFailed", Err: err}
		}
	}

	onVideoAU := func(au [][]byte) {
		_ = g.decoder.WriteAccessUnit(au)
		if g.segmentStdin != nil {
			if raw, err := h264.AnnexBMarshal(au); err == nil {
				_, _ = g.segmentStdin.Write(raw)
			}
		}
		g.fullRecMu.Lock()
		if g.fullRec != nil {
			g.fullRec.writeVideoAU(au)
		}
		g.fullRecMu.Unlock()
	}
	onAudioAU := func(payload []byte) {
		if g.segmentAudioW != nil {
			_, _ = g.segmentAudioW.Write(buildAudioFrame(payload, g.params.Audio))
		}
		g.fullRecMu.Lock()
		if g.fullRec != nil {
			g.fullRec.writeAudio(payload, g.params.Audio)
		}
		g.fullRecMu.Unlock()
	}

	// Audio is tapped whenever present, not just when RecordSeg is set: a
	// full recording started later via SetFullRecording needs the same tap
	// without reconnecting.
	wantAudio := g.params.Audio.HasAudio
	source, err := startPull(g.params.URI, wantAudio, onVideoAU, onAudioAU)
	if err != nil {
		g.decoder.Close()
		g.stopSegment()
		return &BuildError{Kind: "UpstreamUnreachable", Err: err}
	}
	g.source = source
	return nil
}

// SetFullRecording starts or stops the full-session recording to
// outputPath, the counterpart to RecordSeg's rolling segment ring: a single
// continuous file for as long as recording stays on, driven independently
// of the graph's own lifecycle (POST /record_on, /record_off). Calling it
// before Start is a no-op beyond validating outputPath on enable, since the
// access-unit taps only exist once the graph is running.
func (g *Graph) SetFullRecording(on bool, outputPath string) error {
	g.fullRecMu.Lock()
	defer g.fullRecMu.Unlock()

	if !on {
		if g.fullRec != nil {
			g.fullRec.stop()
			g.fullRec = nil
		}
		return nil
	}
	if g.fullRec != nil {
		return nil // already recording
	}
	rec, err := startFullRecorder(outputPath, g.params.Audio)
	if err != nil {
		return fmt.Errorf("start full recorder: %w", err)
	}
	g.fullRec = rec
	return nil
}

// Stop tears down the upstream connection, decoder, segment writer, and any
// in-progress full recording, and joins their goroutines.
func (g *Graph) Stop() {
	close(g.stopCh)
	if g.source != nil {
		g.source.Close()
	}
	if g.decoder != nil {
		g.decoder.Close()
	}
	g.stopSegment()
	g.fullRecMu.Lock()
	if g.fullRec != nil {
		g.fullRec.stop()
		g.fullRec = nil
	}
	g.fullRecMu.Unlock()
	g.wg.Wait()
}

func (g *Graph) stopSegment() {
	if g.segmentStdin != nil {
		_ = g.segmentStdin.Close()
	}
	if g.segmentAudioW != nil {
		_ = g.segmentAudioW.Close()
	}
	if g.segmentCmd != nil && g.segmentCmd.Process != nil {
		_ = g.segmentCmd.Process.Kill()
	}
}

// watch joins a stop channel (decoder EOF or segment writer exit) and
// surfaces it through onFailure unless Stop already closed stopCh.
func (g *Graph) watch(done <-chan error, who string) {
	defer g.wg.Done()
	err := <-done
	select {
	case <-g.stopCh:
		return // expected: Stop() tore it down
	default:
	}
	if err != nil && g.onFailure != nil {
		g.onFailure(fmt.Errorf("%s exited: %w", who, err))
	}
}

// startSegmentWriter launches the ffmpeg subprocess that re-encodes the
// access units it is fed over stdin (and, when present, the depacketized
// audio track over a second pipe) into the rolling segment ring: rotated
// every SegmentSecs seconds, wrapping after SegmentFiles files — the
// ffmpeg-native equivalent of splitmuxsink's max-size-time/max-files. It
// never contacts the upstream URL itself.
func (g *Graph) startSegmentWriter() error {
	pattern := filepath.Join(g.params.SegmentDir, fmt.Sprintf("segment-%%03d.%s", g.params.SegmentExt))

	args := []string{"-loglevel", "error", "-f", "h264", "-i", "pipe:0"}

	var audioR *os.File
	if g.params.Audio.HasAudio {
		var audioW *os.File
		var err error
		audioR, audioW, err = os.Pipe()
		if err != nil {
			return fmt.Errorf("open audio pipe: %w", err)
		}
		g.segmentAudioW = audioW
		args = append(args, audioFFmpegInputArgs(g.params.Audio)...)
		args = append(args, "-c:a", "aac", "-ar", "48000", "-ac", "2")
	} else {
		args = append(args, "-an")
	}

	args = append(args,
		"-c:v", "libx264",
		"-preset", g.params.SegmentSpeed,
		"-b:v", fmt.Sprintf("%dk", g.params.SegmentBR),
		"-f", "segment",
		"-segment_time", fmt.Sprintf("%d", g.params.SegmentSecs),
		"-segment_wrap", fmt.Sprintf("%d", g.params.SegmentFiles),
		"-reset_timestamps", "1",
		pattern,
	)

	cmd := exec.Command("ffmpeg", args...)
	if audioR != nil {
		cmd.ExtraFiles = []*os.File{audioR} // becomes fd 3 ("pipe:3") in the child
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return err
	}
	if audioR != nil {
		_ = audioR.Close() // the child holds its own copy of the fd
	}

	g.segmentCmd = cmd
	g.segmentStdin = stdin

	done := make(chan error, 1)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		done <- cmd.Wait()
	}()
	g.wg.Add(1)
	go g.watch(done, "segment writer")
	return nil
}

// audioFFmpegInputArgs names the second ffmpeg input (fd 3) by the audio
// encoding the probe detected: G.711's RTP payload is raw mu-law/A-law
// samples, so it is declared as such; AAC access units are ADTS-wrapped
// before being written, so they are declared as an ADTS elementary stream.
func audioFFmpegInputArgs(hint AudioHint) []string {
	if hint.Encoding == "aac" {
		return []string{"-f", "aac", "-i", "pipe:3"}
	}
	codec := "mulaw"
	if hint.Encoding == "pcma" {
		codec = "alaw"
	}
	sampleRate := hint.SampleRate
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	channels := hint.Channels
	if channels <= 0 {
		channels = 1
	}
	return []string{
		"-f", codec,
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-ac", fmt.Sprintf("%d", channels),
		"-i", "pipe:3",
	}
}

// RetryDelay returns the bounded exponential backoff for the nth consecutive
// failure (0-indexed): 300/600/900ms, then 1.5s steady.
func RetryDelay(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 300 * time.Millisecond
	case 1:
		return 600 * time.Millisecond
	case 2:
		return 900 * time.Millisecond
	default:
		return 1500 * time.Millisecond
	}
}
