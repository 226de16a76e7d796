// Package export implements the Clip Exporter (C4): it concatenates a set
// of retained segments into one output container via an ffmpeg
// concat-demuxer subprocess.
package export

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ciptacoding/nvr-core/internal/logx"
)

var log = logx.New("Export")

// minSegmentSize is the size_bytes filter: segments at or below this size
// are dropped before concatenation.
const minSegmentSize = 1024

// Request describes one clip-export job.
type Request struct {
	CameraName   string
	SegmentPaths []string
	OutputDir    string
	Filename     string // output filename; extension defaults to the Exporter's defaultExt if omitted
}

// Exporter runs at most one export per camera at a time; additional
// Finalized arrivals while a camera's export is running queue FIFO and run
// immediately after the current one completes.
type Exporter struct {
	mu         sync.Mutex
	inFlight   map[string]bool
	pending    map[string][]Request
	defaultExt string
	ffmpegPath string
}

// New constructs an Exporter. defaultExt is the container extension used
// when a Request's Filename omits one (e.g. Matroska, "mkv").
func New(defaultExt string) *Exporter {
	return &Exporter{
		inFlight:   map[string]bool{},
		pending:    map[string][]Request{},
		defaultExt: defaultExt,
		ffmpegPath: "ffmpeg",
	}
}

// Submit enqueues req. If no export is currently running for req.CameraName
// it starts immediately on a detached goroutine; otherwise it is appended
// to that camera's pending FIFO.
func (e *Exporter) Submit(req Request) {
	e.mu.Lock()
	if e.inFlight[req.CameraName] {
		e.pending[req.CameraName] = append(e.pending[req.CameraName], req)
		e.mu.Unlock()
		return
	}
	e.inFlight[req.CameraName] = true
	e.mu.Unlock()

	go e.runLoop(req)
}

// runLoop runs req, then drains the camera's pending FIFO one at a time
// until empty, so the analysis loop never blocks on export I/O.
func (e *Exporter) runLoop(req Request) {
	current := req
	for {
		if err := e.run(current); err != nil {
			log.Printf("%s: export failed: %v", current.CameraName, err)
		}

		e.mu.Lock()
		queue := e.pending[current.CameraName]
		if len(queue) == 0 {
			delete(e.inFlight, current.CameraName)
			e.mu.Unlock()
			return
		}
		current = queue[0]
		e.pending[current.CameraName] = queue[1:]
		e.mu.Unlock()
	}
}

// run performs one export synchronously: filter, concat-list, ffmpeg.
func (e *Exporter) run(req Request) error {
	var filtered []string
	for _, p := range req.SegmentPaths {
		info, err := os.Stat(p)
		if err != nil {
			log.Printf("%s: stat %s: %v (skipped)", req.CameraName, p, err)
			continue
		}
		if info.Size() > minSegmentSize {
			filtered = append(filtered, p)
		}
	}
	if len(filtered) == 0 {
		// An empty retained set must not create an output file and must
		// not delete any segments.
		return nil
	}

	filename := req.Filename
	if filepath.Ext(filename) == "" {
		filename += "." + e.defaultExt
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	outputPath := filepath.Join(req.OutputDir, filename)

	listPath, err := writeConcatList(req.OutputDir, filtered)
	if err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	defer os.Remove(listPath)

	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy"}
	if strings.EqualFold(filepath.Ext(outputPath), ".mkv") {
		args = append(args, "-f", "matroska")
	}
	args = append(args, outputPath)

	cmd := exec.Command(e.ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(outputPath)
		return fmt.Errorf("ffmpeg concat: %w: %s", err, string(output))
	}

	for _, p := range filtered {
		if err := os.Remove(p); err != nil {
			log.Printf("%s: cleanup %s: %v", req.CameraName, p, err)
		}
	}
	return nil
}

// writeConcatList produces the temporary concat-list file: one
// `file '<escaped-path>'` line per segment, single quotes escaped as
// '\'' exactly as the original VideoExporter does.
func writeConcatList(dir string, paths []string) (string, error) {
	f, err := os.CreateTemp(dir, "concat_list-*.txt")
	if err != nil {
		return "", err
	}
	defer f.Close()
	for _, p := range paths {
		escaped := strings.ReplaceAll(p, `'`, `'\''`)
		if _, err := fmt.Fprintf(f, "file '%s'\n", escaped); err != nil {
			os.Remove(f.Name())
			return "", err
		}
	}
	return f.Name(), nil
}
