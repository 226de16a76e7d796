// Package segment implements the Segment Recorder (C2): it watches the
// segment directory the media graph (C1) writes rolling files into, tracks
// rollovers, and on request copies the just-closed file into saved/ so the
// motion analyser (C3) can later hand the retained set to the clip
// exporter (C4).
package segment

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ciptacoding/nvr-core/internal/logx"
)

// State is the Segment Recorder's lifecycle state.
type State int32

const (
	Stopped State = iota
	Working
	FinishRequested
	Finalized
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Working:
		return "Working"
	case FinishRequested:
		return "FinishRequested"
	case Finalized:
		return "Finalized"
	default:
		return "Unknown"
	}
}

// Worker polls one camera's segment directory. A single mutex guards the
// save-latch and retained list; state itself is an atomic so a concurrent
// reader never observes a half-updated value.
type Worker struct {
	dir          string
	savedDir     string
	ext          string
	scanInterval time.Duration
	maxRetained  int

	state int32 // atomic, State

	mu          sync.Mutex
	saveLatch   bool
	retained    []string
	lastNewest  string

	running  int32 // atomic bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	log      *logx.Logger
	camName  string
}

// New constructs a Worker for one camera. dir is the rolling-segment
// directory (<media>/<camera>/tmp); saved files go to dir/saved.
func New(camName, dir, ext string, scanInterval time.Duration, maxRetained int) *Worker {
	return &Worker{
		camName:      camName,
		dir:          dir,
		savedDir:     filepath.Join(dir, "saved"),
		ext:          ext,
		scanInterval: scanInterval,
		maxRetained:  maxRetained,
		log:          logx.New("Segment"),
	}
}

// Start creates the saved/ directory and begins the directory-scan loop.
func (w *Worker) Start() error {
	if !atomic.CompareAndSwapInt32(&w.running, 0, 1) {
		return nil // already running
	}
	if err := os.MkdirAll(w.savedDir, 0o755); err != nil {
		atomic.StoreInt32(&w.running, 0)
		return fmt.Errorf("create saved dir: %w", err)
	}
	w.SetState(Working)
	w.stopCh = make(chan struct{})
	w.wg.Add(1)
	go w.scanLoop()
	return nil
}

// Stop halts the scan loop and joins its goroutine.
func (w *Worker) Stop() {
	if !atomic.CompareAndSwapInt32(&w.running, 1, 0) {
		return
	}
	close(w.stopCh)
	w.wg.Wait()
	w.SetState(Stopped)
}

// SaveCurrentSegment sets a one-shot latch: the next rollover will copy the
// just-closed file into saved/. Idempotent — calling it repeatedly before
// the next rollover has no additional effect.
func (w *Worker) SaveCurrentSegment() {
	w.mu.Lock()
	w.saveLatch = true
	w.mu.Unlock()
}

// SetState performs an explicit state transition.
func (w *Worker) SetState(s State) {
	atomic.StoreInt32(&w.state, int32(s))
}

// GetState reads the current state atomically.
func (w *Worker) GetState() State {
	return State(atomic.LoadInt32(&w.state))
}

// DrainMotionSegments returns the retained file paths and empties the
// internal list in one critical section.
func (w *Worker) DrainMotionSegments() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.retained
	w.retained = nil
	return out
}

func (w *Worker) scanLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

// tick runs one poll of the segment directory: detect rollover, act on the
// latch, and drive the FinishRequested -> Finalized transition.
func (w *Worker) tick() {
	newest, err := w.newestSegmentFile()
	if err != nil {
		w.log.Printf("%s: scan error: %v", w.camName, err)
		return
	}
	if newest == "" {
		return
	}

	w.mu.Lock()
	previous := w.lastNewest
	rolled := previous != "" && previous != newest
	w.lastNewest = newest
	w.mu.Unlock()

	if !rolled {
		return
	}
	w.onRollover(previous)
}

// onRollover handles the just-closed file (previous newest) at a rollover:
// retains it if latched, then advances the FinishRequested/Finalized
// transitions.
func (w *Worker) onRollover(closedFile string) {
	w.mu.Lock()
	latched := w.saveLatch
	w.saveLatch = false
	w.mu.Unlock()

	retainedThisRollover := false
	if latched {
		if err := w.retainFile(closedFile); err != nil {
			w.log.Printf("%s: retain %s failed: %v", w.camName, closedFile, err)
			// Log and clear the latch; stay in Working. The latch is already
			// cleared above.
		} else {
			retainedThisRollover = true
		}
	}

	if w.GetState() == FinishRequested {
		if retainedThisRollover {
			w.SetState(Finalized)
		}
	}

	w.mu.Lock()
	exceeded := len(w.retained) > w.maxRetained
	w.mu.Unlock()
	if exceeded {
		w.SetState(Finalized)
	}
}

// retainFile copies closedFile into saved/ with an ISO-local-timestamp
// name and appends it to the retained list.
func (w *Worker) retainFile(closedFile string) error {
	src, err := os.Open(closedFile)
	if err != nil {
		return err
	}
	defer src.Close()

	name := time.Now().Format("2006-01-02T15-04-05.000") + filepath.Ext(closedFile)
	dstPath := filepath.Join(w.savedDir, name)
	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return err
	}

	w.mu.Lock()
	w.retained = append(w.retained, dstPath)
	w.mu.Unlock()
	return nil
}

// newestSegmentFile returns the regular file directly under dir (saved/ and
// other subdirectories are skipped) with the most recent modification time.
// File names are not checked: any file in dir counts as a segment.
func (w *Worker) newestSegmentFile() (string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	type candidate struct {
		path    string
		modTime time.Time
	}
	var candidates []candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{path: filepath.Join(w.dir, e.Name()), modTime: info.ModTime()})
	}
	if len(candidates) == 0 {
		return "", nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].modTime.After(candidates[j].modTime) })
	return candidates[0].path, nil
}
