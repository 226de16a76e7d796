// Package registry implements the Camera Registry (C6): it owns the set
// of active cameras, persists their definitions, and orchestrates the
// Media Graph (C1), Segment Recorder (C2), Motion Analyser (C3), and RTSP
// Proxy (C5) on add/remove.
package registry

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ciptacoding/nvr-core/internal/config"
	"github.com/ciptacoding/nvr-core/internal/export"
	"github.com/ciptacoding/nvr-core/internal/geom"
	"github.com/ciptacoding/nvr-core/internal/logx"
	"github.com/ciptacoding/nvr-core/internal/media"
	"github.com/ciptacoding/nvr-core/internal/motion"
	"github.com/ciptacoding/nvr-core/internal/rtspproxy"
	"github.com/ciptacoding/nvr-core/internal/segment"
	"github.com/ciptacoding/nvr-core/internal/store"
)

var log = logx.New("Registry")

// ErrBothProxyVariants is returned when a camera definition requests both
// gstreamer_proxy and live555_proxy; rather than silently preferring one,
// this is treated as an input error.
var ErrBothProxyVariants = errors.New("gstreamer_proxy and live555_proxy are mutually exclusive")

// ErrInvalidName is returned for a camera name outside [A-Za-z0-9_-]+.
var ErrInvalidName = errors.New("invalid camera name")

// ErrCameraNotFound is returned by region operations on an unknown camera.
var ErrCameraNotFound = errors.New("camera not found")

// ErrRegionNotFound is returned by RemoveMotionRegion for an unknown id.
var ErrRegionNotFound = errors.New("region not found")

// runtime is the hidden per-camera runtime state: pipeline handle, motion
// worker, segment worker.
type runtime struct {
	graph    *media.Graph
	seg      *segment.Worker
	analyser *motion.Analyser
}

// Registry owns cameras end to end.
type Registry struct {
	mu        sync.Mutex
	st        *store.Store
	settings  *config.Settings
	mediaRoot string
	proxy     *rtspproxy.Proxy
	exporter  *export.Exporter
	runtimes  map[string]*runtime
}

// New constructs a Registry. Callers must call LoadAll once at startup to
// materialise any previously-persisted cameras.
func New(st *store.Store, settings *config.Settings, mediaRoot string, proxy *rtspproxy.Proxy, exporter *export.Exporter) *Registry {
	return &Registry{
		st:        st,
		settings:  settings,
		mediaRoot: mediaRoot,
		proxy:     proxy,
		exporter:  exporter,
		runtimes:  map[string]*runtime{},
	}
}

// LoadAll materialises every camera already present in the store, e.g. at
// process startup.
func (r *Registry) LoadAll() {
	for _, def := range r.st.List() {
		if err := r.materialize(def); err != nil {
			log.Printf("failed to materialise camera %q on load: %v", def.Name, err)
		}
	}
}

// Add validates and registers a new camera.
func (r *Registry) Add(def *store.CameraDefinition, loading bool) error {
	if !store.ValidName(def.Name) {
		return ErrInvalidName
	}
	if def.GstreamerProxy && def.Live555Proxy {
		return ErrBothProxyVariants
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !def.Audio.Probed {
		hint, err := media.ProbeAudio(def.URI, 1500*time.Millisecond)
		if err == nil {
			def.Audio = store.AudioHint{HasAudio: hint.HasAudio, Encoding: hint.Encoding, SampleRate: hint.SampleRate, Channels: hint.Channels, Probed: true}
		} else {
			def.Audio.Probed = true // cache the negative result too; do not re-probe every restart
		}
	}

	if err := r.st.Add(def, !loading); err != nil {
		return err
	}

	if err := r.materialize(def); err != nil {
		_ = r.st.Remove(def.Name) // rollback
		return err
	}
	return nil
}

// materialize builds the runtime (C1/C2/C3, and C5 mount if requested) for
// an already-persisted definition. On any step's failure, everything
// already started for this camera is torn down before returning the error.
func (r *Registry) materialize(def *store.CameraDefinition) error {
	rt := &runtime{}

	segDir := filepath.Join(r.mediaRoot, def.Name, "tmp")
	graph, err := media.Build(media.Params{
		CameraName:   def.Name,
		URI:          def.URI,
		Audio:        media.AudioHint{HasAudio: def.Audio.HasAudio, Encoding: def.Audio.Encoding, SampleRate: def.Audio.SampleRate, Channels: def.Audio.Channels},
		MotionW:      def.MotionFrameW,
		MotionH:      def.MotionFrameH,
		SegmentDir:   segDir,
		SegmentExt:   def.VideoOutputFormat,
		SegmentSecs:  r.settings.SegmentMaxSizeSecs(),
		SegmentFiles: r.settings.SegmentMaxFiles(),
		SegmentBR:    def.SegmentBitrate,
		SegmentSpeed: def.SegmentSpeedPreset,
		RecordSeg:    def.Segment,
	})
	if err != nil {
		return fmt.Errorf("build media graph: %w", err)
	}
	rt.graph = graph

	if def.Segment {
		rt.seg = segment.New(def.Name, segDir, def.VideoOutputFormat, time.Duration(r.settings.ScanIntervalMillis())*time.Millisecond, r.settings.MaxRetainedSegments())
	}

	if def.MotionFrame {
		rt.analyser = r.newAnalyser(def, rt.seg)
	}

	if def.Live555Proxy {
		if err := r.proxy.AddRelayMount(def.Name, def.URI); err != nil {
			return fmt.Errorf("add relay mount: %w", err)
		}
		if def.OriginalURI == "" {
			def.OriginalURI = def.URI
		}
		// Subsequent consumers read the local proxy URL.
		def.URI = fmt.Sprintf("rtsp://127.0.0.1:%d/%s", r.settings.LiveRTSPProxyPort(), def.MountPoint())
	} else if def.GstreamerProxy {
		if err := r.proxy.AddReencodeMount(def.Name, def.URI, def.ProxyBitrate, def.ProxySpeedPreset); err != nil {
			return fmt.Errorf("add reencode mount: %w", err)
		}
	}

	if err := rt.graph.Start(); err != nil {
		r.teardownPartial(def.Name, rt)
		return fmt.Errorf("start media graph: %w", err)
	}
	if rt.seg != nil {
		if err := rt.seg.Start(); err != nil {
			r.teardownPartial(def.Name, rt)
			return fmt.Errorf("start segment worker: %w", err)
		}
	}
	if rt.analyser != nil {
		rt.analyser.Start(rt.graph.FrameSource())
	}
	if def.Recording && def.RecordingFile != "" {
		if err := rt.graph.SetFullRecording(true, def.RecordingFile); err != nil {
			log.Printf("resume full recording for %q: %v", def.Name, err)
		}
	}

	r.runtimes[def.Name] = rt
	return nil
}

// newAnalyser builds a motion.Analyser configured from def, wired to seg
// (which may be nil if segment=false).
func (r *Registry) newAnalyser(def *store.CameraDefinition, seg *segment.Worker) *motion.Analyser {
	return motion.New(motion.Config{
		CameraName: def.Name,
		Params: motion.Params{
			NoiseThreshold:    def.NoiseThreshold,
			MotionThreshold:   def.MotionThreshold,
			MotionMinHits:     def.MotionMinHits,
			MotionDecay:       def.MotionDecay,
			MotionHoldSeconds: def.MotionHoldSeconds,
		},
		Regions:        func() []geom.Region { return def.GeomRegions() },
		FrameW:         def.MotionFrameW,
		FrameH:         def.MotionFrameH,
		FrameScale:     def.MotionFrameScale,
		ArrowScale:     def.MotionArrowScale,
		ArrowThickness: def.MotionArrowThickness,
		SegmentWorker:  seg,
		Exporter:       r.exporter,
		OutputDir:      filepath.Join(r.mediaRoot, def.Name),
		OutputExt:      def.VideoOutputFormat,
	})
}

// SetMotionEnabled toggles motion analysis for an already-registered,
// running camera (POST /toggle_motion, /motion_on, /motion_off).
func (r *Registry) SetMotionEnabled(name string, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.st.Get(name)
	if !ok {
		return ErrCameraNotFound
	}
	def.MotionFrame = on
	rt, hasRuntime := r.runtimes[name]
	if hasRuntime {
		if on && rt.analyser == nil {
			rt.analyser = r.newAnalyser(def, rt.seg)
			rt.analyser.Start(rt.graph.FrameSource())
		} else if !on && rt.analyser != nil {
			rt.analyser.Stop()
			rt.analyser = nil
		}
	}
	return r.st.Save()
}

// SetSegmentRecording toggles the rolling segment ring for an
// already-registered, running camera (POST /toggle_segment). Changing this
// requires rebuilding the media graph's segment-writer subprocess.
func (r *Registry) SetSegmentRecording(name string, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.st.Get(name)
	if !ok {
		return ErrCameraNotFound
	}
	def.Segment = on
	rt, hasRuntime := r.runtimes[name]
	if hasRuntime {
		if rt.seg != nil {
			rt.seg.Stop()
			rt.seg = nil
		}
		wasRecording := def.Recording
		if rt.graph != nil {
			rt.graph.Stop()
		}
		segDir := filepath.Join(r.mediaRoot, def.Name, "tmp")
		graph, err := media.Build(media.Params{
			CameraName: def.Name, URI: def.URI,
			Audio:        media.AudioHint{HasAudio: def.Audio.HasAudio, Encoding: def.Audio.Encoding, SampleRate: def.Audio.SampleRate, Channels: def.Audio.Channels},
			MotionW:      def.MotionFrameW, MotionH: def.MotionFrameH,
			SegmentDir: segDir, SegmentExt: def.VideoOutputFormat,
			SegmentSecs: r.settings.SegmentMaxSizeSecs(), SegmentFiles: r.settings.SegmentMaxFiles(),
			SegmentBR: def.SegmentBitrate, SegmentSpeed: def.SegmentSpeedPreset,
			RecordSeg: on,
		})
		if err != nil {
			return fmt.Errorf("rebuild media graph: %w", err)
		}
		if on {
			rt.seg = segment.New(def.Name, segDir, def.VideoOutputFormat, time.Duration(r.settings.ScanIntervalMillis())*time.Millisecond, r.settings.MaxRetainedSegments())
			if err := rt.seg.Start(); err != nil {
				return fmt.Errorf("start segment worker: %w", err)
			}
		}
		rt.graph = graph
		if err := rt.graph.Start(); err != nil {
			return fmt.Errorf("start media graph: %w", err)
		}
		if rt.analyser != nil {
			rt.analyser.Stop()
			rt.analyser = r.newAnalyser(def, rt.seg)
			rt.analyser.Start(rt.graph.FrameSource())
		}
		if wasRecording && def.RecordingFile != "" {
			if err := rt.graph.SetFullRecording(true, def.RecordingFile); err != nil {
				return fmt.Errorf("resume full recording: %w", err)
			}
		}
	}
	return r.st.Save()
}

// SetRecording toggles full-session recording to a single named file for an
// already-registered, running camera (POST /record_on, /record_off) — the
// spec-distinct counterpart to SetSegmentRecording's rolling ring. file is
// the output path and is required when turning recording on; it is ignored
// when turning it off.
func (r *Registry) SetRecording(name string, on bool, file string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.st.Get(name)
	if !ok {
		return ErrCameraNotFound
	}
	if on && file == "" {
		return fmt.Errorf("recording file is required")
	}

	rt, hasRuntime := r.runtimes[name]
	if hasRuntime && rt.graph != nil {
		if err := rt.graph.SetFullRecording(on, file); err != nil {
			return err
		}
	}

	def.Recording = on
	if on {
		def.RecordingFile = file
	} else {
		def.RecordingFile = ""
	}
	return r.st.Save()
}

// SetOverlay toggles the overlay flag on the definition and persists it.
// Only the stored flag changes: neither the running analyser nor a rebuilt
// one reads Overlay.
func (r *Registry) SetOverlay(name string, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.st.Get(name)
	if !ok {
		return ErrCameraNotFound
	}
	def.Overlay = on
	return r.st.Save()
}

// StartWebRTCEgress lazily starts name's optional WebRTC egress track, fed
// from its current upstream URI. Safe to call repeatedly.
func (r *Registry) StartWebRTCEgress(name string) error {
	def, ok := r.st.Get(name)
	if !ok {
		return ErrCameraNotFound
	}
	return r.proxy.WebRTC().Start(name, def.URI)
}

// WebRTCSignaling drives one browser's SDP/ICE exchange for name's egress
// track, blocking until conn closes.
func (r *Registry) WebRTCSignaling(name string, conn *websocket.Conn) error {
	return r.proxy.WebRTC().HandleSignaling(name, conn)
}

// teardownPartial unwinds whatever rt has already started, used when
// materialize fails partway through.
func (r *Registry) teardownPartial(name string, rt *runtime) {
	if rt.analyser != nil {
		rt.analyser.Stop()
	}
	if rt.seg != nil {
		rt.seg.Stop()
	}
	if rt.graph != nil {
		rt.graph.Stop()
	}
	if def, ok := r.st.Get(name); ok && (def.Live555Proxy || def.GstreamerProxy) {
		_ = r.proxy.RemoveMount(name)
	}
}

// Remove stops and unregisters name. Idempotent.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.runtimes[name]
	if ok {
		if rt.analyser != nil {
			rt.analyser.Stop()
		}
		if rt.seg != nil {
			rt.seg.Stop()
		}
		if rt.graph != nil {
			rt.graph.Stop()
		}
		delete(r.runtimes, name)
	}

	if def, exists := r.st.Get(name); exists && (def.Live555Proxy || def.GstreamerProxy) {
		if err := r.proxy.RemoveMount(name); err != nil && err != rtspproxy.ErrNotFound {
			log.Printf("remove mount for %q: %v", name, err)
		}
	}
	r.proxy.WebRTC().Stop(name)

	return r.st.Remove(name)
}

// Get returns the camera definition for name.
func (r *Registry) Get(name string) (*store.CameraDefinition, bool) {
	return r.st.Get(name)
}

// List returns all camera definitions.
func (r *Registry) List() []*store.CameraDefinition {
	return r.st.List()
}

// LastMotionFrame returns the most recent annotated JPEG frame for name,
// for the HTTP /motion_frame endpoint.
func (r *Registry) LastMotionFrame(name string) ([]byte, bool) {
	r.mu.Lock()
	rt, ok := r.runtimes[name]
	r.mu.Unlock()
	if !ok || rt.analyser == nil {
		return nil, false
	}
	return rt.analyser.LastFrameJPEG()
}

// AddMotionRegion delegates to the camera's definition, assigning a
// monotonic per-camera id, and persists the change.
func (r *Registry) AddMotionRegion(name string, rect geom.Rect, angle float64) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.st.Get(name)
	if !ok {
		return 0, ErrCameraNotFound
	}
	id := def.NextRegionID()
	def.Regions = append(def.Regions, store.Region{ID: id, X: rect.X, Y: rect.Y, W: rect.W, H: rect.H, AngleDeg: angle})
	return id, r.st.Save()
}

// RemoveMotionRegion deletes regionID from name's region set.
func (r *Registry) RemoveMotionRegion(name string, regionID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.st.Get(name)
	if !ok {
		return ErrCameraNotFound
	}
	for i, reg := range def.Regions {
		if reg.ID == regionID {
			def.Regions = append(def.Regions[:i], def.Regions[i+1:]...)
			return r.st.Save()
		}
	}
	return ErrRegionNotFound
}

// ClearMotionRegions empties name's region set; idempotent.
func (r *Registry) ClearMotionRegions(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.st.Get(name)
	if !ok {
		return ErrCameraNotFound
	}
	def.Regions = nil
	return r.st.Save()
}

// StopAll tears down every camera's runtime, used on shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, rt := range r.runtimes {
		if rt.analyser != nil {
			rt.analyser.Stop()
		}
		if rt.seg != nil {
			rt.seg.Stop()
		}
		if rt.graph != nil {
			rt.graph.Stop()
		}
		delete(r.runtimes, name)
	}
}
