package config

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/ciptacoding/nvr-core/internal/logx"
)

var log = logx.New("Settings")

// Defaults holds the compiled-in fallback values. Every field here has a
// corresponding key in the Settings JSON file; a missing key falls back to
// the value below.
var Defaults = struct {
	SegmentSpeedPreset  string
	SegmentBitrate      int
	ProxySpeedPreset    string
	ProxyBitrate        int
	MotionFrameW        int
	MotionFrameH        int
	MotionFrameScale    float64
	NoiseThreshold      float64
	MotionThreshold     float64
	MotionMinHits       int
	MotionDecay         int
	MotionArrowScale    float64
	MotionArrowThick    int
	MotionHoldSeconds   float64
	VideoOutputFormat   string
	LiveRTSPProxyPort   int
	SegmentMaxSizeSecs  int
	SegmentMaxFiles     int
	ScanIntervalMillis  int
	MaxRetainedSegments int
}{
	SegmentSpeedPreset:  "veryfast",
	SegmentBitrate:      2000,
	ProxySpeedPreset:    "superfast",
	ProxyBitrate:        2000,
	MotionFrameW:        0,
	MotionFrameH:        0,
	MotionFrameScale:    1.0,
	NoiseThreshold:      1.0,
	MotionThreshold:     10.0,
	MotionMinHits:       3,
	MotionDecay:         1,
	MotionArrowScale:    2.5,
	MotionArrowThick:    1,
	MotionHoldSeconds:   5,
	VideoOutputFormat:   "mkv",
	LiveRTSPProxyPort:   8554,
	SegmentMaxSizeSecs:  10,
	SegmentMaxFiles:     3,
	ScanIntervalMillis:  500,
	MaxRetainedSegments: 65,
}

// Settings is a flat JSON-file-backed key/value store. Reads return the
// stored value or the compiled default; writes persist immediately. It is
// not hot-watched: a change only affects cameras created after the write.
type Settings struct {
	mu   sync.Mutex
	path string
	vals map[string]any
}

// NewSettings loads path if it exists, or starts empty (all reads fall back
// to Defaults) if it does not.
func NewSettings(path string) *Settings {
	s := &Settings{path: path, vals: map[string]any{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("read %s: %v", path, err)
		}
		return s
	}
	if err := json.Unmarshal(data, &s.vals); err != nil {
		log.Printf("parse %s: %v", path, err)
		s.vals = map[string]any{}
	}
	return s
}

func (s *Settings) getString(key, def string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.vals[key]; ok {
		if sv, ok := v.(string); ok {
			return sv
		}
	}
	return def
}

func (s *Settings) getFloat(key string, def float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.vals[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

func (s *Settings) getInt(key string, def int) int {
	return int(s.getFloat(key, float64(def)))
}

// Set stores key = value and persists the store immediately.
func (s *Settings) Set(key string, value any) error {
	s.mu.Lock()
	s.vals[key] = value
	data, err := json.MarshalIndent(s.vals, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// Typed accessors, one per configurable knob, falling back to Defaults.

func (s *Settings) SegmentSpeedPreset() string { return s.getString("segment_speed_preset", Defaults.SegmentSpeedPreset) }
func (s *Settings) SegmentBitrate() int        { return s.getInt("segment_bitrate", Defaults.SegmentBitrate) }
func (s *Settings) ProxySpeedPreset() string   { return s.getString("proxy_speed_preset", Defaults.ProxySpeedPreset) }
func (s *Settings) ProxyBitrate() int          { return s.getInt("proxy_bitrate", Defaults.ProxyBitrate) }
func (s *Settings) MotionFrameW() int          { return s.getInt("motion_frame_w", Defaults.MotionFrameW) }
func (s *Settings) MotionFrameH() int          { return s.getInt("motion_frame_h", Defaults.MotionFrameH) }
func (s *Settings) MotionFrameScale() float64  { return s.getFloat("motion_frame_scale", Defaults.MotionFrameScale) }
func (s *Settings) NoiseThreshold() float64    { return s.getFloat("noise_threshold", Defaults.NoiseThreshold) }
func (s *Settings) MotionThreshold() float64   { return s.getFloat("motion_threshold", Defaults.MotionThreshold) }
func (s *Settings) MotionMinHits() int         { return s.getInt("motion_min_hits", Defaults.MotionMinHits) }
func (s *Settings) MotionDecay() int           { return s.getInt("motion_decay", Defaults.MotionDecay) }
func (s *Settings) MotionArrowScale() float64  { return s.getFloat("motion_arrow_scale", Defaults.MotionArrowScale) }
func (s *Settings) MotionArrowThickness() int  { return s.getInt("motion_arrow_thickness", Defaults.MotionArrowThick) }
func (s *Settings) MotionHoldSeconds() float64 { return s.getFloat("motion_hold_seconds", Defaults.MotionHoldSeconds) }
func (s *Settings) VideoOutputFormat() string  { return s.getString("video_output_format", Defaults.VideoOutputFormat) }
func (s *Settings) LiveRTSPProxyPort() int     { return s.getInt("live_rtsp_proxy_port", Defaults.LiveRTSPProxyPort) }
func (s *Settings) SegmentMaxSizeSecs() int    { return s.getInt("segment_max_size_secs", Defaults.SegmentMaxSizeSecs) }
func (s *Settings) SegmentMaxFiles() int       { return s.getInt("segment_max_files", Defaults.SegmentMaxFiles) }
func (s *Settings) ScanIntervalMillis() int    { return s.getInt("scan_interval_ms", Defaults.ScanIntervalMillis) }
func (s *Settings) MaxRetainedSegments() int   { return s.getInt("max_retained_segments", Defaults.MaxRetainedSegments) }
