// Package store owns the Camera Definition type and its JSON persistence
// (cameras.json): atomic write-then-rename, per-entry skip-on-parse-failure.
package store

import "github.com/ciptacoding/nvr-core/internal/geom"

// AudioHint is the cached result of an RTSP DESCRIBE audio probe, stored on
// the definition so restarts do not re-probe.
type AudioHint struct {
	HasAudio   bool   `json:"has_audio"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Probed     bool   `json:"probed"`
}

// Region is the JSON-serializable form of a motion region; ToGeom converts
// it to the pure-geometry type used for containment tests.
type Region struct {
	ID       uint32  `json:"id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	W        float64 `json:"w"`
	H        float64 `json:"h"`
	AngleDeg float64 `json:"angle_deg"`
}

// ToGeom converts r to the pure containment-testable form.
func (r Region) ToGeom() geom.Region {
	return geom.Region{
		ID:       r.ID,
		Rect:     geom.Rect{X: r.X, Y: r.Y, W: r.W, H: r.H},
		AngleDeg: r.AngleDeg,
	}
}

// CameraDefinition is the immutable identity plus mutable policy for one
// camera.
type CameraDefinition struct {
	Name        string `json:"name"`
	URI         string `json:"uri"`
	OriginalURI string `json:"original_uri,omitempty"`

	Segment        bool   `json:"segment"`
	Recording      bool   `json:"recording"`
	RecordingFile  string `json:"recording_file,omitempty"`
	Overlay        bool   `json:"overlay"`
	MotionFrame    bool   `json:"motion_frame"`
	GstreamerProxy bool   `json:"gstreamer_proxy"`
	Live555Proxy   bool   `json:"live555_proxy"`

	SegmentBitrate     int    `json:"segment_bitrate"`
	SegmentSpeedPreset string `json:"segment_speed_preset"`
	ProxyBitrate       int    `json:"proxy_bitrate"`
	ProxySpeedPreset   string `json:"proxy_speed_preset"`

	MotionFrameW          int     `json:"motion_frame_w"`
	MotionFrameH          int     `json:"motion_frame_h"`
	MotionFrameScale      float64 `json:"motion_frame_scale"`
	NoiseThreshold        float64 `json:"noise_threshold"`
	MotionThreshold       float64 `json:"motion_threshold"`
	MotionMinHits         int     `json:"motion_min_hits"`
	MotionDecay           int     `json:"motion_decay"`
	MotionArrowScale      float64 `json:"motion_arrow_scale"`
	MotionArrowThickness  int     `json:"motion_arrow_thickness"`
	MotionHoldSeconds     float64 `json:"motion_hold_seconds"`

	VideoOutputFormat string `json:"video_output_format"`

	Audio   AudioHint `json:"audio"`
	Regions []Region  `json:"motion_regions,omitempty"`

	nextRegionID uint32
}

// NextRegionID returns a monotonic, per-camera region id starting at 1.
func (c *CameraDefinition) NextRegionID() uint32 {
	c.nextRegionID++
	return c.nextRegionID
}

// MountPoint returns the RTSP proxy mount path for this camera, used when
// live555_proxy is set.
func (c *CameraDefinition) MountPoint() string {
	return "cam/" + c.Name
}

// GeomRegions converts Regions to the pure geometry form used by the
// motion analyser's region filter.
func (c *CameraDefinition) GeomRegions() []geom.Region {
	out := make([]geom.Region, len(c.Regions))
	for i, r := range c.Regions {
		out[i] = r.ToGeom()
	}
	return out
}
