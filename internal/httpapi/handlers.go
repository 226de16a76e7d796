package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ciptacoding/nvr-core/internal/geom"
	"github.com/ciptacoding/nvr-core/internal/logx"
	"github.com/ciptacoding/nvr-core/internal/store"
)

// handleHealth answers GET /health.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":              true,
		"http_port":       s.cfg.HTTPPort,
		"rtsp_proxy_port": s.cfg.RTSPProxyPort,
		"camera_count":    len(s.reg.List()),
		"uptime_s":        int(time.Since(s.start).Seconds()),
	})
}

// handleToggleLogging answers POST /toggle_logging. An absent `action`
// flips the current state, matching a bare toggle button; any other value
// sets it directly (truthy turns logging on, anything else turns it off).
func (s *Server) handleToggleLogging(c *gin.Context) {
	action := c.PostForm("action")
	var on bool
	switch {
	case action == "":
		on = !logx.AccessLoggingEnabled()
	default:
		on = isTruthy(action)
	}
	logx.SetAccessLogging(on)
	c.JSON(http.StatusOK, gin.H{
		"success":               true,
		"http_logging_enabled":  on,
		"message":               fmt.Sprintf("access logging %s", onOff(on)),
	})
}

// handleShutdown answers POST /shutdown: responds 200 immediately, then
// flips the shared flag the main loop polls.
func (s *Server) handleShutdown(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "shutting down"})
	go func() {
		time.Sleep(100 * time.Millisecond)
		atomic.StoreInt32(&s.shutdown, 1)
	}()
}

// handleGetCameras answers GET /get_cameras with the full camera field set.
func (s *Server) handleGetCameras(c *gin.Context) {
	out := make([]gin.H, 0)
	for _, def := range s.reg.List() {
		out = append(out, cameraToJSON(def, s.cfg.RTSPProxyPort))
	}
	c.JSON(http.StatusOK, out)
}

func cameraToJSON(def *store.CameraDefinition, rtspProxyPort int) gin.H {
	var liveProxiedPath any
	if def.Live555Proxy {
		liveProxiedPath = def.MountPoint()
	}
	return gin.H{
		"name":                    def.Name,
		"uri":                     def.URI,
		"segment":                 def.Segment,
		"recording":               def.Recording,
		"recording_file":          def.RecordingFile,
		"overlay":                 def.Overlay,
		"motion_frame":            def.MotionFrame,
		"gstreamerEncodedProxy":   def.GstreamerProxy,
		"live555Proxied":          def.Live555Proxy,
		"proxy_bitrate":           def.ProxyBitrate,
		"proxy_speed_preset":      def.ProxySpeedPreset,
		"segment_bitrate":         def.SegmentBitrate,
		"segment_speed_preset":    def.SegmentSpeedPreset,
		"motion_frame_size":       fmt.Sprintf("%dx%d", def.MotionFrameW, def.MotionFrameH),
		"motion_frame_scale":      def.MotionFrameScale,
		"noise_threshold":         def.NoiseThreshold,
		"motion_threshold":        def.MotionThreshold,
		"motion_min_hits":         def.MotionMinHits,
		"motion_decay":            def.MotionDecay,
		"motion_arrow_scale":      def.MotionArrowScale,
		"motion_arrow_thickness":  def.MotionArrowThickness,
		"video_output_format":     def.VideoOutputFormat,
		"mount_point":             def.MountPoint(),
		"has_motion_frame":        def.MotionFrame,
		"live_proxied_rtsp_path":  liveProxiedPath,
	}
}

// handleAddCamera answers POST /add_camera: parses the documented form
// parameters, falling back to Settings defaults for anything omitted.
func (s *Server) handleAddCamera(c *gin.Context) {
	name := c.PostForm("name")
	uri := c.PostForm("uri")
	if name == "" || uri == "" {
		c.String(http.StatusBadRequest, "name and uri are required")
		return
	}

	def := &store.CameraDefinition{
		Name:              name,
		URI:               uri,
		Segment:           formBool(c, "segment", false),
		Recording:         formBool(c, "recording", false),
		Overlay:           formBool(c, "overlay", false),
		MotionFrame:       formBool(c, "motion_frame", false),
		GstreamerProxy:    formBool(c, "gstreamerEncodedProxy", false),
		Live555Proxy:      formBool(c, "live555proxied", false),
		VideoOutputFormat: s.settings.VideoOutputFormat(),
	}

	var err error
	if def.SegmentBitrate, err = formInt(c, "segment_bitrate", s.settings.SegmentBitrate()); err != nil {
		c.String(http.StatusBadRequest, "segment_bitrate: %v", err)
		return
	}
	def.SegmentSpeedPreset = c.DefaultPostForm("segment_speed_preset", s.settings.SegmentSpeedPreset())
	if def.ProxyBitrate, err = formInt(c, "proxy_bitrate", s.settings.ProxyBitrate()); err != nil {
		c.String(http.StatusBadRequest, "proxy_bitrate: %v", err)
		return
	}
	def.ProxySpeedPreset = c.DefaultPostForm("proxy_speed_preset", s.settings.ProxySpeedPreset())
	if v := c.PostForm("video_output_format"); v != "" {
		def.VideoOutputFormat = v
	}

	if w, h, ok := parseFrameSize(c.PostForm("motion_frame_size")); ok {
		def.MotionFrameW, def.MotionFrameH = w, h
	} else {
		if def.MotionFrameW, err = formInt(c, "motion_frame_w", s.settings.MotionFrameW()); err != nil {
			c.String(http.StatusBadRequest, "motion_frame_w: %v", err)
			return
		}
		if def.MotionFrameH, err = formInt(c, "motion_frame_h", s.settings.MotionFrameH()); err != nil {
			c.String(http.StatusBadRequest, "motion_frame_h: %v", err)
			return
		}
	}
	if def.MotionFrameScale, err = formFloat(c, "motion_frame_scale", s.settings.MotionFrameScale()); err != nil {
		c.String(http.StatusBadRequest, "motion_frame_scale: %v", err)
		return
	}
	if def.NoiseThreshold, err = formFloat(c, "noise_threshold", s.settings.NoiseThreshold()); err != nil {
		c.String(http.StatusBadRequest, "noise_threshold: %v", err)
		return
	}
	if def.MotionThreshold, err = formFloat(c, "motion_threshold", s.settings.MotionThreshold()); err != nil {
		c.String(http.StatusBadRequest, "motion_threshold: %v", err)
		return
	}
	if def.MotionMinHits, err = formInt(c, "motion_min_hits", s.settings.MotionMinHits()); err != nil {
		c.String(http.StatusBadRequest, "motion_min_hits: %v", err)
		return
	}
	if def.MotionDecay, err = formInt(c, "motion_decay", s.settings.MotionDecay()); err != nil {
		c.String(http.StatusBadRequest, "motion_decay: %v", err)
		return
	}
	if def.MotionArrowScale, err = formFloat(c, "motion_arrow_scale", s.settings.MotionArrowScale()); err != nil {
		c.String(http.StatusBadRequest, "motion_arrow_scale: %v", err)
		return
	}
	if def.MotionArrowThickness, err = formInt(c, "motion_arrow_thickness", s.settings.MotionArrowThickness()); err != nil {
		c.String(http.StatusBadRequest, "motion_arrow_thickness: %v", err)
		return
	}
	def.MotionHoldSeconds = s.settings.MotionHoldSeconds()

	if err := s.reg.Add(def, false); err != nil {
		c.String(http.StatusBadRequest, "add_camera failed: %v", err)
		return
	}

	c.String(http.StatusOK, "Camera %q added (uri=%s)", def.Name, def.URI)
}

// handleRemoveCamera answers POST /remove_camera.
func (s *Server) handleRemoveCamera(c *gin.Context) {
	name := c.PostForm("name")
	if name == "" {
		c.String(http.StatusBadRequest, "name is required")
		return
	}
	if _, ok := s.reg.Get(name); !ok {
		c.String(http.StatusNotFound, "camera not found")
		return
	}
	if err := s.reg.Remove(name); err != nil {
		c.String(http.StatusInternalServerError, "remove failed: %v", err)
		return
	}
	c.String(http.StatusOK, "Camera removed")
}

// handleToggleMotion answers POST /toggle_motion.
func (s *Server) handleToggleMotion(c *gin.Context) {
	name := c.PostForm("name")
	value := c.PostForm("value")
	if name == "" || value == "" {
		c.String(http.StatusBadRequest, "name and value are required")
		return
	}
	on := isTruthy(value)
	if err := s.reg.SetMotionEnabled(name, on); err != nil {
		writeCameraErr(c, err)
		return
	}
	c.String(http.StatusOK, "motion_frame set to %v for %q", on, name)
}

// handleRecordOn answers POST /record_on: starts a full-session recording
// to the given file, distinct from the rolling segment ring toggled by
// /toggle_segment.
func (s *Server) handleRecordOn(c *gin.Context) {
	name := c.PostForm("name")
	file := c.PostForm("file")
	if name == "" {
		c.String(http.StatusBadRequest, "name is required")
		return
	}
	if file == "" {
		c.String(http.StatusBadRequest, "file is required")
		return
	}
	if err := s.reg.SetRecording(name, true, file); err != nil {
		writeCameraErr(c, err)
		return
	}
	c.String(http.StatusOK, "recording to %q started for %q", file, name)
}

func (s *Server) handleRecordOff(c *gin.Context) {
	name := c.PostForm("name")
	if name == "" {
		c.String(http.StatusBadRequest, "name is required")
		return
	}
	if err := s.reg.SetRecording(name, false, ""); err != nil {
		writeCameraErr(c, err)
		return
	}
	c.String(http.StatusOK, "recording stopped for %q", name)
}

// handleToggleSegment answers POST /toggle_segment: flips the rolling
// re-encoded segment ring, independent of the full-file recording toggled
// by /record_on and /record_off.
func (s *Server) handleToggleSegment(c *gin.Context) {
	name := c.PostForm("name")
	value := c.PostForm("value")
	if name == "" || value == "" {
		c.String(http.StatusBadRequest, "name and value are required")
		return
	}
	on := isTruthy(value)
	if err := s.reg.SetSegmentRecording(name, on); err != nil {
		writeCameraErr(c, err)
		return
	}
	c.String(http.StatusOK, "segment recording set to %v for %q", on, name)
}

func (s *Server) handleOverlayOn(c *gin.Context)  { s.setOverlay(c, true) }
func (s *Server) handleOverlayOff(c *gin.Context) { s.setOverlay(c, false) }

func (s *Server) setOverlay(c *gin.Context, on bool) {
	name := c.PostForm("name")
	if name == "" {
		c.String(http.StatusBadRequest, "name is required")
		return
	}
	if err := s.reg.SetOverlay(name, on); err != nil {
		writeCameraErr(c, err)
		return
	}
	c.String(http.StatusOK, "overlay set to %v for %q", on, name)
}

func (s *Server) handleMotionOn(c *gin.Context) {
	name := c.PostForm("name")
	if name == "" {
		c.String(http.StatusBadRequest, "name is required")
		return
	}
	if err := s.reg.SetMotionEnabled(name, true); err != nil {
		writeCameraErr(c, err)
		return
	}
	c.String(http.StatusOK, "motion analysis started for %q", name)
}

func (s *Server) handleMotionOff(c *gin.Context) {
	name := c.PostForm("name")
	if name == "" {
		c.String(http.StatusBadRequest, "name is required")
		return
	}
	if err := s.reg.SetMotionEnabled(name, false); err != nil {
		writeCameraErr(c, err)
		return
	}
	c.String(http.StatusOK, "motion analysis stopped for %q", name)
}

// handleMotionFrame answers GET /motion_frame?name=…, the polled JPEG
// endpoint.
func (s *Server) handleMotionFrame(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.String(http.StatusBadRequest, "name is required")
		return
	}
	frame, ok := s.reg.LastMotionFrame(name)
	if !ok {
		c.String(http.StatusNotFound, "no frame available for %q", name)
		return
	}
	c.Data(http.StatusOK, "image/jpeg", frame)
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleMotionFrameWS is the live-push companion to /motion_frame: pushes
// each new annotated frame to the browser instead of requiring it to poll.
func (s *Server) handleMotionFrameWS(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.String(http.StatusBadRequest, "name is required")
		return
	}
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("motion_frame ws upgrade: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	var last []byte
	for range ticker.C {
		frame, ok := s.reg.LastMotionFrame(name)
		if !ok || bytes.Equal(frame, last) {
			continue
		}
		last = frame
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return
		}
	}
}

// handleWebRTCSignaling is the supplemental WebRTC viewer path: it starts
// the camera's egress track on first use and then drives SDP/ICE
// signaling over the websocket connection.
func (s *Server) handleWebRTCSignaling(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.String(http.StatusBadRequest, "name is required")
		return
	}
	if err := s.reg.StartWebRTCEgress(name); err != nil {
		writeCameraErr(c, err)
		return
	}
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("webrtc ws upgrade: %v", err)
		return
	}
	if err := s.reg.WebRTCSignaling(name, conn); err != nil {
		log.Printf("webrtc signaling for %q: %v", name, err)
	}
}

// handleAddMotionRegion answers POST /add_motion_region.
func (s *Server) handleAddMotionRegion(c *gin.Context) {
	name := c.PostForm("name")
	if name == "" {
		c.String(http.StatusBadRequest, "name is required")
		return
	}
	x, errX := strconv.ParseFloat(c.PostForm("x"), 64)
	y, errY := strconv.ParseFloat(c.PostForm("y"), 64)
	w, errW := strconv.ParseFloat(c.PostForm("w"), 64)
	h, errH := strconv.ParseFloat(c.PostForm("h"), 64)
	if errX != nil || errY != nil || errW != nil || errH != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "x, y, w, h must be numeric"})
		return
	}
	angle := 0.0
	if a := c.PostForm("angle"); a != "" {
		var err error
		if angle, err = strconv.ParseFloat(a, 64); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "angle must be numeric"})
			return
		}
	}

	id, err := s.reg.AddMotionRegion(name, geom.Rect{X: x, Y: y, W: w, H: h}, angle)
	if err != nil {
		writeCameraErrJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "region_id": id, "angle": angle, "message": "region added"})
}

// handleRemoveMotionRegion answers POST /remove_motion_region.
func (s *Server) handleRemoveMotionRegion(c *gin.Context) {
	name := c.PostForm("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "name is required"})
		return
	}
	idStr := c.PostForm("region_id")
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "region_id must be numeric"})
		return
	}
	if err := s.reg.RemoveMotionRegion(name, uint32(id)); err != nil {
		writeCameraErrJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "region removed"})
}

// handleClearMotionRegions answers POST /clear_motion_regions.
func (s *Server) handleClearMotionRegions(c *gin.Context) {
	name := c.PostForm("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "name is required"})
		return
	}
	if err := s.reg.ClearMotionRegions(name); err != nil {
		writeCameraErrJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "regions cleared"})
}

func writeCameraErr(c *gin.Context, err error) {
	c.String(http.StatusNotFound, "%v", err)
}

func writeCameraErrJSON(c *gin.Context, err error) {
	c.JSON(http.StatusNotFound, gin.H{"success": false, "message": err.Error()})
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on":
		return true
	default:
		return false
	}
}

func onOff(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

func formBool(c *gin.Context, key string, def bool) bool {
	v := c.PostForm(key)
	if v == "" {
		return def
	}
	return isTruthy(v)
}

func formInt(c *gin.Context, key string, def int) (int, error) {
	v := c.PostForm(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func formFloat(c *gin.Context, key string, def float64) (float64, error) {
	v := c.PostForm(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	return f, nil
}

// parseFrameSize parses "WxH" into integer w,h. ok is false if s is empty
// or malformed.
func parseFrameSize(s string) (w, h int, ok bool) {
	if s == "" {
		return 0, 0, false
	}
	parts := strings.SplitN(strings.ToLower(s), "x", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	wi, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	hi, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return wi, hi, true
}
