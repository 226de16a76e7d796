// Package httpapi implements the Control Plane (C7): a form-encoded HTTP
// surface over the Camera Registry, built on gin with gin-contrib/cors.
package httpapi

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ciptacoding/nvr-core/internal/config"
	"github.com/ciptacoding/nvr-core/internal/logx"
	"github.com/ciptacoding/nvr-core/internal/registry"
)

var log = logx.New("HTTP")

// Server wires the Camera Registry and Settings Store onto a gin.Engine and
// owns the shared shutdown flag polled by the process's main loop.
type Server struct {
	cfg      *config.Config
	settings *config.Settings
	reg      *registry.Registry
	engine   *gin.Engine
	httpSrv  *http.Server
	start    time.Time

	shutdown int32 // atomic bool, flipped by POST /shutdown
}

// New builds the router. Call Run to start listening.
func New(cfg *config.Config, settings *config.Settings, reg *registry.Registry) *Server {
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{cfg: cfg, settings: settings, reg: reg, start: time.Now()}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.accessLog())
	router.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool { return true },
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		MaxAge:          12 * time.Hour,
	}))
	s.routes(router)
	s.engine = router
	return s
}

// accessLog matches C7's "a single logging toggle controls per-request
// access logging" requirement (POST /toggle_logging).
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if logx.AccessLoggingEnabled() {
			log.Printf("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
		}
	}
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/health", s.handleHealth)
	r.POST("/toggle_logging", s.handleToggleLogging)
	r.POST("/shutdown", s.handleShutdown)
	r.GET("/get_cameras", s.handleGetCameras)
	r.POST("/add_camera", s.handleAddCamera)
	r.POST("/remove_camera", s.handleRemoveCamera)
	r.POST("/toggle_motion", s.handleToggleMotion)
	r.POST("/record_on", s.handleRecordOn)
	r.POST("/record_off", s.handleRecordOff)
	r.POST("/toggle_segment", s.handleToggleSegment)
	r.POST("/overlay_on", s.handleOverlayOn)
	r.POST("/overlay_off", s.handleOverlayOff)
	r.POST("/motion_on", s.handleMotionOn)
	r.POST("/motion_off", s.handleMotionOff)
	r.GET("/motion_frame", s.handleMotionFrame)
	r.GET("/ws/motion_frame", s.handleMotionFrameWS)
	r.POST("/add_motion_region", s.handleAddMotionRegion)
	r.POST("/remove_motion_region", s.handleRemoveMotionRegion)
	r.POST("/clear_motion_regions", s.handleClearMotionRegions)
	r.GET("/ws/webrtc", s.handleWebRTCSignaling)
	r.GET("/favicon.ico", func(c *gin.Context) { c.Status(http.StatusNoContent) })
}

// Run starts the HTTP server and blocks until it stops (via Shutdown or a
// listener error). A bind failure is returned rather than logged and
// ignored, since the process cannot serve the control plane without it.
func (s *Server) Run() error {
	s.httpSrv = &http.Server{
		Addr:         ":" + strconv.Itoa(s.cfg.HTTPPort),
		Handler:      s.engine,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
	log.Printf("listening on %s", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// ShutdownRequested reports whether POST /shutdown has been received.
func (s *Server) ShutdownRequested() bool {
	return atomic.LoadInt32(&s.shutdown) == 1
}

// Shutdown stops accepting new connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
