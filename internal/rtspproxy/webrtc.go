// WebRTC egress: a supplemental viewer path alongside the RTSP mounts, for
// browsers that cannot speak RTSP directly. It runs independently of the
// Relay/Reencode mount variants — any registered camera can additionally
// expose a WebRTC track, fed by its own ffmpeg VP8 encode rather than by
// re-muxing the RTSP mount.
package rtspproxy

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/ciptacoding/nvr-core/internal/logx"
)

var webrtcLog = logx.New("WebRTC")

// signalingMessage is the SDP/ICE envelope exchanged with a browser peer
// over the websocket signaling connection.
type signalingMessage struct {
	Type      string          `json:"type"`
	CameraName string         `json:"camera_name"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type webrtcStream struct {
	mu         sync.RWMutex
	name       string
	sourceURI  string
	active     bool
	videoTrack *webrtc.TrackLocalStaticSample
	peers      map[string]*webrtc.PeerConnection
	cmd        *exec.Cmd
}

// WebRTCEgress owns the pion API instance and the set of per-camera VP8
// tracks. It is a separate concern from Proxy's RTSP mounts, but shares the
// same lifecycle (constructed once, torn down on camera removal).
type WebRTCEgress struct {
	mu      sync.Mutex
	api     *webrtc.API
	streams map[string]*webrtcStream
}

// NewWebRTCEgress builds the pion API with the VP8/Opus codecs registered.
func NewWebRTCEgress() *WebRTCEgress {
	me := &webrtc.MediaEngine{}
	_ = me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		PayloadType:        96,
	}, webrtc.RTPCodecTypeVideo)
	_ = me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		PayloadType:        111,
	}, webrtc.RTPCodecTypeAudio)

	return &WebRTCEgress{
		api:     webrtc.NewAPI(webrtc.WithMediaEngine(me)),
		streams: map[string]*webrtcStream{},
	}
}

// Start launches the VP8 encode subprocess for name, reading sourceURI.
// A second Start call while already active is a no-op.
func (e *WebRTCEgress) Start(name, sourceURI string) error {
	e.mu.Lock()
	if s, ok := e.streams[name]; ok && s.active {
		e.mu.Unlock()
		return nil
	}
	s := &webrtcStream{name: name, sourceURI: sourceURI, peers: map[string]*webrtc.PeerConnection{}}
	e.streams[name] = s
	e.mu.Unlock()

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "cam-"+name)
	if err != nil {
		return fmt.Errorf("create video track: %w", err)
	}
	s.mu.Lock()
	s.videoTrack = track
	s.mu.Unlock()

	cmd := exec.Command("ffmpeg",
		"-loglevel", "warning",
		"-rtsp_transport", "tcp",
		"-i", sourceURI,
		"-c:v", "libvpx",
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-b:v", "1M",
		"-maxrate", "1M",
		"-bufsize", "2M",
		"-g", "30",
		"-keyint_min", "30",
		"-f", "ivf",
		"-",
	)
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start vp8 encoder: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.active = true
	s.mu.Unlock()

	go readIVFFrames(stdout, track, name)
	go func() {
		_ = cmd.Wait()
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}()

	webrtcLog.Printf("%s: egress started (%s)", name, sourceURI)
	return nil
}

// readIVFFrames demuxes ffmpeg's IVF/VP8 stdout into WebRTC samples, paced
// to 30fps.
func readIVFFrames(stdout io.Reader, track *webrtc.TrackLocalStaticSample, name string) {
	r := bufio.NewReader(stdout)
	header := make([]byte, 32)
	if _, err := io.ReadFull(r, header); err != nil {
		webrtcLog.Printf("%s: read ivf header: %v", name, err)
		return
	}
	if string(header[0:4]) != "DKIF" {
		webrtcLog.Printf("%s: not an ivf stream", name)
		return
	}

	const frameDuration = 33_333_333 * time.Nanosecond
	last := time.Now()
	// Each IVF frame header is 12 bytes: a 4-byte little-endian frame size
	// followed by an 8-byte timestamp, which pacing here does not use.
	frameHeader := make([]byte, 12)
	for {
		if _, err := io.ReadFull(r, frameHeader); err != nil {
			return
		}
		size := uint32(frameHeader[0]) | uint32(frameHeader[1])<<8 | uint32(frameHeader[2])<<16 | uint32(frameHeader[3])<<24
		if size == 0 {
			continue
		}
		frame := make([]byte, size)
		if _, err := io.ReadFull(r, frame); err != nil {
			return
		}

		now := time.Now()
		if elapsed := now.Sub(last); elapsed < frameDuration {
			time.Sleep(frameDuration - elapsed)
		}
		_ = track.WriteSample(media.Sample{Data: frame, Duration: frameDuration})
		last = time.Now()
	}
}

// HandleSignaling drives one browser's SDP offer/answer/ICE exchange over
// conn for name's egress track. name must already have Start called.
func (e *WebRTCEgress) HandleSignaling(name string, conn *websocket.Conn) error {
	defer conn.Close()

	e.mu.Lock()
	s, ok := e.streams[name]
	e.mu.Unlock()
	if !ok {
		return conn.WriteJSON(map[string]string{"error": "egress not started for camera"})
	}

	for i := 0; i < 10; i++ {
		s.mu.RLock()
		ready := s.active && s.videoTrack != nil
		s.mu.RUnlock()
		if ready {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	pc, err := e.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		return conn.WriteJSON(map[string]string{"error": fmt.Sprintf("new peer connection: %v", err)})
	}
	defer pc.Close()

	connID := fmt.Sprintf("%p", conn)
	s.mu.Lock()
	s.peers[connID] = pc
	track := s.videoTrack
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.peers, connID)
		s.mu.Unlock()
	}()

	if track == nil {
		return conn.WriteJSON(map[string]string{"error": "video track not ready"})
	}
	if _, err := pc.AddTrack(track); err != nil {
		return conn.WriteJSON(map[string]string{"error": fmt.Sprintf("add track: %v", err)})
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		_ = conn.WriteJSON(map[string]any{"type": "ice-candidate", "candidate": c.ToJSON()})
	})

	for {
		var msg signalingMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return nil
		}
		switch msg.Type {
		case "offer":
			if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}); err != nil {
				_ = conn.WriteJSON(map[string]string{"error": err.Error()})
				continue
			}
			answer, err := pc.CreateAnswer(nil)
			if err != nil {
				_ = conn.WriteJSON(map[string]string{"error": err.Error()})
				continue
			}
			if err := pc.SetLocalDescription(answer); err != nil {
				_ = conn.WriteJSON(map[string]string{"error": err.Error()})
				continue
			}
			_ = conn.WriteJSON(map[string]string{"type": "answer", "sdp": answer.SDP})
		case "ice-candidate":
			var cand webrtc.ICECandidateInit
			if err := json.Unmarshal(msg.Candidate, &cand); err == nil {
				_ = pc.AddICECandidate(cand)
			}
		}
	}
}

// Stop kills name's encode subprocess and closes every peer connection.
func (e *WebRTCEgress) Stop(name string) {
	e.mu.Lock()
	s, ok := e.streams[name]
	delete(e.streams, name)
	e.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	for _, pc := range s.peers {
		pc.Close()
	}
	s.mu.Unlock()
}
