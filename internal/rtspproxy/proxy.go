// Package rtspproxy implements the RTSP Proxy (C5): it republishes one or
// more upstream RTSP sources as local mount points
// (rtsp://host:port/cam/<name>) shared across many viewers. Two mount
// variants exist:
//   - Relay: a gortsplib.Client bridges upstream RTP packets straight into
//     the corresponding ServerStream, forced to TCP upstream, one upstream
//     connection per mount.
//   - Reencode: a local ffmpeg subprocess opens its own connection to the
//     camera's upstream URI (it does not read the media graph's decoded
//     tap), re-encodes it to H.264 and RECORDs it into the same mount path,
//     expressed as a local publisher rather than a hand-rolled RTP
//     payloader — mirroring the publish/subscribe architecture of a source
//     that RECORDs while readers PLAY.
package rtspproxy

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/pion/rtp"

	"github.com/ciptacoding/nvr-core/internal/logx"
)

var log = logx.New("Proxy")

// Variant tags a mount's delivery style.
type Variant int

const (
	Relay Variant = iota
	Reencode
)

// ErrAlreadyExists is returned by AddRelayMount and AddReencodeMount for a
// duplicate name.
var ErrAlreadyExists = errors.New("mount already exists")

// ErrNotFound is returned by RemoveMount for an unknown name.
var ErrNotFound = errors.New("mount not found")

type mount struct {
	name    string
	variant Variant

	// stream is nil for a Reencode mount until OnAnnounce learns the
	// publisher's actual media description; Relay mounts set it once, at
	// construction, since the upstream DESCRIBE already has it.
	mu     sync.Mutex
	stream *gortsplib.ServerStream

	relayClient *gortsplib.Client
	encodeCmd   *exec.Cmd
}

func (m *mount) setStream(s *gortsplib.ServerStream) {
	m.mu.Lock()
	m.stream = s
	m.mu.Unlock()
}

func (m *mount) getStream() *gortsplib.ServerStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

// Proxy owns the single gortsplib.Server and the mount registry. All
// mutation is serialised by mu; the server itself runs its own internal
// event-loop goroutines.
type Proxy struct {
	mu      sync.Mutex
	port    int
	server  *gortsplib.Server
	mounts  map[string]*mount
	started bool

	webrtc *WebRTCEgress
}

// New constructs a Proxy bound to port; it is not started until the first
// mount is added (lazy start).
func New(port int) *Proxy {
	return &Proxy{port: port, mounts: map[string]*mount{}, webrtc: NewWebRTCEgress()}
}

// WebRTC exposes the optional WebRTC egress path, a supplemental viewer
// surface alongside the RTSP mounts (see webrtc.go).
func (p *Proxy) WebRTC() *WebRTCEgress { return p.webrtc }

// ensureStarted lazily starts the gortsplib server on first use. Caller
// must hold mu.
func (p *Proxy) ensureStarted() error {
	if p.started {
		return nil
	}
	srv := &gortsplib.Server{
		Handler:     &handler{p: p},
		RTSPAddress: fmt.Sprintf(":%d", p.port),
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("bind rtsp proxy port %d: %w", p.port, err)
	}
	p.server = srv
	p.started = true
	log.Printf("started on port %d", p.port)
	return nil
}

// maybeStop stops the server once the last mount is removed. Caller must
// hold mu.
func (p *Proxy) maybeStop() {
	if len(p.mounts) != 0 || !p.started {
		return
	}
	p.server.Close()
	p.server = nil
	p.started = false
	log.Printf("stopped (no mounts remain)")
}

// AddRelayMount bridges upstreamURI into a new mount named cam/<name>,
// forcing the backend RTP transport to TCP.
func (p *Proxy) AddRelayMount(name, upstreamURI string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	path := "cam/" + name
	if _, ok := p.mounts[path]; ok {
		return ErrAlreadyExists
	}
	if err := p.ensureStarted(); err != nil {
		return err
	}

	u, err := base.ParseURL(upstreamURI)
	if err != nil {
		return fmt.Errorf("parse upstream uri: %w", err)
	}
	transport := gortsplib.TransportTCP
	client := &gortsplib.Client{Transport: &transport}
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return fmt.Errorf("connect upstream: %w", err)
	}
	desc, _, err := client.Describe(u)
	if err != nil {
		client.Close()
		return fmt.Errorf("describe upstream: %w", err)
	}

	stream := &gortsplib.ServerStream{Server: p.server, Desc: desc}
	if err := stream.Initialize(); err != nil {
		client.Close()
		return fmt.Errorf("initialize stream: %w", err)
	}

	if err := client.SetupAll(desc.BaseURL, desc.Medias); err != nil {
		stream.Close()
		client.Close()
		return fmt.Errorf("setup upstream medias: %w", err)
	}
	for _, media := range desc.Medias {
		for _, f := range media.Formats {
			media := media
			client.OnPacketRTP(media, f, func(pkt *rtp.Packet) {
				// Passthrough: write the upstream packet straight to our
				// own stream on the matching media, no re-encoding.
				stream.WritePacketRTP(media, pkt)
			})
		}
	}
	if _, err := client.Play(nil); err != nil {
		stream.Close()
		client.Close()
		return fmt.Errorf("play upstream: %w", err)
	}

	m := &mount{name: name, variant: Relay, relayClient: client}
	m.setStream(stream)
	p.mounts[path] = m
	log.Printf("relay mount %s -> %s", path, upstreamURI)
	return nil
}

// AddReencodeMount publishes a locally re-encoded H.264 stream under
// cam/<name>. sourceURI is the same upstream the camera's media graph
// already pulls from; bitrate/preset match the camera's proxy_bitrate /
// proxy_speed_preset.
func (p *Proxy) AddReencodeMount(name, sourceURI string, bitrate int, preset string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	path := "cam/" + name
	if _, ok := p.mounts[path]; ok {
		return ErrAlreadyExists
	}
	if err := p.ensureStarted(); err != nil {
		return err
	}

	localURL := fmt.Sprintf("rtsp://127.0.0.1:%d/%s", p.port, path)
	cmd := exec.Command("ffmpeg",
		"-loglevel", "error",
		"-rtsp_transport", "tcp",
		"-i", sourceURI,
		"-c:v", "libx264",
		"-preset", preset,
		"-b:v", fmt.Sprintf("%dk", bitrate),
		"-f", "rtsp",
		"-rtsp_transport", "tcp",
		localURL,
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start re-encode publisher: %w", err)
	}

	// stream stays nil until OnAnnounce learns the publisher's real media
	// description; OnDescribe/OnSetup report NotFound for readers that race
	// ahead of the local ffmpeg's ANNOUNCE.
	p.mounts[path] = &mount{name: name, variant: Reencode, encodeCmd: cmd}
	log.Printf("reencode mount %s <- %s", path, sourceURI)
	return nil
}

// RemoveMount tears down name's mount, closing client sessions before
// freeing the stream object, matching the original's scheduled
// removeStreamTask.
func (p *Proxy) RemoveMount(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	path := "cam/" + name
	m, ok := p.mounts[path]
	if !ok {
		return ErrNotFound
	}
	delete(p.mounts, path)

	if m.relayClient != nil {
		m.relayClient.Close()
	}
	if m.encodeCmd != nil && m.encodeCmd.Process != nil {
		_ = m.encodeCmd.Process.Kill()
	}
	if stream := m.getStream(); stream != nil {
		stream.Close()
	}

	p.maybeStop()
	log.Printf("removed mount %s", path)
	return nil
}

// MountCount reports the number of active mounts.
func (p *Proxy) MountCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.mounts)
}

// Running reports whether the server is currently listening.
func (p *Proxy) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// handler implements gortsplib.ServerHandler, routing PLAY/DESCRIBE/SETUP
// requests to the mount matching the request path.
type handler struct{ p *Proxy }

func (h *handler) mountFor(path string) (*mount, bool) {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	m, ok := h.p.mounts[path]
	return m, ok
}
