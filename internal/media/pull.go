package media

import (
	"fmt"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
)

// pulledSource is one camera's live upstream connection: a gortsplib.Client
// performing the forced-TCP DESCRIBE/SETUP/PLAY handshake, with the H.264
// video track depacketized into access units and handed to onVideoAU, and
// (when present and wanted) the audio track either passed through raw
// (G.711, whose RTP payload already is the encoded sample stream) or
// depacketized into raw AAC access units handed to onAudioAU.
type pulledSource struct {
	client *gortsplib.Client
}

// startPull connects to uri and wires its H.264 (and, if wantAudio, audio)
// media to the given callbacks, then issues PLAY. It mirrors the
// Describe/FindFormat/CreateDecoder/Setup/OnPacketRTP/Play sequence this
// package's audio prober and the RTSP proxy's relay mount already use.
func startPull(uri string, wantAudio bool, onVideoAU func(au [][]byte), onAudioAU func(payload []byte)) (*pulledSource, error) {
	u, err := base.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("parse rtsp uri: %w", err)
	}

	transport := gortsplib.TransportTCP
	client := &gortsplib.Client{Transport: &transport}
	client.OnPacketLost = func(err error) { log.Printf("packet lost: %v", err) }
	client.OnDecodeError = func(err error) { log.Printf("decode error: %v", err) }

	if err := client.Start(u.Scheme, u.Host); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	var ok bool
	defer func() {
		if !ok {
			client.Close()
		}
	}()

	desc, _, err := client.Describe(u)
	if err != nil {
		return nil, fmt.Errorf("describe: %w", err)
	}

	var vf *format.H264
	videoMedia := desc.FindFormat(&vf)
	if videoMedia == nil {
		return nil, fmt.Errorf("no h264 video media in %s", uri)
	}
	videoDec, err := vf.CreateDecoder()
	if err != nil {
		return nil, fmt.Errorf("create h264 depacketizer: %w", err)
	}
	if _, err := client.Setup(desc.BaseURL, videoMedia, 0, 0); err != nil {
		return nil, fmt.Errorf("setup video media: %w", err)
	}
	client.OnPacketRTP(videoMedia, vf, func(pkt *rtp.Packet) {
		au, err := videoDec.Decode(pkt)
		if err != nil {
			return // incomplete AU / non-starting packet: wait for more
		}
		onVideoAU(au)
	})

	if wantAudio {
		setupAudio(client, desc, onAudioAU)
	}

	if _, err := client.Play(nil); err != nil {
		return nil, fmt.Errorf("play: %w", err)
	}
	ok = true
	return &pulledSource{client: client}, nil
}

// setupAudio wires whichever audio format is present to onAudioAU. G.711's
// RTP payload is already the encoded sample stream (RFC 3551: one octet per
// sample, no RTP-level framing beyond the header), so it is forwarded as-is;
// AAC requires depacketizing RFC 3640 fragments into access units first.
// A media the probe didn't recognise as audio is silently skipped, matching
// the audio-absent shape's behaviour.
func setupAudio(client *gortsplib.Client, desc *description.Session, onAudioAU func(payload []byte)) {
	var af *format.MPEG4Audio
	if m := desc.FindFormat(&af); m != nil {
		dec, err := af.CreateDecoder()
		if err != nil {
			log.Printf("create aac depacketizer: %v", err)
			return
		}
		if _, err := client.Setup(desc.BaseURL, m, 0, 0); err != nil {
			log.Printf("setup audio media: %v", err)
			return
		}
		client.OnPacketRTP(m, af, func(pkt *rtp.Packet) {
			aus, err := dec.Decode(pkt)
			if err != nil {
				return
			}
			for _, au := range aus {
				onAudioAU(au)
			}
		})
		return
	}

	var g711f *format.G711
	if m := desc.FindFormat(&g711f); m != nil {
		if _, err := client.Setup(desc.BaseURL, m, 0, 0); err != nil {
			log.Printf("setup audio media: %v", err)
			return
		}
		client.OnPacketRTP(m, g711f, func(pkt *rtp.Packet) {
			onAudioAU(pkt.Payload)
		})
	}
}

func (s *pulledSource) Close() {
	if s.client != nil {
		s.client.Close()
	}
}
