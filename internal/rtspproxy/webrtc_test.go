package rtspproxy

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
)

// buildIVF assembles a minimal IVF stream (32-byte DKIF header followed by
// frames, each behind a 12-byte size+timestamp header) for exercising
// readIVFFrames without ffmpeg.
func buildIVF(frames ...[]byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("DKIF")
	buf.Write(make([]byte, 28)) // remaining header fields unused by the reader
	for i, f := range frames {
		hdr := make([]byte, 12)
		binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(f)))
		binary.LittleEndian.PutUint64(hdr[4:12], uint64(i))
		buf.Write(hdr)
		buf.Write(f)
	}
	return buf.Bytes()
}

func TestReadIVFFramesRejectsBadMagic(t *testing.T) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "cam-test")
	if err != nil {
		t.Fatalf("NewTrackLocalStaticSample: %v", err)
	}

	bad := bytes.NewReader(append([]byte("FFIK"), make([]byte, 28)...))
	done := make(chan struct{})
	go func() { readIVFFrames(bad, track, "test"); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("readIVFFrames did not return for a bad magic header")
	}
}

func TestReadIVFFramesStopsAtEOF(t *testing.T) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "cam-test")
	if err != nil {
		t.Fatalf("NewTrackLocalStaticSample: %v", err)
	}

	data := buildIVF([]byte{0x01, 0x02, 0x03}, []byte{0x04, 0x05})
	r := bytes.NewReader(data)

	done := make(chan struct{})
	go func() { readIVFFrames(r, track, "test"); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("readIVFFrames did not return after the stream was exhausted")
	}

	if _, err := r.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("reader not fully drained: %v", err)
	}
}

func TestReadIVFFramesSkipsZeroLengthFrames(t *testing.T) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "cam-test")
	if err != nil {
		t.Fatalf("NewTrackLocalStaticSample: %v", err)
	}

	data := buildIVF(nil, []byte{0xAA})
	done := make(chan struct{})
	go func() { readIVFFrames(bytes.NewReader(data), track, "test"); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("readIVFFrames did not return after a zero-length frame and a real frame")
	}
}
