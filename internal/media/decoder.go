package media

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"gocv.io/x/gocv"
)

// Decoder turns a depacketized H.264 access-unit stream into raw BGR frames
// of a fixed size, delivered to sink as they become available. It exists so
// the RTSP pull/depacketize path (gortsplib Client + pion/rtp) never has to
// know how access units become pixels: the real implementation below is the
// only piece that still touches an external decode binary, and it is never
// handed a network address — only an Annex-B bitstream over stdin. Tests
// substitute a fake Decoder to inject synthetic frames with no RTSP source,
// ffmpeg binary, or H.264 decoder at all.
type Decoder interface {
	// Start begins decoding to w x h BGR24 frames, calling sink for each one.
	// It returns a channel that receives a single error (nil on a clean
	// Close, non-nil otherwise) when decoding stops.
	Start(w, h int, sink func(gocv.Mat)) (<-chan error, error)
	// WriteAccessUnit feeds one H.264 access unit (a set of NAL units sharing
	// a timestamp) into the decoder.
	WriteAccessUnit(au [][]byte) error
	Close() error
}

// DecoderFactory builds a Decoder for one Graph's video track. nil means the
// default ffmpeg-backed implementation.
type DecoderFactory func() Decoder

func defaultDecoderFactory() Decoder { return &ffmpegDecoder{} }

// ffmpegDecoder decodes an Annex-B H.264 bitstream to raw BGR frames via an
// ffmpeg subprocess whose only input is stdin: it never opens a socket or
// resolves an RTSP URL, unlike the pull step it is fed by.
type ffmpegDecoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	wg     sync.WaitGroup
}

func (d *ffmpegDecoder) Start(w, h int, sink func(gocv.Mat)) (<-chan error, error) {
	cmd := exec.Command("ffmpeg",
		"-loglevel", "error",
		"-f", "h264",
		"-i", "pipe:0",
		"-vf", fmt.Sprintf("scale=%d:%d", w, h),
		"-pix_fmt", "bgr24",
		"-f", "rawvideo",
		"-",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	d.cmd, d.stdin, d.stdout = cmd, stdin, stdout

	done := make(chan error, 1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer stdout.Close()

		frameSize := w * h * 3
		buf := make([]byte, frameSize)
		for {
			if _, err := io.ReadFull(stdout, buf); err != nil {
				done <- fmt.Errorf("decode stream ended: %w", err)
				return
			}
			mat, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, buf)
			if err != nil {
				continue // unsupported/partial frame: skip and keep reading
			}
			sink(mat)
			mat.Close()
		}
	}()
	return done, nil
}

// WriteAccessUnit marshals au to an Annex-B NAL stream and writes it to the
// decoder's stdin.
func (d *ffmpegDecoder) WriteAccessUnit(au [][]byte) error {
	raw, err := h264.AnnexBMarshal(au)
	if err != nil {
		return fmt.Errorf("annex-b marshal: %w", err)
	}
	_, err = d.stdin.Write(raw)
	return err
}

func (d *ffmpegDecoder) Close() error {
	if d.stdin != nil {
		_ = d.stdin.Close()
	}
	if d.cmd != nil && d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	d.wg.Wait()
	return nil
}
