package media

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
)

// fullRecorder writes an entire session to one named output file — the
// counterpart to the rolling segment ring, started and stopped at runtime by
// /record_on and /record_off rather than tied to the graph's own lifecycle.
// Since the source codec is already H.264, it remuxes with a stream copy
// instead of the segment writer's re-encode, preserving the original
// quality/bitrate.
type fullRecorder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	audioW *os.File
}

func startFullRecorder(outputPath string, audio AudioHint) (*fullRecorder, error) {
	if outputPath == "" {
		return nil, fmt.Errorf("output path required")
	}

	args := []string{"-loglevel", "error", "-f", "h264", "-i", "pipe:0"}

	var audioR *os.File
	var audioW *os.File
	if audio.HasAudio {
		var err error
		audioR, audioW, err = os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("open audio pipe: %w", err)
		}
		args = append(args, audioFFmpegInputArgs(audio)...)
		args = append(args, "-c:a", "aac", "-ar", "48000", "-ac", "2")
	} else {
		args = append(args, "-an")
	}
	args = append(args, "-c:v", "copy", "-movflags", "+faststart", outputPath)

	cmd := exec.Command("ffmpeg", args...)
	if audioR != nil {
		cmd.ExtraFiles = []*os.File{audioR} // fd 3 ("pipe:3") in the child
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	if audioR != nil {
		_ = audioR.Close()
	}

	return &fullRecorder{cmd: cmd, stdin: stdin, audioW: audioW}, nil
}

func (f *fullRecorder) writeVideoAU(au [][]byte) {
	if raw, err := h264.AnnexBMarshal(au); err == nil {
		_, _ = f.stdin.Write(raw)
	}
}

func (f *fullRecorder) writeAudio(payload []byte, hint AudioHint) {
	if f.audioW == nil {
		return
	}
	_, _ = f.audioW.Write(buildAudioFrame(payload, hint))
}

// stop closes both pipes and waits for ffmpeg to flush and finalise the
// output file (the reason for Wait rather than Kill, unlike the segment
// writer and decoder, which are disposable).
func (f *fullRecorder) stop() {
	if f.stdin != nil {
		_ = f.stdin.Close()
	}
	if f.audioW != nil {
		_ = f.audioW.Close()
	}
	if f.cmd != nil {
		_ = f.cmd.Wait()
	}
}
