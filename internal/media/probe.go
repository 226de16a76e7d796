// Package media implements the Media Graph (C1): an RTSP DESCRIBE audio
// probe, a decoded-BGR frame tap feeding the Motion Analyser (C3), and an
// encoded rolling-segment writer feeding the Segment Recorder (C2).
package media

import (
	"fmt"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/format"

	"github.com/ciptacoding/nvr-core/internal/logx"
)

var log = logx.New("RTSP")

// AudioHint is the probe result cached on the camera definition so restarts
// do not re-probe.
type AudioHint struct {
	HasAudio   bool
	Encoding   string
	SampleRate int
	Channels   int
}

// ProbeAudio performs a bounded RTSP DESCRIBE against uri and reports
// whether an audio media is present. Forced TCP, default timeout 1.5s.
func ProbeAudio(uri string, timeout time.Duration) (AudioHint, error) {
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	u, err := base.ParseURL(uri)
	if err != nil {
		return AudioHint{}, fmt.Errorf("parse rtsp uri: %w", err)
	}

	transport := gortsplib.TransportTCP
	client := &gortsplib.Client{Transport: &transport, ReadTimeout: timeout, WriteTimeout: timeout}

	type result struct {
		hint AudioHint
		err  error
	}
	done := make(chan result, 1)
	go func() {
		if err := client.Start(u.Scheme, u.Host); err != nil {
			done <- result{err: fmt.Errorf("connect: %w", err)}
			return
		}
		defer client.Close()

		desc, _, err := client.Describe(u)
		if err != nil {
			done <- result{err: fmt.Errorf("describe: %w", err)}
			return
		}

		hint := AudioHint{}
		for _, media := range desc.Medias {
			for _, f := range media.Formats {
				switch af := f.(type) {
				case *format.MPEG4Audio:
					hint.HasAudio = true
					hint.Encoding = "aac"
					hint.SampleRate = af.Config.SampleRate
					hint.Channels = af.Config.ChannelCount
				case *format.G711:
					hint.HasAudio = true
					hint.Encoding = "pcmu"
					hint.SampleRate = af.SampleRate
					hint.Channels = af.ChannelCount
				}
			}
		}
		done <- result{hint: hint}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			log.Printf("probe %s: %v (treated as no-audio, audio-absent shape)", uri, r.err)
			return AudioHint{}, r.err
		}
		return r.hint, nil
	case <-time.After(timeout):
		log.Printf("probe %s: timed out after %s, assuming audio-absent", uri, timeout)
		return AudioHint{}, nil
	}
}
