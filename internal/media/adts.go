package media

// adtsSampleRateIndex maps an MPEG-4 audio sample rate to its ADTS table
// index (ISO/IEC 14496-3 Table 1.18), used when feeding depacketized AAC
// access units to ffmpeg's ADTS demuxer over the segment writer's audio
// pipe — ffmpeg's raw "aac" demuxer only accepts ADTS framing, not bare
// RFC 3640 access units.
var adtsSampleRateIndex = map[int]byte{
	96000: 0, 88200: 1, 64000: 2, 48000: 3,
	44100: 4, 32000: 5, 24000: 6, 22050: 7,
	16000: 8, 12000: 9, 11025: 10, 8000: 11, 7350: 12,
}

// wrapADTS prepends a 7-byte ADTS header (AAC-LC, no CRC) to one raw AAC
// access unit.
func wrapADTS(au []byte, sampleRate, channels int) []byte {
	freqIdx, ok := adtsSampleRateIndex[sampleRate]
	if !ok {
		freqIdx = 3 // 48kHz fallback
	}
	frameLen := len(au) + 7
	hdr := make([]byte, 7, frameLen)
	hdr[0] = 0xFF
	hdr[1] = 0xF1 // MPEG-4, no CRC
	hdr[2] = (1 << 6) | (freqIdx << 2) | byte((channels>>2)&0x1)
	hdr[3] = byte((channels&0x3)<<6) | byte((frameLen>>11)&0x3)
	hdr[4] = byte((frameLen >> 3) & 0xFF)
	hdr[5] = byte((frameLen&0x7)<<5) | 0x1F
	hdr[6] = 0xFC
	return append(hdr, au...)
}

// buildAudioFrame prepares one depacketized audio access unit for the wire
// format its ffmpeg input args declare: ADTS-framed for AAC, untouched for
// G.711 (whose RTP payload already is the raw sample stream).
func buildAudioFrame(payload []byte, hint AudioHint) []byte {
	if hint.Encoding == "aac" {
		return wrapADTS(payload, hint.SampleRate, hint.Channels)
	}
	return payload
}
