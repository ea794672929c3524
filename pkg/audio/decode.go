package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"

	"github.com/teslashibe/go-ruvo/pkg/tts"
)

// Decode opens a synthesis result as a beep stream.
func Decode(result *tts.AudioResult) (beep.StreamSeekCloser, beep.Format, error) {
	if result == nil || len(result.Audio) == 0 {
		return nil, beep.Format{}, ErrNoAudio
	}

	switch enc := result.Format.Encoding; {
	case enc == tts.EncodingMP3 || enc == "":
		return mp3.Decode(io.NopCloser(bytes.NewReader(result.Audio)))
	case enc == tts.EncodingWAV:
		return wav.Decode(bytes.NewReader(result.Audio))
	case enc.IsPCM():
		rate := result.Format.SampleRate
		if rate == 0 {
			rate = tts.SampleRateFromEncoding(enc)
		}
		format := beep.Format{SampleRate: beep.SampleRate(rate), NumChannels: 1, Precision: 2}
		return &pcmStreamer{data: result.Audio}, format, nil
	default:
		return nil, beep.Format{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, enc)
	}
}

// pcmStreamer plays mono little-endian PCM16.
type pcmStreamer struct {
	data []byte
	pos  int
}

func (s *pcmStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	if s.pos+1 >= len(s.data) {
		return 0, false
	}
	for n < len(samples) && s.pos+1 < len(s.data) {
		v := float64(int16(binary.LittleEndian.Uint16(s.data[s.pos:]))) / 32768
		samples[n][0], samples[n][1] = v, v
		s.pos += 2
		n++
	}
	return n, true
}

func (s *pcmStreamer) Err() error { return nil }

func (s *pcmStreamer) Len() int { return len(s.data) / 2 }

func (s *pcmStreamer) Position() int { return s.pos / 2 }

func (s *pcmStreamer) Seek(p int) error {
	if p < 0 || p > s.Len() {
		return fmt.Errorf("audio: seek %d out of range", p)
	}
	s.pos = p * 2
	return nil
}

func (s *pcmStreamer) Close() error { return nil }

// meter reports the level of every buffer that passes through.
type meter struct {
	beep.Streamer
	onLevel func(float64)
}

func (m *meter) Stream(samples [][2]float64) (int, bool) {
	n, ok := m.Streamer.Stream(samples)
	if n > 0 && m.onLevel != nil {
		m.onLevel(levelOf(samples[:n]))
	}
	return n, ok
}
