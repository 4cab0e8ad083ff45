package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Buffer holds decoded mono audio normalized to [-1, 1].
type Buffer struct {
	Samples    []float64
	SampleRate int
	Channels   int
}

// DurationSeconds returns the buffer length in seconds.
func (b Buffer) DurationSeconds() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// ErrInvalidAudio marks WAV payloads that cannot be decoded. Callers map it
// to the "invalid_audio" wire code.
var ErrInvalidAudio = errors.New("invalid audio")

const (
	formatPCM       = 1
	formatIEEEFloat = 3
)

// Decode parses a RIFF/WAVE container with PCM or IEEE-float samples and
// returns mono audio, averaging channels per frame.
func Decode(raw []byte) (Buffer, error) {
	if len(raw) < 44 {
		return Buffer{}, fmt.Errorf("%w: buffer too small (%d bytes)", ErrInvalidAudio, len(raw))
	}
	if string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return Buffer{}, fmt.Errorf("%w: not a RIFF/WAVE container", ErrInvalidAudio)
	}

	var (
		haveFmt       bool
		audioFormat   int
		channels      int
		sampleRate    int
		bitsPerSample int
		data          []byte
	)

	// Walk chunks; fmt and data may appear in any order with padding.
	pos := 12
	for pos+8 <= len(raw) {
		id := string(raw[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(raw[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body > len(raw) {
			break
		}
		end := body + size
		if end > len(raw) {
			end = len(raw)
		}
		switch id {
		case "fmt ":
			if end-body < 16 {
				return Buffer{}, fmt.Errorf("%w: fmt chunk truncated", ErrInvalidAudio)
			}
			audioFormat = int(binary.LittleEndian.Uint16(raw[body : body+2]))
			channels = int(binary.LittleEndian.Uint16(raw[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(raw[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(raw[body+14 : body+16]))
			haveFmt = true
		case "data":
			data = raw[body:end]
		}
		pos = body + size
		if size%2 == 1 {
			pos++ // chunk bodies are word-aligned
		}
	}

	if !haveFmt {
		return Buffer{}, fmt.Errorf("%w: missing fmt chunk", ErrInvalidAudio)
	}
	if data == nil {
		return Buffer{}, fmt.Errorf("%w: missing data chunk", ErrInvalidAudio)
	}
	if audioFormat != formatPCM && audioFormat != formatIEEEFloat {
		return Buffer{}, fmt.Errorf("%w: unsupported audio format %d", ErrInvalidAudio, audioFormat)
	}
	if channels < 1 || channels > 8 {
		return Buffer{}, fmt.Errorf("%w: unsupported channel count %d", ErrInvalidAudio, channels)
	}
	if sampleRate <= 0 {
		return Buffer{}, fmt.Errorf("%w: invalid sample rate %d", ErrInvalidAudio, sampleRate)
	}
	switch bitsPerSample {
	case 8, 16, 24, 32:
	default:
		return Buffer{}, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidAudio, bitsPerSample)
	}
	if audioFormat == formatIEEEFloat && bitsPerSample != 32 {
		return Buffer{}, fmt.Errorf("%w: float format requires 32-bit samples", ErrInvalidAudio)
	}

	bytesPerSample := bitsPerSample / 8
	frameSize := bytesPerSample * channels
	frames := len(data) / frameSize
	samples := make([]float64, frames)

	for f := 0; f < frames; f++ {
		base := f * frameSize
		var sum float64
		for c := 0; c < channels; c++ {
			off := base + c*bytesPerSample
			var v float64
			switch {
			case audioFormat == formatIEEEFloat:
				bits := binary.LittleEndian.Uint32(data[off : off+4])
				v = float64(math.Float32frombits(bits))
			case bitsPerSample == 8:
				v = (float64(data[off]) - 128) / 128
			case bitsPerSample == 16:
				v = float64(int16(binary.LittleEndian.Uint16(data[off:off+2]))) / 32768
			case bitsPerSample == 24:
				u := uint32(data[off]) | uint32(data[off+1])<<8 | uint32(data[off+2])<<16
				if u&0x800000 != 0 {
					u |= 0xFF000000 // sign-extend
				}
				v = float64(int32(u)) / 8388608
			case bitsPerSample == 32:
				v = float64(int32(binary.LittleEndian.Uint32(data[off:off+4]))) / 2147483648
			}
			sum += v
		}
		s := sum / float64(channels)
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		samples[f] = s
	}

	return Buffer{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}
