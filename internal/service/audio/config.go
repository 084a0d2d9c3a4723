package audio

import (
	"errors"
	"fmt"
	"strings"
)

// Config describes the PCM frame format expected by the STT provider.
// It is a value type; derive a new one instead of mutating.
type Config struct {
	SampleRate      int
	Channels        int
	SampleWidth     int // bytes per sample: 1 (unsigned 8-bit) or 2 (signed 16-bit little endian)
	FrameDurationMs int
}

// DefaultConfig returns 16kHz mono 16-bit audio in 20ms frames.
func DefaultConfig() Config {
	return Config{
		SampleRate:      16000,
		Channels:        1,
		SampleWidth:     2,
		FrameDurationMs: 20,
	}
}

// NewConfig validates and returns an audio configuration.
func NewConfig(sampleRate, channels, sampleWidth, frameDurationMs int) (Config, error) {
	c := Config{
		SampleRate:      sampleRate,
		Channels:        channels,
		SampleWidth:     sampleWidth,
		FrameDurationMs: frameDurationMs,
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks that the configuration yields whole frames.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("audio: channel count must be positive, got %d", c.Channels)
	}
	if c.SampleWidth != 1 && c.SampleWidth != 2 {
		return fmt.Errorf("audio: sample width must be 1 or 2 bytes, got %d", c.SampleWidth)
	}
	if c.FrameDurationMs <= 0 {
		return fmt.Errorf("audio: frame duration must be positive, got %d", c.FrameDurationMs)
	}
	if c.SampleRate*c.FrameDurationMs%1000 != 0 {
		return fmt.Errorf("audio: %dHz does not divide into %dms frames", c.SampleRate, c.FrameDurationMs)
	}
	return nil
}

// SamplesPerFrame is the number of samples per channel in one frame.
func (c Config) SamplesPerFrame() int {
	return c.SampleRate * c.FrameDurationMs / 1000
}

// FrameSizeBytes is the exact byte length of every emitted frame.
func (c Config) FrameSizeBytes() int {
	return c.SamplesPerFrame() * c.Channels * c.SampleWidth
}

// BytesPerSecond returns the byte rate of audio in this format.
func (c Config) BytesPerSecond() int {
	return c.SampleRate * c.Channels * c.SampleWidth
}

// Encoding names an inbound or outbound wire encoding.
type Encoding string

const (
	EncodingMulaw    Encoding = "mulaw"
	EncodingAlaw     Encoding = "alaw"
	EncodingLinear16 Encoding = "linear16"
	EncodingLinear8  Encoding = "linear8"
)

// BytesPerSample is the wire size of one sample.
func (e Encoding) BytesPerSample() int {
	if e == EncodingLinear16 {
		return 2
	}
	return 1
}

// ParseEncoding maps common gateway spellings onto an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mulaw", "ulaw", "mu-law", "pcmu", "audio/x-mulaw":
		return EncodingMulaw, nil
	case "alaw", "a-law", "pcma", "audio/x-alaw":
		return EncodingAlaw, nil
	case "linear16", "pcm16", "s16le", "pcm", "l16":
		return EncodingLinear16, nil
	case "linear8", "pcm8", "u8":
		return EncodingLinear8, nil
	default:
		return "", &DecodeError{Encoding: s, Reason: "unsupported encoding"}
	}
}

// SourceFormat describes the audio arriving from (or going to) the gateway.
type SourceFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
}

// Gateway formats outside these bounds are rejected. Resampling scales a
// chunk by target/source rate, so a tiny source rate would blow up memory.
const (
	MinSourceSampleRate = 4000
	MaxSourceSampleRate = 192000
	MaxSourceChannels   = 8
)

// ErrSourceFormatRange reports a sample rate or channel count out of bounds.
var ErrSourceFormatRange = errors.New("audio: source format out of range")

// Validate checks the format can be decoded.
func (f SourceFormat) Validate() error {
	if _, err := ParseEncoding(string(f.Encoding)); err != nil {
		return err
	}
	if f.SampleRate < MinSourceSampleRate || f.SampleRate > MaxSourceSampleRate ||
		f.Channels <= 0 || f.Channels > MaxSourceChannels {
		return fmt.Errorf("%w: %dHz/%dch", ErrSourceFormatRange, f.SampleRate, f.Channels)
	}
	return nil
}
