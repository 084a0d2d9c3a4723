// Package audio turns gateway audio into fixed-size PCM frames for the STT
// provider, and converts synthesized speech back into the gateway's format.
package audio

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-voice-call-service/internal/observability/metrics"
)

// DefaultSilenceThreshold is the RMS level below which a frame counts as silent.
const DefaultSilenceThreshold = 200.0

// Frame is one aligned chunk of PCM audio in the target Config.
type Frame struct {
	Data   []byte
	Seq    uint64
	RMS    float64
	Silent bool
}

// Stats are cumulative counters for a Processor.
type Stats struct {
	Chunks        uint64 `json:"chunks"`
	DecodedBytes  uint64 `json:"decodedBytes"`
	BytesEmitted  uint64 `json:"bytesEmitted"`
	FramesEmitted uint64 `json:"framesEmitted"`
	SilentFrames  uint64 `json:"silentFrames"`
	DecodeErrors  uint64 `json:"decodeErrors"`
}

// Processor decodes, resamples and aligns inbound audio.
//
// Every call to Process emits as many complete FrameSizeBytes frames as are
// buffered; the remainder is kept for the next call. For each call:
//
//	decoded bytes == emitted bytes + (buffered after - buffered before)
//
// Corrupt input is logged, counted and skipped; Process never fails.
type Processor struct {
	mu        sync.Mutex
	cfg       Config
	frameSize int
	threshold float64
	buf       []byte
	seq       uint64
	stats     Stats

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Option configures a Processor.
type Option func(*Processor)

// WithSilenceThreshold overrides the RMS silence threshold.
func WithSilenceThreshold(threshold float64) Option {
	return func(p *Processor) { p.threshold = threshold }
}

// WithLogger sets the logger used for decode warnings.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// NewProcessor creates a processor emitting frames in the target format.
func NewProcessor(target Config, opts ...Option) *Processor {
	p := &Processor{
		cfg:       target,
		frameSize: target.FrameSizeBytes(),
		threshold: DefaultSilenceThreshold,
		logger:    log.With().Str("component", "audio-processor").Logger(),
		metrics:   metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.buf = make([]byte, 0, p.frameSize*2)
	return p
}

// Config returns the target format.
func (p *Processor) Config() Config {
	return p.cfg
}

// Process decodes one inbound chunk and returns the complete frames now available.
func (p *Processor) Process(data []byte, src SourceFormat) []Frame {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Chunks++
	if len(data) == 0 {
		return nil
	}

	pcm, err := p.convert(data, src)
	if err != nil {
		p.stats.DecodeErrors++
		p.metrics.RecordDecodeError(string(src.Encoding))

		var de *DecodeError
		ev := p.logger.Warn().Err(err).Int("bytes", len(data))
		if errors.As(err, &de) {
			ev = ev.Str("encoding", de.Encoding)
		}
		ev.Msg("Skipping undecodable audio chunk")
		return nil
	}

	p.stats.DecodedBytes += uint64(len(pcm))
	p.buf = append(p.buf, pcm...)

	n := len(p.buf) / p.frameSize
	if n == 0 {
		return nil
	}

	frames := make([]Frame, 0, n)
	silent := 0
	for i := 0; i < n; i++ {
		chunk := make([]byte, p.frameSize)
		copy(chunk, p.buf[i*p.frameSize:])
		f := p.newFrame(chunk)
		if f.Silent {
			silent++
		}
		frames = append(frames, f)
	}
	p.buf = append(p.buf[:0], p.buf[n*p.frameSize:]...)
	p.metrics.RecordFrames(n, silent)

	return frames
}

// Flush emits any buffered remainder zero-padded to a full frame.
func (p *Processor) Flush() (Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buf) == 0 {
		return Frame{}, false
	}
	chunk := make([]byte, p.frameSize)
	copy(chunk, p.buf)
	p.buf = p.buf[:0]

	f := p.newFrame(chunk)
	silent := 0
	if f.Silent {
		silent = 1
	}
	p.metrics.RecordFrames(1, silent)
	return f, true
}

// Reset discards buffered audio. Counters are kept.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = p.buf[:0]
}

// Buffered returns the number of bytes waiting for a complete frame.
func (p *Processor) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// Stats returns a copy of the processor counters.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Processor) newFrame(data []byte) Frame {
	p.seq++
	rms := RMS(data, p.cfg.SampleWidth)
	f := Frame{
		Data:   data,
		Seq:    p.seq,
		RMS:    rms,
		Silent: rms < p.threshold,
	}
	p.stats.FramesEmitted++
	p.stats.BytesEmitted += uint64(len(data))
	if f.Silent {
		p.stats.SilentFrames++
	}
	return f
}

// convert decodes to linear samples, downmixes, resamples and packs to the
// target width and channel count.
func (p *Processor) convert(data []byte, src SourceFormat) ([]byte, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	samples, err := Decode(data, src.Encoding)
	if err != nil {
		return nil, err
	}
	if src.Channels > 1 {
		if len(samples)%src.Channels != 0 {
			return nil, &DecodeError{Encoding: string(src.Encoding), Reason: "sample count not aligned to channel count"}
		}
		samples = Downmix(samples, src.Channels)
	}
	samples = Resample(samples, src.SampleRate, p.cfg.SampleRate)
	samples = Upmix(samples, p.cfg.Channels)
	return samplesToBytes(samples, p.cfg.SampleWidth), nil
}

// Convert turns PCM in the from format (for example synthesized speech) into
// the gateway's wire format.
func Convert(pcm []byte, from Config, to SourceFormat) ([]byte, error) {
	if from.SampleWidth == 2 && len(pcm)%2 != 0 {
		return nil, &DecodeError{Encoding: "pcm", Reason: "odd byte count"}
	}
	samples := bytesToSamples(pcm, from.SampleWidth)
	samples = Downmix(samples, from.Channels)
	samples = Resample(samples, from.SampleRate, to.SampleRate)
	samples = Upmix(samples, to.Channels)
	return Encode(samples, to.Encoding)
}
