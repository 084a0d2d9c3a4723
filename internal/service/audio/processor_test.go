package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestConfig_Derived(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		samples   int
		frameSize int
	}{
		{"16k mono 16-bit 20ms", Config{16000, 1, 2, 20}, 320, 640},
		{"8k mono 8-bit 20ms", Config{8000, 1, 1, 20}, 160, 160},
		{"48k stereo 16-bit 10ms", Config{48000, 2, 2, 10}, 480, 1920},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.SamplesPerFrame(); got != tt.samples {
				t.Errorf("SamplesPerFrame() = %d, want %d", got, tt.samples)
			}
			if got := tt.cfg.FrameSizeBytes(); got != tt.frameSize {
				t.Errorf("FrameSizeBytes() = %d, want %d", got, tt.frameSize)
			}
		})
	}
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name                         string
		rate, channels, width, frame int
	}{
		{"zero rate", 0, 1, 2, 20},
		{"zero channels", 16000, 0, 2, 20},
		{"width 3", 16000, 1, 3, 20},
		{"fractional frame", 11025, 1, 2, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewConfig(tt.rate, tt.channels, tt.width, tt.frame); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDecodeMulaw_ReferenceValues(t *testing.T) {
	tests := []struct {
		in   byte
		want int16
	}{
		{0xFF, 0},
		{0x7F, 0},
		{0x00, -32124},
		{0x80, 32124},
		{0x8F, 16764},
		{0xF0, 120},
		{0x70, -120},
	}

	for _, tt := range tests {
		if got := DecodeMulaw(tt.in); got != tt.want {
			t.Errorf("DecodeMulaw(0x%02X) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestDecodeAlaw_ReferenceValues(t *testing.T) {
	tests := []struct {
		in   byte
		want int16
	}{
		{0xD5, 8},
		{0x55, -8},
		{0xAA, 32256},
		{0x2A, -32256},
		{0x80, 5504},
		{0x00, -5504},
	}

	for _, tt := range tests {
		if got := DecodeAlaw(tt.in); got != tt.want {
			t.Errorf("DecodeAlaw(0x%02X) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestCompanding_RoundTrip(t *testing.T) {
	// Companding is lossy; the reconstruction error grows with amplitude.
	for _, s := range []int16{0, 100, -100, 1000, -1000, 8000, -8000, 30000, -30000} {
		mu := DecodeMulaw(EncodeMulaw(s))
		if diff := math.Abs(float64(mu) - float64(s)); diff > math.Max(8, math.Abs(float64(s))*0.04) {
			t.Errorf("mu-law round trip %d -> %d (diff %.0f)", s, mu, diff)
		}
		a := DecodeAlaw(EncodeAlaw(s))
		if diff := math.Abs(float64(a) - float64(s)); diff > math.Max(16, math.Abs(float64(s))*0.04) {
			t.Errorf("A-law round trip %d -> %d (diff %.0f)", s, a, diff)
		}
	}
	if EncodeMulaw(0) != 0xFF {
		t.Errorf("EncodeMulaw(0) = 0x%02X, want 0xFF", EncodeMulaw(0))
	}
	if EncodeAlaw(0) != 0xD5 {
		t.Errorf("EncodeAlaw(0) = 0x%02X, want 0xD5", EncodeAlaw(0))
	}
}

func TestDecode_Errors(t *testing.T) {
	var de *DecodeError

	if _, err := Decode([]byte{1, 2, 3}, EncodingLinear16); !errors.As(err, &de) {
		t.Errorf("expected DecodeError for odd linear16 input, got %v", err)
	}
	if _, err := Decode([]byte{1, 2}, Encoding("opus")); !errors.As(err, &de) {
		t.Errorf("expected DecodeError for unsupported encoding, got %v", err)
	}
	if _, err := ParseEncoding("g729"); err == nil {
		t.Error("expected ParseEncoding to reject g729")
	}
	if enc, err := ParseEncoding("PCMU"); err != nil || enc != EncodingMulaw {
		t.Errorf("ParseEncoding(PCMU) = %q, %v", enc, err)
	}
}

func TestProcess_FrameSizeAndConservation(t *testing.T) {
	sources := []struct {
		name   string
		src    SourceFormat
		chunks []int
	}{
		{"8k mulaw", SourceFormat{EncodingMulaw, 8000, 1}, []int{160, 37, 500, 1, 333}},
		{"8k alaw", SourceFormat{EncodingAlaw, 8000, 1}, []int{80, 81, 1024}},
		{"16k linear16", SourceFormat{EncodingLinear16, 16000, 1}, []int{2, 640, 1000, 6}},
		{"44.1k linear16 stereo", SourceFormat{EncodingLinear16, 44100, 2}, []int{4, 1764, 400, 8}},
		{"22.05k linear8", SourceFormat{EncodingLinear8, 22050, 1}, []int{441, 100, 7}},
	}

	target := DefaultConfig()
	for _, tt := range sources {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProcessor(target)
			for _, n := range tt.chunks {
				data := bytes.Repeat([]byte{0x35}, n)

				before := p.Buffered()
				decodedBefore := p.Stats().DecodedBytes

				frames := p.Process(data, tt.src)

				emitted := 0
				for _, f := range frames {
					if len(f.Data) != target.FrameSizeBytes() {
						t.Fatalf("frame length %d, want %d", len(f.Data), target.FrameSizeBytes())
					}
					emitted += len(f.Data)
				}
				decoded := int(p.Stats().DecodedBytes - decodedBefore)
				after := p.Buffered()

				if decoded != emitted+(after-before) {
					t.Fatalf("chunk %d: decoded %d != emitted %d + buffer delta %d", n, decoded, emitted, after-before)
				}
				if after >= target.FrameSizeBytes() {
					t.Fatalf("buffer retained %d bytes, a full frame should have been emitted", after)
				}
			}
		})
	}
}

func TestProcess_DecodeErrorSkipsChunk(t *testing.T) {
	p := NewProcessor(DefaultConfig())

	frames := p.Process([]byte{1, 2, 3}, SourceFormat{EncodingLinear16, 16000, 1})
	if len(frames) != 0 {
		t.Errorf("expected no frames from a corrupt chunk, got %d", len(frames))
	}
	frames = p.Process([]byte{1, 2, 3, 4}, SourceFormat{"opus", 48000, 1})
	if len(frames) != 0 {
		t.Errorf("expected no frames from an unsupported encoding, got %d", len(frames))
	}

	st := p.Stats()
	if st.DecodeErrors != 2 {
		t.Errorf("DecodeErrors = %d, want 2", st.DecodeErrors)
	}
	if p.Buffered() != 0 {
		t.Errorf("corrupt chunks must not be buffered, got %d bytes", p.Buffered())
	}

	// The processor keeps working afterwards.
	frames = p.Process(make([]byte, 640), SourceFormat{EncodingLinear16, 16000, 1})
	if len(frames) != 1 {
		t.Errorf("expected 1 frame after recovery, got %d", len(frames))
	}
}

func TestProcess_RejectsOutOfRangeSampleRate(t *testing.T) {
	p := NewProcessor(DefaultConfig())

	frames := p.Process(make([]byte, 1000), SourceFormat{EncodingMulaw, 1, 1})
	if len(frames) != 0 {
		t.Errorf("expected no frames, got %d", len(frames))
	}
	if p.Buffered() != 0 {
		t.Errorf("rejected chunk was buffered: %d bytes", p.Buffered())
	}
	if st := p.Stats(); st.DecodeErrors != 1 {
		t.Errorf("DecodeErrors = %d, want 1", st.DecodeErrors)
	}
}

func TestSourceFormat_Validate(t *testing.T) {
	tests := []struct {
		name string
		f    SourceFormat
		ok   bool
	}{
		{"telephony", SourceFormat{EncodingMulaw, 8000, 1}, true},
		{"upper bound", SourceFormat{EncodingLinear16, MaxSourceSampleRate, 2}, true},
		{"rate too low", SourceFormat{EncodingMulaw, 1, 1}, false},
		{"rate too high", SourceFormat{EncodingLinear16, 384000, 1}, false},
		{"no channels", SourceFormat{EncodingMulaw, 8000, 0}, false},
		{"too many channels", SourceFormat{EncodingLinear16, 16000, 32}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.f.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrSourceFormatRange) {
				t.Errorf("expected ErrSourceFormatRange, got %v", err)
			}
		})
	}
}

func TestProcess_SilenceClassification(t *testing.T) {
	cfg := DefaultConfig()
	src := SourceFormat{EncodingLinear16, cfg.SampleRate, 1}

	p := NewProcessor(cfg)
	frames := p.Process(make([]byte, cfg.FrameSizeBytes()), src)
	if len(frames) != 1 || !frames[0].Silent {
		t.Fatalf("all-zero frame must be silent: %+v", frames)
	}

	loud := make([]byte, cfg.FrameSizeBytes())
	for i := 0; i < len(loud)/2; i++ {
		v := int16(math.MaxInt16)
		if i%2 == 1 {
			v = math.MinInt16 + 1
		}
		binary.LittleEndian.PutUint16(loud[i*2:], uint16(v))
	}
	frames = p.Process(loud, src)
	if len(frames) != 1 || frames[0].Silent {
		t.Fatalf("full-amplitude alternating frame must not be silent: %+v", frames)
	}
	if frames[0].RMS < 30000 {
		t.Errorf("expected RMS near full scale, got %.0f", frames[0].RMS)
	}

	if st := p.Stats(); st.SilentFrames != 1 || st.FramesEmitted != 2 {
		t.Errorf("stats = %+v, want 1 silent of 2 frames", st)
	}
}

func TestProcess_OneSecondOfMulawSilence(t *testing.T) {
	cfg := DefaultConfig()
	p := NewProcessor(cfg)

	// 0xFF is mu-law for a zero sample.
	second := bytes.Repeat([]byte{0xFF}, 8000)

	var frames []Frame
	for off := 0; off < len(second); off += 160 {
		frames = append(frames, p.Process(second[off:off+160], SourceFormat{EncodingMulaw, 8000, 1})...)
	}

	if want := cfg.SampleRate * cfg.SampleWidth / cfg.FrameSizeBytes(); len(frames) != want {
		t.Fatalf("expected %d frames for one second, got %d", want, len(frames))
	}
	for _, f := range frames {
		if !f.Silent {
			t.Fatalf("frame %d not silent (rms %.1f)", f.Seq, f.RMS)
		}
	}
}

func TestFlushAndReset(t *testing.T) {
	cfg := DefaultConfig()
	p := NewProcessor(cfg)
	src := SourceFormat{EncodingLinear16, cfg.SampleRate, 1}

	p.Process(make([]byte, 100), src)
	if p.Buffered() != 100 {
		t.Fatalf("Buffered() = %d, want 100", p.Buffered())
	}

	f, ok := p.Flush()
	if !ok {
		t.Fatal("expected a flushed frame")
	}
	if len(f.Data) != cfg.FrameSizeBytes() {
		t.Errorf("flushed frame length %d, want %d", len(f.Data), cfg.FrameSizeBytes())
	}
	if _, ok := p.Flush(); ok {
		t.Error("second flush should be empty")
	}

	p.Process(make([]byte, 100), src)
	p.Reset()
	if p.Buffered() != 0 {
		t.Errorf("Reset left %d bytes", p.Buffered())
	}
}

func TestResample_Length(t *testing.T) {
	in := make([]int16, 160)
	if got := len(Resample(in, 8000, 16000)); got != 320 {
		t.Errorf("8k->16k length %d, want 320", got)
	}
	if got := len(Resample(in, 16000, 8000)); got != 80 {
		t.Errorf("16k->8k length %d, want 80", got)
	}

	ramp := []int16{0, 100, 200, 300}
	up := Resample(ramp, 1, 2)
	if up[1] != 50 || up[3] != 150 {
		t.Errorf("interpolated values %v", up)
	}
}

func TestDownmix(t *testing.T) {
	got := Downmix([]int16{100, 300, -50, 50}, 2)
	if len(got) != 2 || got[0] != 200 || got[1] != 0 {
		t.Errorf("Downmix = %v, want [200 0]", got)
	}
}

func TestConvert_TTSToMulaw(t *testing.T) {
	from := DefaultConfig()
	pcm := make([]byte, from.BytesPerSecond()/10) // 100ms

	out, err := Convert(pcm, from, SourceFormat{EncodingMulaw, 8000, 1})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(out) != 800 {
		t.Errorf("expected 800 mu-law bytes for 100ms at 8kHz, got %d", len(out))
	}
	for _, b := range out {
		if b != 0xFF {
			t.Fatalf("silence should encode to 0xFF, got 0x%02X", b)
		}
	}
}
