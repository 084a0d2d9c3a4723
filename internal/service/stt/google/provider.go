// Package google provides a Google Cloud Speech-to-Text streaming provider.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"ai-voice-call-service/internal/service/stt"
)

// Config holds Google Speech-to-Text defaults. StreamOptions passed to
// Connect override the sample rate, language and encoding.
type Config struct {
	LanguageCode      string
	SampleRateHz      int32
	InterimResults    bool
	AudioEncoding     string // LINEAR16, MULAW, FLAC, ...
	Model             string // e.g. phone_call
	UseEnhanced       bool
	SpokenPunctuation bool
}

// DefaultConfig returns settings for 16kHz linear PCM phone audio.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   16000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
		Model:          "phone_call",
		UseEnhanced:    true,
	}
}

// Provider implements stt.Provider using Google Cloud Speech-to-Text.
type Provider struct {
	client *speech.Client
	cfg    Config
}

// NewProvider creates a speech client.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &Provider{client: c, cfg: cfg}, nil
}

func (p *Provider) Name() string { return "google" }

// Close releases the underlying client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Connect opens a StreamingRecognize stream and sends the config as the first message.
func (p *Provider) Connect(ctx context.Context, opts stt.StreamOptions) (stt.Connection, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := p.client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: buildStreamingConfig(p.cfg, opts),
		},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("send streaming config: %w", err)
	}
	return &connection{stream: stream, cancel: cancel}, nil
}

func buildStreamingConfig(cfg Config, opts stt.StreamOptions) *speechpb.StreamingRecognitionConfig {
	rate := cfg.SampleRateHz
	if opts.SampleRate > 0 {
		rate = int32(opts.SampleRate)
	}
	language := cfg.LanguageCode
	if opts.Language != "" {
		language = opts.Language
	}
	encoding := cfg.AudioEncoding
	if opts.Encoding != "" {
		encoding = strings.ToUpper(opts.Encoding)
	}

	rc := &speechpb.RecognitionConfig{
		Encoding:                   parseAudioEncoding(encoding),
		SampleRateHertz:            rate,
		LanguageCode:               language,
		Model:                      cfg.Model,
		UseEnhanced:                cfg.UseEnhanced,
		EnableAutomaticPunctuation: true,
		EnableSpokenPunctuation:    wrapperspb.Bool(cfg.SpokenPunctuation),
	}
	if opts.Channels > 1 {
		rc.AudioChannelCount = int32(opts.Channels)
	}

	return &speechpb.StreamingRecognitionConfig{
		Config:         rc,
		InterimResults: cfg.InterimResults || opts.InterimResults,
	}
}

// parseAudioEncoding converts an upper-case encoding name, falling back to LINEAR16.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

type connection struct {
	stream  speechpb.Speech_StreamingRecognizeClient
	cancel  context.CancelFunc
	pending []*stt.Message
}

func (c *connection) Send(audio []byte) error {
	return c.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

func (c *connection) CloseSend() error {
	return c.stream.CloseSend()
}

// Close cancels the stream context, which unblocks Recv.
func (c *connection) Close() error {
	c.cancel()
	return nil
}

// Recv returns one message per recognition result; a response carrying
// several results is split across calls.
func (c *connection) Recv() (*stt.Message, error) {
	for len(c.pending) == 0 {
		resp, err := c.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, err
		}
		msgs, err := toMessages(resp)
		if err != nil {
			return nil, err
		}
		c.pending = msgs
	}
	msg := c.pending[0]
	c.pending = c.pending[1:]
	return msg, nil
}

func toMessages(resp *speechpb.StreamingRecognizeResponse) ([]*stt.Message, error) {
	if st := resp.GetError(); st != nil && st.GetCode() != 0 {
		return nil, fmt.Errorf("google speech error %d: %s", st.GetCode(), st.GetMessage())
	}

	var out []*stt.Message
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		msg := &stt.Message{
			Type:        "Results",
			IsFinal:     r.GetIsFinal(),
			SpeechFinal: r.GetIsFinal(),
		}
		for _, a := range alts {
			msg.Channel.Alternatives = append(msg.Channel.Alternatives, stt.Alternative{
				Transcript: a.GetTranscript(),
				Confidence: float64(a.GetConfidence()),
			})
		}
		out = append(out, msg)
	}

	if resp.GetSpeechEventType() == speechpb.StreamingRecognizeResponse_END_OF_SINGLE_UTTERANCE {
		out = append(out, &stt.Message{Type: "UtteranceEnd", IsFinal: true, SpeechFinal: true})
	}
	return out, nil
}
