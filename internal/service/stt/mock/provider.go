// Package mock provides an STT provider for running without cloud credentials.
// It listens to frame energy: voiced frames produce progressive partial
// transcripts, and a run of silence after speech produces exactly one final
// for the utterance. Silent audio never produces a transcript.
package mock

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"ai-voice-call-service/internal/service/audio"
	"ai-voice-call-service/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive partial transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final
}

// DefaultUtterances provides sample caller utterances.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"I'd like", "I'd like to book", "I'd like to book a table"},
		Final:      "I'd like to book a table for four tonight",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"What time", "What time do you"},
		Final:      "What time do you open tomorrow",
		Confidence: 0.96,
	},
	{
		Partials:   []string{"I need to", "I need to cancel"},
		Final:      "I need to cancel my reservation",
		Confidence: 0.91,
	},
	{
		Partials:   []string{"I've been", "I've been waiting", "I've been waiting for"},
		Final:      "I've been waiting for over an hour and nobody called back",
		Confidence: 0.89,
	},
	{
		Partials:   []string{"Thank you"},
		Final:      "Thank you that's all goodbye",
		Confidence: 0.98,
	},
}

// Config tunes the simulation.
type Config struct {
	Utterances       []SimulatedUtterance
	FramesPerPartial int     // voiced frames between partials
	EndSilenceFrames int     // silent frames after speech that close an utterance
	SilenceThreshold float64 // RMS below which a frame is silent
	SampleWidth      int
	ConnectErr       error // returned by Connect when set
}

// Provider implements stt.Provider with scripted responses.
type Provider struct {
	cfg     Config
	counter atomic.Uint64
}

// New creates a mock provider, filling unset fields with defaults.
func New(cfg Config) *Provider {
	if len(cfg.Utterances) == 0 {
		cfg.Utterances = DefaultUtterances
	}
	if cfg.FramesPerPartial <= 0 {
		cfg.FramesPerPartial = 5
	}
	if cfg.EndSilenceFrames <= 0 {
		cfg.EndSilenceFrames = 10
	}
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = audio.DefaultSilenceThreshold
	}
	if cfg.SampleWidth <= 0 {
		cfg.SampleWidth = 2
	}
	return &Provider{cfg: cfg}
}

func (p *Provider) Name() string { return "mock" }

// Connect starts a simulated stream. Each connection starts at the next
// utterance in the script.
func (p *Provider) Connect(ctx context.Context, opts stt.StreamOptions) (stt.Connection, error) {
	if p.cfg.ConnectErr != nil {
		return nil, p.cfg.ConnectErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := p.counter.Add(1) - 1
	return &connection{
		cfg:       p.cfg,
		utterance: int(start % uint64(len(p.cfg.Utterances))),
		msgs:      make(chan *stt.Message, 64),
		closed:    make(chan struct{}),
	}, nil
}

var errClosed = errors.New("mock stream closed")

type connection struct {
	cfg Config

	// Owned by the sending goroutine.
	utterance  int
	inSpeech   bool
	voiced     int
	partialIdx int
	silentRun  int
	sendClosed bool

	msgs          chan *stt.Message
	closed        chan struct{}
	closeSendOnce sync.Once
	closeOnce     sync.Once
}

func (c *connection) Send(frame []byte) error {
	if c.sendClosed {
		return errClosed
	}
	select {
	case <-c.closed:
		return errClosed
	default:
	}

	if audio.RMS(frame, c.cfg.SampleWidth) >= c.cfg.SilenceThreshold {
		c.inSpeech = true
		c.silentRun = 0
		c.voiced++
		utt := c.cfg.Utterances[c.utterance]
		if c.voiced%c.cfg.FramesPerPartial == 0 && c.partialIdx < len(utt.Partials) {
			c.emit(&stt.Message{
				Type:    "Results",
				Channel: stt.Channel{Alternatives: []stt.Alternative{{Transcript: utt.Partials[c.partialIdx], Confidence: utt.Confidence / 2}}},
			})
			c.partialIdx++
		}
		return nil
	}

	if c.inSpeech {
		c.silentRun++
		if c.silentRun >= c.cfg.EndSilenceFrames {
			c.finishUtterance()
		}
	}
	return nil
}

func (c *connection) finishUtterance() {
	utt := c.cfg.Utterances[c.utterance]
	c.emit(&stt.Message{
		Type:        "Results",
		IsFinal:     true,
		SpeechFinal: true,
		Channel:     stt.Channel{Alternatives: []stt.Alternative{{Transcript: utt.Final, Confidence: utt.Confidence}}},
	})
	c.utterance = (c.utterance + 1) % len(c.cfg.Utterances)
	c.inSpeech = false
	c.voiced = 0
	c.partialIdx = 0
	c.silentRun = 0
}

func (c *connection) emit(msg *stt.Message) {
	select {
	case c.msgs <- msg:
	case <-c.closed:
	}
}

// CloseSend finalizes an utterance in progress and ends the message stream.
func (c *connection) CloseSend() error {
	c.closeSendOnce.Do(func() {
		if c.inSpeech {
			c.finishUtterance()
		}
		c.sendClosed = true
		close(c.msgs)
	})
	return nil
}

func (c *connection) Recv() (*stt.Message, error) {
	select {
	case msg, ok := <-c.msgs:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *connection) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
