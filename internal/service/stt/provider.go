// Package stt bridges a blocking speech-to-text provider connection to the
// per-call event loop.
package stt

import (
	"context"
	"strings"
	"time"
)

// StreamOptions describe the audio a connection will receive.
type StreamOptions struct {
	Model          string
	Language       string
	SampleRate     int
	Channels       int
	Encoding       string // provider wire encoding, e.g. "linear16"
	InterimResults bool
}

// Provider opens streaming recognition connections (Deepgram, Google, mock).
type Provider interface {
	Name() string
	Connect(ctx context.Context, opts StreamOptions) (Connection, error)
}

// Connection is one blocking streaming recognition session. Send and
// CloseSend are called from one goroutine, Recv from another.
type Connection interface {
	// Send blocks until the audio is handed to the provider.
	Send(audio []byte) error
	// Recv blocks for the next provider message. It returns io.EOF once the
	// provider has finished, and a *ParseError for a single bad message.
	Recv() (*Message, error)
	// CloseSend signals that no more audio will be sent.
	CloseSend() error
	// Close releases the connection and unblocks Recv.
	Close() error
}

// Alternative is one recognition hypothesis.
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// Channel holds the hypotheses for one audio channel.
type Channel struct {
	Alternatives []Alternative `json:"alternatives"`
}

// Message is a provider result in the shape most streaming APIs share.
type Message struct {
	Type        string  `json:"type"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Channel     Channel `json:"channel"`
}

// TranscriptResult is an immutable transcript delivered to the call.
type TranscriptResult struct {
	Text        string    `json:"text"`
	IsFinal     bool      `json:"isFinal"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
	SpeechFinal bool      `json:"speechFinal"` // end of the caller's utterance
}

// NewTranscriptResult converts a provider message. It reports false for
// messages that carry neither text nor an utterance boundary.
func NewTranscriptResult(msg *Message, now time.Time) (TranscriptResult, bool) {
	if msg == nil {
		return TranscriptResult{}, false
	}
	var text string
	var confidence float64
	if len(msg.Channel.Alternatives) > 0 {
		alt := msg.Channel.Alternatives[0]
		text = strings.TrimSpace(alt.Transcript)
		confidence = alt.Confidence
	}
	if text == "" && !msg.SpeechFinal {
		return TranscriptResult{}, false
	}
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}
	return TranscriptResult{
		Text:        text,
		IsFinal:     msg.IsFinal || msg.SpeechFinal,
		Confidence:  confidence,
		Timestamp:   now,
		SpeechFinal: msg.SpeechFinal,
	}, true
}
