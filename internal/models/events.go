// Package models defines the event payloads published for calls.
package models

// Event types.
const (
	EventTranscriptPartial = "call.transcript.partial"
	EventTranscriptFinal   = "call.transcript.final"
	EventCallStarted       = "call.started"
	EventCallEnded         = "call.ended"
	EventTurn              = "call.turn"
)

// TranscriptEvent is a partial or final transcript for a call.
type TranscriptEvent struct {
	EventType   string  `json:"eventType"`
	SessionID   string  `json:"sessionId"`
	CallID      string  `json:"callId"`
	Timestamp   int64   `json:"timestamp"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence,omitempty"`
	SpeechFinal bool    `json:"speechFinal,omitempty"`
}

// CallEvent announces a call starting or ending.
type CallEvent struct {
	EventType      string `json:"eventType"`
	SessionID      string `json:"sessionId"`
	CallID         string `json:"callId"`
	From           string `json:"from"`
	To             string `json:"to"`
	State          string `json:"state"`
	Timestamp      int64  `json:"timestamp"`
	DurationMs     int64  `json:"durationMs,omitempty"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
	ShouldEscalate bool   `json:"shouldEscalate,omitempty"`
	Turns          int    `json:"turns,omitempty"`
}

// TurnEvent is one answered caller utterance.
type TurnEvent struct {
	EventType        string  `json:"eventType"`
	SessionID        string  `json:"sessionId"`
	CallID           string  `json:"callId"`
	TurnID           string  `json:"turnId"`
	Timestamp        int64   `json:"timestamp"`
	CallerText       string  `json:"callerText"`
	Intent           string  `json:"intent"`
	IntentConfidence float64 `json:"intentConfidence"`
	Response         string  `json:"response"`
	Escalated        bool    `json:"escalated"`
	ResponseMs       int64   `json:"responseMs"`
	SynthesisMs      int64   `json:"synthesisMs"`
}
