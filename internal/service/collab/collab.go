// Package collab defines the external collaborators of a call (intent
// classification, response generation and speech synthesis) and the memoized
// factory that builds them on first use.
package collab

import (
	"context"
	"errors"
)

// Intent names produced by classifiers.
const (
	IntentGreeting     = "greeting"
	IntentBooking      = "booking"
	IntentHours        = "hours"
	IntentCancellation = "cancellation"
	IntentComplaint    = "complaint"
	IntentEscalation   = "escalation"
	IntentGoodbye      = "goodbye"
	IntentUnknown      = "unknown"
)

// Intent is a classified caller utterance.
type Intent struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// IntentClassifier labels caller utterances.
type IntentClassifier interface {
	Classify(ctx context.Context, text string) (Intent, error)
}

// ResponseGenerator produces the assistant's reply. The context map carries
// call details such as "intent", "call_id" and "history".
type ResponseGenerator interface {
	GenerateResponse(ctx context.Context, message string, context map[string]any) (string, error)
}

// SpeechSynthesizer turns text into linear PCM in the service's target audio
// format.
type SpeechSynthesizer interface {
	SynthesizeSpeech(ctx context.Context, text string) ([]byte, error)
}

var (
	ErrEmptyMessage = errors.New("collab: empty message")
	ErrEmptyText    = errors.New("collab: empty text")
)
