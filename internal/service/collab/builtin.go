package collab

import (
	"context"
	"encoding/binary"
	"math"
	"strings"

	"ai-voice-call-service/internal/service/audio"
)

type keywordRule struct {
	intent   string
	keywords []string
}

// Rules are checked in order; the first rule with the most hits wins.
var defaultRules = []keywordRule{
	{IntentEscalation, []string{"manager", "human", "real person", "speak to someone", "representative", "supervisor"}},
	{IntentComplaint, []string{"complain", "complaint", "terrible", "awful", "waiting", "nobody", "unacceptable", "refund", "rude"}},
	{IntentCancellation, []string{"cancel", "cancellation", "call off"}},
	{IntentBooking, []string{"book", "booking", "reserve", "reservation", "table", "room", "tonight", "tomorrow"}},
	{IntentHours, []string{"open", "close", "closing", "hours", "what time"}},
	{IntentGoodbye, []string{"goodbye", "bye", "that's all", "thank you"}},
	{IntentGreeting, []string{"hello", "hi ", "good morning", "good evening"}},
}

// KeywordClassifier is a rule-based IntentClassifier.
type KeywordClassifier struct {
	rules []keywordRule
}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{rules: defaultRules}
}

// Classify returns the intent with the most keyword hits. Confidence grows
// with the number of hits; no hit yields IntentUnknown at low confidence.
func (c *KeywordClassifier) Classify(ctx context.Context, text string) (Intent, error) {
	if err := ctx.Err(); err != nil {
		return Intent{}, err
	}
	t := " " + strings.ToLower(strings.TrimSpace(text)) + " "
	if strings.TrimSpace(t) == "" {
		return Intent{Name: IntentUnknown}, nil
	}

	best, bestHits := IntentUnknown, 0
	for _, r := range c.rules {
		hits := 0
		for _, kw := range r.keywords {
			if strings.Contains(t, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = r.intent, hits
		}
	}
	if bestHits == 0 {
		return Intent{Name: IntentUnknown, Confidence: 0.3}, nil
	}
	return Intent{Name: best, Confidence: math.Min(0.95, 0.6+0.1*float64(bestHits))}, nil
}

var defaultTemplates = map[string]string{
	IntentGreeting:     "Hello! How can I help you today?",
	IntentBooking:      "I'd be happy to help with a reservation. How many guests, and for what time?",
	IntentHours:        "We're open from eleven in the morning until ten at night, every day.",
	IntentCancellation: "I can help with that. Could you tell me the name the reservation is under?",
	IntentComplaint:    "I'm very sorry to hear that. I'm bringing in a member of our team to help you right away.",
	IntentEscalation:   "Of course. Let me connect you with a member of our team.",
	IntentGoodbye:      "Thank you for calling. Goodbye!",
	IntentUnknown:      "Sorry, I didn't quite catch that. Could you say it another way?",
}

// TemplateResponder answers from a fixed template per intent.
type TemplateResponder struct {
	templates map[string]string
}

func NewTemplateResponder() *TemplateResponder {
	return &TemplateResponder{templates: defaultTemplates}
}

// GenerateResponse picks the template for context["intent"].
func (r *TemplateResponder) GenerateResponse(ctx context.Context, message string, callContext map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}
	intent, _ := callContext["intent"].(string)
	if reply, ok := r.templates[intent]; ok {
		return reply, nil
	}
	return r.templates[IntentUnknown], nil
}

// ToneSynthesizer renders text as a sequence of short tone bursts, one per
// word, in the given PCM format. It stands in for a voice model.
type ToneSynthesizer struct {
	cfg       audio.Config
	wordMs    int
	gapMs     int
	freqHz    float64
	amplitude float64
}

func NewToneSynthesizer(cfg audio.Config) *ToneSynthesizer {
	return &ToneSynthesizer{cfg: cfg, wordMs: 180, gapMs: 60, freqHz: 440, amplitude: 6000}
}

func (s *ToneSynthesizer) SynthesizeSpeech(ctx context.Context, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, ErrEmptyText
	}

	wordSamples := s.cfg.SampleRate * s.wordMs / 1000
	gapSamples := s.cfg.SampleRate * s.gapMs / 1000
	total := len(words) * (wordSamples + gapSamples)
	frameBytes := s.cfg.SampleWidth * s.cfg.Channels
	out := make([]byte, total*frameBytes)

	pos := 0
	for range words {
		for i := 0; i < wordSamples; i++ {
			v := int16(s.amplitude * math.Sin(2*math.Pi*s.freqHz*float64(i)/float64(s.cfg.SampleRate)))
			for ch := 0; ch < s.cfg.Channels; ch++ {
				putSample(out[pos:], v, s.cfg.SampleWidth)
				pos += s.cfg.SampleWidth
			}
		}
		pos += gapSamples * frameBytes
	}
	return out, nil
}

func putSample(b []byte, v int16, width int) {
	if width == 1 {
		b[0] = byte(int(v>>8) + 128)
		return
	}
	binary.LittleEndian.PutUint16(b, uint16(v))
}

// BuiltinFactories returns factories for the built-in collaborators.
func BuiltinFactories(target audio.Config) Factories {
	return Factories{
		Classifier: func(context.Context) (IntentClassifier, error) {
			return NewKeywordClassifier(), nil
		},
		Generator: func(context.Context) (ResponseGenerator, error) {
			return NewTemplateResponder(), nil
		},
		Synthesizer: func(context.Context) (SpeechSynthesizer, error) {
			return NewToneSynthesizer(target), nil
		},
	}
}
