package collab

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"ai-voice-call-service/internal/observability/metrics"
	"ai-voice-call-service/internal/service/audio"
)

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier()

	tests := []struct {
		text string
		want string
	}{
		{"I'd like to book a table for four tonight", IntentBooking},
		{"What time do you open tomorrow", IntentHours},
		{"I need to cancel my reservation", IntentCancellation},
		{"I've been waiting for over an hour and nobody called back", IntentComplaint},
		{"Can I speak to a manager please", IntentEscalation},
		{"Thank you that's all goodbye", IntentGoodbye},
		{"purple elephants", IntentUnknown},
		{"   ", IntentUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := c.Classify(context.Background(), tt.text)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if got.Name != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.text, got.Name, tt.want)
			}
			if got.Confidence < 0 || got.Confidence > 1 {
				t.Errorf("confidence out of range: %v", got.Confidence)
			}
		})
	}
}

func TestKeywordClassifier_UnknownIsLowConfidence(t *testing.T) {
	got, _ := NewKeywordClassifier().Classify(context.Background(), "purple elephants")
	if got.Confidence >= 0.55 {
		t.Errorf("unknown intent confidence = %v, want below escalation threshold", got.Confidence)
	}
}

func TestTemplateResponder(t *testing.T) {
	r := NewTemplateResponder()
	ctx := context.Background()

	reply, err := r.GenerateResponse(ctx, "what time do you open", map[string]any{"intent": IntentHours})
	if err != nil || reply != defaultTemplates[IntentHours] {
		t.Errorf("got %q, %v", reply, err)
	}

	reply, _ = r.GenerateResponse(ctx, "hmm", map[string]any{})
	if reply != defaultTemplates[IntentUnknown] {
		t.Errorf("missing intent should fall back to unknown, got %q", reply)
	}

	if _, err := r.GenerateResponse(ctx, "  ", nil); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestToneSynthesizer(t *testing.T) {
	cfg := audio.DefaultConfig()
	s := NewToneSynthesizer(cfg)

	pcm, err := s.SynthesizeSpeech(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("SynthesizeSpeech: %v", err)
	}
	// Two words of 180ms tone plus 60ms gap at 16kHz 16-bit mono.
	if want := 2 * (2880 + 960) * 2; len(pcm) != want {
		t.Errorf("len = %d, want %d", len(pcm), want)
	}
	if audio.RMS(pcm, cfg.SampleWidth) < audio.DefaultSilenceThreshold {
		t.Error("synthesized audio should not be silent")
	}

	if _, err := s.SynthesizeSpeech(context.Background(), ""); !errors.Is(err, ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
}

type orderRecorder struct {
	mu    sync.Mutex
	order []string
}

func (o *orderRecorder) add(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.order = append(o.order, name)
}

func TestServices_WarmOrderAndMemoization(t *testing.T) {
	rec := &orderRecorder{}
	builds := map[string]int{}
	m := metrics.NewMetrics(prometheus.NewRegistry())

	s := NewServices(Factories{
		Classifier: func(context.Context) (IntentClassifier, error) {
			rec.add("classifier")
			builds["classifier"]++
			return NewKeywordClassifier(), nil
		},
		Generator: func(context.Context) (ResponseGenerator, error) {
			rec.add("generator")
			builds["generator"]++
			return NewTemplateResponder(), nil
		},
		Synthesizer: func(context.Context) (SpeechSynthesizer, error) {
			rec.add("synthesizer")
			builds["synthesizer"]++
			return NewToneSynthesizer(audio.DefaultConfig()), nil
		},
	}, WithMetrics(m), WithLogger(zerolog.Nop()))

	if s.Ready() {
		t.Fatal("nothing should be built before use")
	}
	if err := s.Warm(context.Background()); err != nil {
		t.Fatalf("Warm: %v", err)
	}
	if err := s.Warm(context.Background()); err != nil {
		t.Fatalf("second Warm: %v", err)
	}

	want := []string{"classifier", "generator", "synthesizer"}
	if len(rec.order) != len(want) {
		t.Fatalf("build order = %v, want %v", rec.order, want)
	}
	for i := range want {
		if rec.order[i] != want[i] {
			t.Fatalf("build order = %v, want %v", rec.order, want)
		}
	}
	for name, n := range builds {
		if n != 1 {
			t.Errorf("%s built %d times", name, n)
		}
	}
	if !s.Ready() {
		t.Error("expected Ready after Warm")
	}
	if got := testutil.CollectAndCount(m.CollaboratorInit); got != 3 {
		t.Errorf("collaborator init series = %d, want 3", got)
	}
}

func TestServices_FailedBuildRetries(t *testing.T) {
	attempts := 0
	s := NewServices(Factories{
		Classifier: func(context.Context) (IntentClassifier, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("model not loaded")
			}
			return NewKeywordClassifier(), nil
		},
		Generator: func(context.Context) (ResponseGenerator, error) {
			return NewTemplateResponder(), nil
		},
		Synthesizer: func(context.Context) (SpeechSynthesizer, error) {
			return NewToneSynthesizer(audio.DefaultConfig()), nil
		},
	}, WithMetrics(metrics.NewMetrics(prometheus.NewRegistry())), WithLogger(zerolog.Nop()))

	if err := s.Warm(context.Background()); err == nil {
		t.Fatal("expected Warm to report the classifier failure")
	}
	if _, err := s.Classifier(context.Background()); err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}
