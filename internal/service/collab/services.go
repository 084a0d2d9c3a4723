package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-voice-call-service/internal/observability/metrics"
)

// Lazy builds a value on first use and memoizes it. A failed build is not
// memoized; the next Get tries again.
type Lazy[T any] struct {
	name    string
	build   func(context.Context) (T, error)
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	ready bool
	val   T
}

// NewLazy wraps build.
func NewLazy[T any](name string, build func(context.Context) (T, error), logger zerolog.Logger, m *metrics.Metrics) *Lazy[T] {
	return &Lazy[T]{name: name, build: build, logger: logger, metrics: m}
}

// Get returns the value, building it if needed. Concurrent callers wait for a
// single build.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ready {
		return l.val, nil
	}

	start := time.Now()
	v, err := l.build(ctx)
	elapsed := time.Since(start)
	l.metrics.RecordCollaboratorInit(l.name, err, elapsed.Seconds())
	if err != nil {
		l.logger.Error().Err(err).Str("collaborator", l.name).Dur("elapsed", elapsed).Msg("Collaborator initialization failed")
		var zero T
		return zero, fmt.Errorf("init %s: %w", l.name, err)
	}

	l.logger.Info().Str("collaborator", l.name).Dur("elapsed", elapsed).Msg("Collaborator initialized")
	l.val = v
	l.ready = true
	return v, nil
}

// Ready reports whether the value has been built.
func (l *Lazy[T]) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

// Factories build the collaborators.
type Factories struct {
	Classifier  func(context.Context) (IntentClassifier, error)
	Generator   func(context.Context) (ResponseGenerator, error)
	Synthesizer func(context.Context) (SpeechSynthesizer, error)
}

// Services hands out lazily built collaborators. It is created once by the
// application and shared by all calls.
type Services struct {
	classifier  *Lazy[IntentClassifier]
	generator   *Lazy[ResponseGenerator]
	synthesizer *Lazy[SpeechSynthesizer]
	logger      zerolog.Logger
}

// Option configures Services.
type Option func(*serviceOptions)

type serviceOptions struct {
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *serviceOptions) { o.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *serviceOptions) { o.metrics = m }
}

// NewServices wraps the factories. Nothing is built until requested.
func NewServices(f Factories, opts ...Option) *Services {
	o := serviceOptions{
		logger:  log.With().Str("component", "collaborators").Logger(),
		metrics: metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Services{
		classifier:  NewLazy("intent_classifier", f.Classifier, o.logger, o.metrics),
		generator:   NewLazy("response_generator", f.Generator, o.logger, o.metrics),
		synthesizer: NewLazy("speech_synthesizer", f.Synthesizer, o.logger, o.metrics),
		logger:      o.logger,
	}
}

func (s *Services) Classifier(ctx context.Context) (IntentClassifier, error) {
	return s.classifier.Get(ctx)
}

func (s *Services) Generator(ctx context.Context) (ResponseGenerator, error) {
	return s.generator.Get(ctx)
}

func (s *Services) Synthesizer(ctx context.Context) (SpeechSynthesizer, error) {
	return s.synthesizer.Get(ctx)
}

// Warm builds every collaborator in order: classifier, generator, then
// synthesizer. All three are attempted; failures are joined.
func (s *Services) Warm(ctx context.Context) error {
	start := time.Now()
	var errs []error
	if _, err := s.Classifier(ctx); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.Generator(ctx); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.Synthesizer(ctx); err != nil {
		errs = append(errs, err)
	}
	err := errors.Join(errs...)
	s.logger.Info().Dur("elapsed", time.Since(start)).Bool("ok", err == nil).Msg("Collaborators warmed")
	return err
}

// Ready reports whether all collaborators are built.
func (s *Services) Ready() bool {
	return s.classifier.Ready() && s.generator.Ready() && s.synthesizer.Ready()
}
