package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-call-service/internal/config"
	"ai-voice-call-service/internal/events"
	"ai-voice-call-service/internal/models"
	"ai-voice-call-service/internal/observability/logging"
	"ai-voice-call-service/internal/observability/metrics"
	"ai-voice-call-service/internal/service/audio"
	"ai-voice-call-service/internal/service/call"
	"ai-voice-call-service/internal/service/collab"
	"ai-voice-call-service/internal/service/session"
	"ai-voice-call-service/internal/service/stt"
	"ai-voice-call-service/internal/service/stt/deepgram"
	"ai-voice-call-service/internal/service/stt/google"
	"ai-voice-call-service/internal/service/stt/mock"
	"ai-voice-call-service/internal/store"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Metrics      *metrics.Metrics
	Registry     *session.Registry
	Services     *collab.Services
	Provider     stt.Provider
	Publisher    *events.Publisher
	Store        *store.CallStore // nil when archiving is disabled
	Orchestrator *call.Orchestrator

	cancelSweeper context.CancelFunc
}

// Option overrides a collaborator, mostly for tests.
type Option func(*Application)

// WithMetrics uses m instead of the process-wide metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Application) { a.Metrics = m }
}

// WithProvider uses p instead of the configured STT provider.
func WithProvider(p stt.Provider) Option {
	return func(a *Application) { a.Provider = p }
}

// WithFactories replaces the built-in intent, response and speech factories.
func WithFactories(f collab.Factories) Option {
	return func(a *Application) { a.Services = collab.NewServices(f, collab.WithMetrics(a.Metrics)) }
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Config, opts ...Option) (*Application, error) {
	a := &Application{
		Cfg:     cfg,
		Metrics: metrics.DefaultMetrics,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	target, err := audio.NewConfig(cfg.Audio.SampleRateHz, cfg.Audio.Channels, cfg.Audio.SampleWidth, cfg.Audio.FrameDurationMs)
	if err != nil {
		return nil, err
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.Services == nil {
		a.Services = collab.NewServices(collab.BuiltinFactories(target),
			collab.WithMetrics(a.Metrics),
			collab.WithLogger(logging.WithComponent("collaborators")),
		)
	}
	if a.Provider == nil {
		if a.Provider, err = newProvider(cfg, target); err != nil {
			return nil, err
		}
	}

	a.Publisher = events.New(&events.Config{
		Enabled:          cfg.Kafka.Enabled,
		Brokers:          cfg.Kafka.Brokers,
		TopicTranscripts: cfg.Kafka.TopicTranscripts,
		TopicCalls:       cfg.Kafka.TopicCalls,
		TopicTurns:       cfg.Kafka.TopicTurns,
		Principal:        cfg.Kafka.Principal,
		Metrics:          a.Metrics,
	})

	if cfg.Storage.Enabled {
		if a.Store, err = store.Open(cfg.Storage.Path); err != nil {
			return nil, err
		}
	}

	a.Registry = session.NewRegistry(
		session.WithMetrics(a.Metrics),
		session.WithLogger(logging.WithComponent("session-registry")),
		session.OnStarted(a.callStarted),
		session.OnEnded(a.callEnded),
	)

	inbound := audio.SourceFormat{
		Encoding:   audio.Encoding(cfg.Audio.InboundEncoding),
		SampleRate: cfg.Audio.InboundSampleRateHz,
		Channels:   cfg.Audio.InboundChannels,
	}
	if enc, err := audio.ParseEncoding(cfg.Audio.InboundEncoding); err == nil {
		inbound.Encoding = enc
	}
	if err := inbound.Validate(); err != nil {
		return nil, fmt.Errorf("inbound audio format: %w", err)
	}

	callCfg := call.Config{
		Audio:            target,
		Inbound:          inbound,
		SilenceThreshold: cfg.Audio.SilenceThreshold,
		Stream: stt.StreamOptions{
			Model:          cfg.STT.Model,
			Language:       cfg.STT.LanguageCode,
			InterimResults: cfg.STT.InterimResults,
		},
		BridgeQueueSize:      cfg.STT.QueueSize,
		BridgeResultQueue:    cfg.STT.ResultQueue,
		BridgeStopTimeout:    cfg.STT.StopTimeout,
		ReceiveTimeout:       cfg.Call.ReceiveTimeout,
		ErrorBudget:          cfg.Call.ErrorBudget,
		EscalationConfidence: cfg.Call.EscalationConfidence,
		Greeting:             cfg.Call.Greeting,
		Apology:              cfg.Call.Apology,
		UtteranceGap:         cfg.Call.UtteranceGap,
	}
	a.Orchestrator = call.New(callCfg, a.Registry, a.Provider, a.Services,
		call.WithPublisher(a.Publisher),
		call.WithMetrics(a.Metrics),
		call.WithLogger(logging.WithComponent("call-orchestrator")),
	)

	appLogger.Info().
		Str("sttProvider", a.Provider.Name()).
		Bool("kafka", a.Publisher.Enabled()).
		Bool("archive", a.Store != nil).
		Msg("AI voice call service application created")
	return a, nil
}

func newProvider(cfg *config.Config, target audio.Config) (stt.Provider, error) {
	switch cfg.STT.Provider {
	case "deepgram":
		return deepgram.NewProvider(deepgram.Config{
			APIKey:      cfg.STT.APIKey,
			APIBaseURL:  cfg.STT.BaseURL,
			Model:       cfg.STT.Model,
			Language:    cfg.STT.LanguageCode,
			SmartFormat: true,
		}), nil
	case "google":
		gcfg := google.DefaultConfig()
		gcfg.LanguageCode = cfg.STT.LanguageCode
		gcfg.SampleRateHz = int32(target.SampleRate)
		gcfg.InterimResults = cfg.STT.InterimResults
		p, err := google.NewProvider(context.Background(), gcfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return mock.New(mock.Config{
			SilenceThreshold: cfg.Audio.SilenceThreshold,
			SampleWidth:      target.SampleWidth,
		}), nil
	}
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	logging.Init(logging.Config{
		Level:      a.Cfg.Observability.LogLevel,
		Format:     a.Cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})
	a.Logger = logging.WithComponent("application")

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("environment", os.Getenv("ENV")).
		Msg("Logger setup completed")
}

func (a *Application) callStarted(snap session.Snapshot) {
	a.publishCall(models.EventCallStarted, snap)
}

func (a *Application) callEnded(snap session.Snapshot) {
	a.publishCall(models.EventCallEnded, snap)
	if a.Store != nil {
		if err := a.Store.Save(snap); err != nil {
			a.Logger.Error().Err(err).Str("sessionId", snap.ID).Msg("Failed to archive call")
		}
	}
}

func (a *Application) publishCall(eventType string, snap session.Snapshot) {
	ev := models.CallEvent{
		EventType:      eventType,
		SessionID:      snap.ID,
		CallID:         snap.CallID,
		From:           snap.From,
		To:             snap.To,
		State:          snap.State,
		Timestamp:      time.Now().UnixMilli(),
		DurationMs:     snap.DurationMs,
		ErrorMessage:   snap.ErrorMessage,
		ShouldEscalate: snap.ShouldEscalate,
		Turns:          len(snap.Turns),
	}
	// Hooks run on the call's goroutine; do not let a slow broker hold it.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Publisher.PublishCallEvent(ctx, ev); err != nil {
		a.Logger.Warn().Err(err).Str("eventType", eventType).Str("sessionId", snap.ID).Msg("Failed to publish call event")
	}
}

// Start warms collaborators and starts the session sweeper.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("AI voice call service starting")

	// A collaborator that fails here is retried on first use.
	if err := a.Services.Warm(ctx); err != nil {
		startLogger.Warn().Err(err).Msg("Collaborator warm-up incomplete")
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	a.cancelSweeper = cancel
	go a.Registry.RunSweeper(sweepCtx, a.Cfg.Call.SweepInterval, a.Cfg.Call.StaleAge, a.Cfg.Call.RetainEnded)
	return nil
}

// Ready reports whether calls can be served.
func (a *Application) Ready() bool {
	return a.Services.Ready()
}

// Shutdown ends every call, then closes the publisher and the archive.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().Int("activeCalls", a.Registry.ActiveCount()).Msg("AI voice call service shutting down")

	if a.cancelSweeper != nil {
		a.cancelSweeper()
	}

	var errs []error
	if err := a.Registry.ShutdownAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.Publisher.Close(); err != nil {
		errs = append(errs, err)
	}
	if c, ok := a.Provider.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
