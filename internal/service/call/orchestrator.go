// Package call drives one phone call from gateway audio to spoken replies.
package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-voice-call-service/internal/models"
	"ai-voice-call-service/internal/observability/logging"
	"ai-voice-call-service/internal/observability/metrics"
	"ai-voice-call-service/internal/schema"
	"ai-voice-call-service/internal/service/audio"
	"ai-voice-call-service/internal/service/collab"
	"ai-voice-call-service/internal/service/session"
	"ai-voice-call-service/internal/service/stt"
)

// Transport is the gateway connection. *websocket.Conn satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Publisher receives transcript and turn events. *events.Publisher
// satisfies it.
type Publisher interface {
	PublishTranscript(ctx context.Context, ev models.TranscriptEvent) error
	PublishTurn(ctx context.Context, ev models.TurnEvent) error
}

// Config holds per-call settings.
type Config struct {
	Audio                audio.Config
	Inbound              audio.SourceFormat // assumed until the gateway announces one
	SilenceThreshold     float64
	Stream               stt.StreamOptions // Model, Language and InterimResults are used
	BridgeQueueSize      int
	BridgeResultQueue    int
	BridgeStopTimeout    time.Duration
	ReceiveTimeout       time.Duration
	ErrorBudget          int
	EscalationConfidence float64
	Greeting             string
	Apology              string
	UtteranceGap         time.Duration
}

// DefaultConfig returns the built-in call settings.
func DefaultConfig() Config {
	return Config{
		Audio:                audio.DefaultConfig(),
		Inbound:              audio.SourceFormat{Encoding: audio.EncodingMulaw, SampleRate: 8000, Channels: 1},
		SilenceThreshold:     audio.DefaultSilenceThreshold,
		Stream:               stt.StreamOptions{InterimResults: true},
		BridgeQueueSize:      stt.DefaultQueueSize,
		BridgeResultQueue:    stt.DefaultResultQueueSize,
		BridgeStopTimeout:    stt.DefaultStopTimeout,
		ReceiveTimeout:       10 * time.Second,
		ErrorBudget:          5,
		EscalationConfidence: 0.55,
		Greeting:             "Thank you for calling. How can I help you today?",
		Apology:              "I'm sorry, I'm having trouble with that. Let me connect you with a member of our team.",
		UtteranceGap:         1500 * time.Millisecond,
	}
}

// Orchestrator runs calls. One Orchestrator serves every call in the process;
// per-call state lives in the session and in the call's own goroutines.
type Orchestrator struct {
	cfg       Config
	registry  *session.Registry
	provider  stt.Provider
	services  *collab.Services
	publisher Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher sets where transcript and turn events go.
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator.
func New(cfg Config, registry *session.Registry, provider stt.Provider, services *collab.Services, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		registry: registry,
		provider: provider,
		services: services,
		metrics:  metrics.DefaultMetrics,
		logger:   log.With().Str("component", "call-orchestrator").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type inbound struct {
	messageType int
	data        []byte
	err         error
}

// call is the state of one HandleCall invocation. Everything except the
// channels is owned by the loop goroutine.
type call struct {
	o         *Orchestrator
	sess      *session.Session
	conn      Transport
	processor *audio.Processor
	bridge    *stt.Bridge
	logger    zerolog.Logger

	media audio.SourceFormat

	inbound     chan inbound
	transcripts chan stt.TranscriptResult
	fatal       chan error
	done        chan struct{}

	pending  []string
	gapTimer *time.Timer
}

// HandleCall runs a call until the gateway stops it, disconnects, the STT
// provider fails, the error budget is exhausted or ctx is cancelled. The
// session is always ended and the transport always closed before it returns.
func (o *Orchestrator) HandleCall(ctx context.Context, conn Transport, callID, from, to string) error {
	sess, err := o.registry.CreateSession(callID, from, to)
	if err != nil {
		_ = conn.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := &call{
		o:           o,
		sess:        sess,
		conn:        conn,
		logger:      logging.WithCall(o.logger, sess.ID, callID),
		media:       o.cfg.Inbound,
		inbound:     make(chan inbound, 32),
		transcripts: make(chan stt.TranscriptResult, max(o.cfg.BridgeResultQueue, 1)),
		fatal:       make(chan error, 1),
		done:        make(chan struct{}),
	}
	sess.SetMediaFormat(c.media)

	c.processor = audio.NewProcessor(o.cfg.Audio,
		audio.WithSilenceThreshold(o.cfg.SilenceThreshold),
		audio.WithLogger(c.logger),
		audio.WithMetrics(o.metrics),
	)

	streamOpts := o.cfg.Stream
	streamOpts.SampleRate = o.cfg.Audio.SampleRate
	streamOpts.Channels = o.cfg.Audio.Channels
	streamOpts.Encoding = "linear16"
	if o.cfg.Audio.SampleWidth == 1 {
		streamOpts.Encoding = "linear8"
	}
	c.bridge = stt.NewBridge(o.provider, streamOpts,
		stt.WithQueueSize(o.cfg.BridgeQueueSize),
		stt.WithResultQueueSize(o.cfg.BridgeResultQueue),
		stt.WithStopTimeout(o.cfg.BridgeStopTimeout),
		stt.WithLogger(logging.WithStream(c.logger, o.provider.Name())),
		stt.WithMetrics(o.metrics),
	)

	sess.Attach(session.Resources{Bridge: c.bridge, Processor: c.processor, Socket: conn})
	defer func() {
		close(c.done)
		c.stopGapTimer()
		o.registry.EndSession(sess.ID)
	}()

	if err := c.bridge.Start(ctx, stt.Callback{
		OnTranscript: c.deliverTranscript,
		OnError:      c.deliverFatal,
	}); err != nil {
		sess.MarkError(err.Error())
		return err
	}
	if err := sess.Transition(session.StateConnected); err != nil {
		c.logger.Warn().Err(err).Msg("Could not mark call connected")
	}

	go c.readLoop()

	c.send(schema.Outbound{
		Type:       schema.TypeConnected,
		SessionID:  sess.ID,
		Encoding:   string(c.media.Encoding),
		SampleRate: c.media.SampleRate,
		Channels:   c.media.Channels,
	})
	if o.cfg.Greeting != "" {
		if err := c.speak(ctx, o.cfg.Greeting); err != nil {
			c.logger.Warn().Err(err).Msg("Greeting failed")
			if budgetErr := c.countError("greeting", err); budgetErr != nil {
				return budgetErr
			}
		} else {
			sess.AddTurn(session.Turn{ID: sess.NextTurnID(), Role: session.RoleAssistant, Content: o.cfg.Greeting})
		}
	}

	err = c.loop(ctx)
	switch {
	case err == nil:
		c.logger.Info().Msg("Call finished")
	case errors.Is(err, ErrTransportDisconnect), errors.Is(err, context.Canceled):
		c.logger.Info().Err(err).Msg("Call finished without stop")
	default:
		c.logger.Error().Err(err).Msg("Call failed")
	}
	return err
}

func (c *call) loop(ctx context.Context) error {
	idle := time.NewTimer(c.o.cfg.ReceiveTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-c.fatal:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.sess.MarkError(err.Error())
			c.o.metrics.RecordCallError("stt")
			return err

		case msg, ok := <-c.inbound:
			if !ok {
				return ErrTransportDisconnect
			}
			if msg.err != nil {
				if websocket.IsCloseError(msg.err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					return nil
				}
				return fmt.Errorf("%w: %v", ErrTransportDisconnect, msg.err)
			}
			resetTimer(idle, c.o.cfg.ReceiveTimeout)

			stop, err := c.handleMessage(msg)
			if err != nil {
				if budgetErr := c.countError("message", err); budgetErr != nil {
					return budgetErr
				}
			}
			if stop {
				c.flushAudio()
				return nil
			}

		case r := <-c.transcripts:
			if err := c.onTranscript(ctx, r); err != nil {
				if budgetErr := c.countError("turn", err); budgetErr != nil {
					return budgetErr
				}
			}

		case <-c.gapC():
			c.gapTimer = nil
			if err := c.finishUtterance(ctx); err != nil {
				if budgetErr := c.countError("turn", err); budgetErr != nil {
					return budgetErr
				}
			}

		case <-idle.C:
			c.logger.Debug().Dur("timeout", c.o.cfg.ReceiveTimeout).Msg("No gateway input, sending keepalive")
			if err := c.send(schema.Outbound{Type: schema.TypeKeepalive}); err != nil {
				if budgetErr := c.countError("keepalive", err); budgetErr != nil {
					return budgetErr
				}
			}
			idle.Reset(c.o.cfg.ReceiveTimeout)
		}
	}
}

// countError records a recoverable error and returns ErrErrorBudgetExceeded
// once the call has seen more than the configured budget.
func (c *call) countError(kind string, err error) error {
	n := c.sess.CountError()
	c.o.metrics.RecordCallError(kind)
	c.logger.Warn().Err(err).Str("kind", kind).Int("errors", n).Msg("Recoverable call error")

	if n > c.o.cfg.ErrorBudget {
		c.sess.MarkError(ErrErrorBudgetExceeded.Error())
		return ErrErrorBudgetExceeded
	}
	return nil
}

func (c *call) readLoop() {
	for {
		mt, data, err := c.conn.ReadMessage()
		select {
		case c.inbound <- inbound{messageType: mt, data: data, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *call) deliverTranscript(r stt.TranscriptResult) {
	select {
	case c.transcripts <- r:
	case <-c.done:
	}
}

func (c *call) deliverFatal(err error) {
	select {
	case c.fatal <- err:
	default:
	}
}

func (c *call) handleMessage(msg inbound) (stop bool, err error) {
	switch msg.messageType {
	case websocket.BinaryMessage:
		c.handleAudio(msg.data)
		return false, nil
	case websocket.TextMessage:
		return c.handleControl(msg.data)
	default:
		return false, nil
	}
}

func (c *call) markInProgress() {
	if c.sess.State() == session.StateConnected {
		if err := c.sess.Transition(session.StateInProgress); err != nil {
			c.logger.Debug().Err(err).Msg("Could not mark call in progress")
		}
	}
}

func (c *call) handleAudio(data []byte) {
	c.markInProgress()
	c.o.metrics.RecordAudioReceived(len(data))

	frames := c.processor.Process(data, c.media)
	c.forward(frames)
}

func (c *call) forward(frames []audio.Frame) {
	if len(frames) == 0 {
		return
	}
	silent, dropped := 0, 0
	for _, f := range frames {
		if f.Silent {
			silent++
		}
		if !c.bridge.SendAudio(f.Data) {
			dropped++
		}
	}
	c.sess.AddFramesReceived(len(frames))
	c.sess.AddSilentFrames(silent)
	c.sess.AddFramesDropped(dropped)
}

// flushAudio sends the buffered tail of the caller's audio before teardown.
func (c *call) flushAudio() {
	if f, ok := c.processor.Flush(); ok {
		c.forward([]audio.Frame{f})
	}
}

func (c *call) handleControl(data []byte) (bool, error) {
	ctl, err := schema.Parse(data)
	if err != nil {
		return false, err
	}

	switch ctl.Type {
	case schema.TypeStart:
		if ctl.HasMedia() {
			if err := c.setMedia(ctl); err != nil {
				return false, err
			}
		}
		c.markInProgress()
		c.logger.Info().Str("encoding", string(c.media.Encoding)).Int("sampleRate", c.media.SampleRate).Msg("Gateway started media")
	case schema.TypeMediaConfig:
		return false, c.setMedia(ctl)
	case schema.TypeMedia:
		b, err := ctl.Audio()
		if err != nil {
			return false, err
		}
		c.handleAudio(b)
	case schema.TypeStop:
		c.logger.Info().Msg("Gateway sent stop")
		return true, nil
	case schema.TypeError:
		return false, fmt.Errorf("gateway error: %s", ctl.Message)
	case schema.TypeKeepalive:
	}
	return false, nil
}

func (c *call) setMedia(ctl schema.Control) error {
	f, err := ctl.SourceFormat(c.media)
	if err != nil {
		return err
	}
	if f != c.media {
		// Buffered bytes were decoded under the old format; keep them, they
		// are already target PCM.
		c.media = f
		c.sess.SetMediaFormat(f)
		c.logger.Info().
			Str("encoding", string(f.Encoding)).
			Int("sampleRate", f.SampleRate).
			Int("channels", f.Channels).
			Msg("Inbound media format changed")
	}
	return nil
}

func (c *call) send(out schema.Outbound) error {
	b, err := out.Marshal()
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *call) gapC() <-chan time.Time {
	if c.gapTimer == nil {
		return nil
	}
	return c.gapTimer.C
}

func (c *call) stopGapTimer() {
	if c.gapTimer != nil {
		c.gapTimer.Stop()
		c.gapTimer = nil
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
