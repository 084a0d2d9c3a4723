package stt

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-voice-call-service/internal/observability/metrics"
)

const (
	DefaultQueueSize       = 100
	DefaultResultQueueSize = 64
	DefaultStopTimeout     = 2 * time.Second
)

// Callback receives bridge output on the dispatcher goroutine, one call at a
// time, in the order the provider produced it.
type Callback struct {
	OnTranscript func(TranscriptResult)
	// OnError receives session-fatal errors, at most once.
	OnError func(error)
}

// BridgeStats is a point-in-time copy of bridge counters.
type BridgeStats struct {
	Provider      string `json:"provider"`
	Connected     bool   `json:"connected"`
	FramesQueued  uint64 `json:"framesQueued"`
	FramesSent    uint64 `json:"framesSent"`
	FramesDropped uint64 `json:"framesDropped"`
	Transcripts   uint64 `json:"transcripts"`
	Finals        uint64 `json:"finals"`
	ParseErrors   uint64 `json:"parseErrors"`
	LastError     string `json:"lastError,omitempty"`
}

type bridgeEvent struct {
	result TranscriptResult
	err    error
}

// Bridge owns one provider connection for the lifetime of a call.
//
// A worker goroutine dials the provider and runs the blocking send loop; a
// receiver goroutine reads provider messages; a dispatcher goroutine invokes
// the Callback. Audio flows in through a bounded queue with drop-on-full,
// results flow out through a bounded ordered queue.
type Bridge struct {
	provider    Provider
	opts        StreamOptions
	queueSize   int
	resultSize  int
	stopTimeout time.Duration
	logger      zerolog.Logger
	metrics     *metrics.Metrics

	audio     chan []byte
	results   chan bridgeEvent
	quit      chan struct{} // closed by Stop; the sender loop's sentinel
	done      chan struct{} // closed when the worker returns
	abandoned chan struct{} // closed when Stop gives up waiting

	started   atomic.Bool
	running   atomic.Bool
	connected atomic.Bool
	stopOnce  sync.Once
	fatalOnce sync.Once

	framesQueued  atomic.Uint64
	framesSent    atomic.Uint64
	framesDropped atomic.Uint64
	transcripts   atomic.Uint64
	finals        atomic.Uint64
	parseErrors   atomic.Uint64

	errMu   sync.Mutex
	lastErr error
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithQueueSize sets the audio queue capacity in frames.
func WithQueueSize(n int) BridgeOption {
	return func(b *Bridge) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithResultQueueSize sets the transcript queue capacity.
func WithResultQueueSize(n int) BridgeOption {
	return func(b *Bridge) {
		if n > 0 {
			b.resultSize = n
		}
	}
}

// WithStopTimeout bounds how long Stop waits for the worker.
func WithStopTimeout(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		if d > 0 {
			b.stopTimeout = d
		}
	}
}

// WithLogger sets the bridge logger.
func WithLogger(l zerolog.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) BridgeOption {
	return func(b *Bridge) { b.metrics = m }
}

// NewBridge creates a bridge. Nothing is dialed until Start.
func NewBridge(provider Provider, opts StreamOptions, options ...BridgeOption) *Bridge {
	b := &Bridge{
		provider:    provider,
		opts:        opts,
		queueSize:   DefaultQueueSize,
		resultSize:  DefaultResultQueueSize,
		stopTimeout: DefaultStopTimeout,
		logger:      log.With().Str("component", "stt-bridge").Str("sttProvider", provider.Name()).Logger(),
		metrics:     metrics.DefaultMetrics,
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		abandoned:   make(chan struct{}),
	}
	for _, o := range options {
		o(b)
	}
	b.audio = make(chan []byte, b.queueSize)
	b.results = make(chan bridgeEvent, b.resultSize)
	return b
}

// Start launches the worker and dispatcher goroutines and returns at once.
// Connection failures are reported through cb.OnError.
func (b *Bridge) Start(ctx context.Context, cb Callback) error {
	select {
	case <-b.quit:
		return ErrStopped
	default:
	}
	if !b.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	b.running.Store(true)

	go b.worker(ctx)
	go b.dispatch(cb)
	return nil
}

// SendAudio queues a frame without blocking. It returns false when the frame
// was dropped because the queue is full or the bridge is not running.
func (b *Bridge) SendAudio(frame []byte) bool {
	if !b.running.Load() {
		b.drop()
		return false
	}
	select {
	case b.audio <- frame:
		b.framesQueued.Add(1)
		return true
	default:
		b.drop()
		return false
	}
}

func (b *Bridge) drop() {
	n := b.framesDropped.Add(1)
	b.metrics.RecordFrameDropped(b.provider.Name())
	// Log the first drop and then every hundredth to keep the hot path quiet.
	if n == 1 || n%100 == 0 {
		b.logger.Warn().Err(ErrQueueOverflow).Uint64("dropped", n).Msg("Dropping audio frame")
	}
}

// Stop signals the worker and waits up to the stop timeout for it to exit.
// A worker that does not exit is abandoned and a *JoinTimeoutError returned.
// Stop is idempotent.
func (b *Bridge) Stop() error {
	var err error
	b.stopOnce.Do(func() {
		b.running.Store(false)
		close(b.quit)

		if !b.started.Load() {
			return
		}

		timer := time.NewTimer(b.stopTimeout)
		defer timer.Stop()

		select {
		case <-b.done:
			b.logger.Debug().Msg("STT worker stopped")
		case <-timer.C:
			close(b.abandoned)
			b.metrics.RecordJoinTimeout(b.provider.Name())
			err = &JoinTimeoutError{Provider: b.provider.Name(), Timeout: b.stopTimeout}
			b.logger.Warn().Err(err).Msg("Abandoning STT worker")
		}
	})
	return err
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() BridgeStats {
	s := BridgeStats{
		Provider:      b.provider.Name(),
		Connected:     b.connected.Load(),
		FramesQueued:  b.framesQueued.Load(),
		FramesSent:    b.framesSent.Load(),
		FramesDropped: b.framesDropped.Load(),
		Transcripts:   b.transcripts.Load(),
		Finals:        b.finals.Load(),
		ParseErrors:   b.parseErrors.Load(),
	}
	b.errMu.Lock()
	if b.lastErr != nil {
		s.LastError = b.lastErr.Error()
	}
	b.errMu.Unlock()
	return s
}

func (b *Bridge) worker(ctx context.Context) {
	defer close(b.done)
	defer close(b.results)

	conn, err := b.provider.Connect(ctx, b.opts)
	if err != nil {
		b.fail(&ProviderConnectionError{Provider: b.provider.Name(), Op: "connect", Err: err})
		return
	}
	b.connected.Store(true)
	defer b.connected.Store(false)
	b.logger.Info().
		Int("sampleRate", b.opts.SampleRate).
		Str("language", b.opts.Language).
		Msg("STT stream connected")

	recvDone := make(chan struct{})
	go func() {
		defer close(recvDone)
		b.receive(conn)
	}()

	b.sendLoop(ctx, conn, recvDone)

	if err := conn.CloseSend(); err != nil {
		b.logger.Debug().Err(err).Msg("STT close send failed")
	}

	// Give the provider a moment to flush trailing finals.
	drain := time.NewTimer(b.stopTimeout / 2)
	select {
	case <-recvDone:
	case <-drain.C:
	case <-b.abandoned:
	}
	drain.Stop()

	if err := conn.Close(); err != nil {
		b.logger.Debug().Err(err).Msg("STT connection close failed")
	}
	<-recvDone
}

func (b *Bridge) sendLoop(ctx context.Context, conn Connection, recvDone <-chan struct{}) {
	for {
		select {
		case <-b.quit:
			b.flushQueue(conn)
			return
		case <-ctx.Done():
			// Cancellation is a stop, not a provider failure.
			b.running.Store(false)
			return
		case <-recvDone:
			return
		case frame := <-b.audio:
			if !b.send(conn, frame) {
				return
			}
		}
	}
}

// flushQueue sends frames queued before Stop.
func (b *Bridge) flushQueue(conn Connection) {
	for {
		select {
		case frame := <-b.audio:
			if !b.send(conn, frame) {
				return
			}
		default:
			return
		}
	}
}

func (b *Bridge) send(conn Connection, frame []byte) bool {
	if err := conn.Send(frame); err != nil {
		b.fail(&ProviderConnectionError{Provider: b.provider.Name(), Op: "send", Err: err})
		return false
	}
	b.framesSent.Add(1)
	return true
}

func (b *Bridge) receive(conn Connection) {
	for {
		msg, err := conn.Recv()
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				b.parseErrors.Add(1)
				b.metrics.RecordSTTError(b.provider.Name(), "parse")
				b.logger.Warn().Err(err).Msg("Skipping unparseable STT message")
				continue
			}
			if errors.Is(err, io.EOF) {
				// The provider hung up while audio was still expected.
				if b.running.Load() {
					b.fail(&ProviderConnectionError{Provider: b.provider.Name(), Op: "recv", Err: io.ErrUnexpectedEOF})
				}
				return
			}
			b.fail(&ProviderConnectionError{Provider: b.provider.Name(), Op: "recv", Err: err})
			return
		}

		res, ok := NewTranscriptResult(msg, time.Now())
		if !ok {
			continue
		}
		b.transcripts.Add(1)
		if res.IsFinal {
			b.finals.Add(1)
			b.metrics.RecordFinalTranscript()
		} else {
			b.metrics.RecordPartialTranscript()
		}

		select {
		case b.results <- bridgeEvent{result: res}:
		case <-b.abandoned:
			return
		}
	}
}

// fail records a connection error and reports it once while the bridge is
// running. Errors raised while stopping are expected and only logged.
func (b *Bridge) fail(err error) {
	b.errMu.Lock()
	if b.lastErr == nil {
		b.lastErr = err
	}
	b.errMu.Unlock()

	if !b.running.Swap(false) {
		b.logger.Debug().Err(err).Msg("STT connection error during shutdown")
		return
	}

	var pce *ProviderConnectionError
	op := "connection"
	if errors.As(err, &pce) {
		op = pce.Op
	}
	b.metrics.RecordSTTError(b.provider.Name(), op)
	b.logger.Error().Err(err).Msg("STT provider connection failed")

	b.fatalOnce.Do(func() {
		select {
		case b.results <- bridgeEvent{err: err}:
		case <-b.abandoned:
		}
	})
}

func (b *Bridge) dispatch(cb Callback) {
	for {
		select {
		case ev, ok := <-b.results:
			if !ok {
				return
			}
			if ev.err != nil {
				if cb.OnError != nil {
					cb.OnError(ev.err)
				}
				continue
			}
			if cb.OnTranscript != nil {
				cb.OnTranscript(ev.result)
			}
		case <-b.abandoned:
			return
		}
	}
}
