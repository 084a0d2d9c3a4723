package session

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-call-service/internal/service/audio"
)

// Roles in the conversation log.
const (
	RoleCaller    = "caller"
	RoleAssistant = "assistant"
)

// Turn is one entry of the conversation log.
type Turn struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Intent    string    `json:"intent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptEntry is a final transcript segment received for the call.
type TranscriptEntry struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// AudioStreamer is the STT side of a call: the bridge, stopped at teardown.
type AudioStreamer interface {
	Stop() error
}

// FrameBuffer is the frame processor, reset at teardown.
type FrameBuffer interface {
	Reset()
}

// Resources are the per-call objects the session owns and releases once.
type Resources struct {
	Bridge    AudioStreamer
	Processor FrameBuffer
	Socket    io.Closer
}

// Session is the state of one call.
//
// Call data is written by the orchestrator goroutine for the call. All fields
// are guarded by mu so the registry, its sweeper and HTTP readers can observe
// them concurrently.
type Session struct {
	ID     string
	CallID string
	From   string
	To     string

	mu               sync.Mutex
	state            State
	startedAt        time.Time
	connectedAt      time.Time
	endedAt          time.Time
	hasError         bool
	errorMessage     string
	currentIntent    string
	intentConfidence float64
	shouldEscalate   bool
	escalationReason string
	media            audio.SourceFormat
	turns            []Turn
	transcripts      []TranscriptEntry
	resources        Resources
	released         bool

	turnSeq         atomic.Uint64
	framesReceived  atomic.Uint64
	framesSent      atomic.Uint64
	framesDropped   atomic.Uint64
	silentFrames    atomic.Uint64
	transcriptCount atomic.Uint64
	errorCount      atomic.Uint64

	logger zerolog.Logger
}

func newSession(id, callID, from, to string, now time.Time, logger zerolog.Logger) *Session {
	return &Session{
		ID:        id,
		CallID:    callID,
		From:      from,
		To:        to,
		state:     StateInitializing,
		startedAt: now,
		logger:    logger,
	}
}

// Logger returns the session's call-scoped logger.
func (s *Session) Logger() zerolog.Logger {
	return s.logger
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsActive returns true until teardown has been claimed.
func (s *Session) IsActive() bool {
	return s.State().IsActive()
}

// Transition moves the session to the given state. Illegal moves return a
// *TransitionError and leave the state unchanged.
func (s *Session) Transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to, time.Now())
}

func (s *Session) transitionLocked(to State, now time.Time) error {
	if !CanTransition(s.state, to) {
		return &TransitionError{From: s.state, To: to}
	}
	from := s.state
	s.state = to
	switch {
	case to == StateConnected:
		s.connectedAt = now
	case to.IsTerminal():
		s.endedAt = now
	}
	s.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("Call state changed")
	return nil
}

// StartedAt returns when the session was created.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// EndedAt returns when the session reached a terminal state, or the zero time.
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// Duration is the time from creation to end, or to now for a live call.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durationLocked(time.Now())
}

func (s *Session) durationLocked(now time.Time) time.Duration {
	if !s.endedAt.IsZero() {
		return s.endedAt.Sub(s.startedAt)
	}
	return now.Sub(s.startedAt)
}

// MarkError flags the call as failed. The first message is kept.
func (s *Session) MarkError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasError {
		s.hasError = true
		s.errorMessage = msg
	}
}

// HasError reports whether the call will end as FAILED.
func (s *Session) HasError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasError
}

// ErrorMessage returns the first recorded error.
func (s *Session) ErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorMessage
}

// SetMediaFormat records the inbound format announced by the gateway.
func (s *Session) SetMediaFormat(f audio.SourceFormat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media = f
}

// MediaFormat returns the inbound audio format.
func (s *Session) MediaFormat() audio.SourceFormat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.media
}

// SetIntent records the most recent classified intent.
func (s *Session) SetIntent(intent string, confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentIntent = intent
	s.intentConfidence = confidence
}

// CurrentIntent returns the latest intent and its confidence.
func (s *Session) CurrentIntent() (string, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentIntent, s.intentConfidence
}

// Escalate flags the call for a human. It returns true the first time.
func (s *Session) Escalate(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shouldEscalate {
		return false
	}
	s.shouldEscalate = true
	s.escalationReason = reason
	return true
}

// ShouldEscalate reports whether the call has been flagged for a human.
func (s *Session) ShouldEscalate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shouldEscalate
}

// NextTurnID returns a per-call monotonically increasing turn id.
func (s *Session) NextTurnID() string {
	n := s.turnSeq.Add(1)
	return fmt.Sprintf("%s-turn-%d", s.CallID, n)
}

// AddTurn appends to the conversation log.
func (s *Session) AddTurn(t Turn) {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, t)
}

// Turns returns a copy of the conversation log.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.turns...)
}

// AddTranscript appends a final transcript segment.
func (s *Session) AddTranscript(e TranscriptEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts = append(s.transcripts, e)
}

// History returns the conversation as role/content pairs for the response
// generator.
func (s *Session) History() []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]string, 0, len(s.turns))
	for _, t := range s.turns {
		out = append(out, map[string]string{"role": t.Role, "content": t.Content})
	}
	return out
}

// Counter updates. These are safe from any goroutine.

func (s *Session) AddFramesReceived(n int) { s.framesReceived.Add(uint64(n)) }
func (s *Session) AddFramesSent(n int)     { s.framesSent.Add(uint64(n)) }
func (s *Session) AddFramesDropped(n int)  { s.framesDropped.Add(uint64(n)) }
func (s *Session) AddSilentFrames(n int)   { s.silentFrames.Add(uint64(n)) }
func (s *Session) CountTranscript()        { s.transcriptCount.Add(1) }

// CountError records a per-iteration error and returns the running total.
func (s *Session) CountError() int {
	return int(s.errorCount.Add(1))
}

// Attach hands ownership of the call's resources to the session.
func (s *Session) Attach(r Resources) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources = r
}

// release stops the bridge, resets the processor and closes the socket,
// exactly once. Each step runs even if an earlier one fails.
func (s *Session) release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	r := s.resources
	s.resources = Resources{}
	s.mu.Unlock()

	if r.Bridge != nil {
		if err := r.Bridge.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("STT bridge did not stop cleanly")
		}
	}
	if r.Processor != nil {
		r.Processor.Reset()
	}
	if r.Socket != nil {
		if err := r.Socket.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Gateway socket close failed")
		}
	}
}

// MediaSnapshot is the JSON form of the inbound format.
type MediaSnapshot struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// Counters are the per-call counters.
type Counters struct {
	FramesReceived uint64 `json:"framesReceived"`
	FramesSent     uint64 `json:"framesSent"`
	FramesDropped  uint64 `json:"framesDropped"`
	SilentFrames   uint64 `json:"silentFrames"`
	Turns          uint64 `json:"turns"`
	Transcripts    uint64 `json:"transcripts"`
	Errors         uint64 `json:"errors"`
}

// Snapshot is an immutable copy of a session.
type Snapshot struct {
	ID               string            `json:"id"`
	CallID           string            `json:"callId"`
	From             string            `json:"from"`
	To               string            `json:"to"`
	State            string            `json:"state"`
	IsActive         bool              `json:"isActive"`
	StartedAt        time.Time         `json:"startedAt"`
	ConnectedAt      *time.Time        `json:"connectedAt,omitempty"`
	EndedAt          *time.Time        `json:"endedAt,omitempty"`
	DurationMs       int64             `json:"durationMs"`
	HasError         bool              `json:"hasError"`
	ErrorMessage     string            `json:"errorMessage,omitempty"`
	CurrentIntent    string            `json:"currentIntent,omitempty"`
	IntentConfidence float64           `json:"intentConfidence,omitempty"`
	ShouldEscalate   bool              `json:"shouldEscalate"`
	EscalationReason string            `json:"escalationReason,omitempty"`
	Media            MediaSnapshot     `json:"media"`
	Counters         Counters          `json:"counters"`
	Turns            []Turn            `json:"turns"`
	Transcripts      []TranscriptEntry `json:"transcripts"`
}

// Snapshot copies the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:               s.ID,
		CallID:           s.CallID,
		From:             s.From,
		To:               s.To,
		State:            s.state.String(),
		IsActive:         s.state.IsActive(),
		StartedAt:        s.startedAt,
		DurationMs:       s.durationLocked(time.Now()).Milliseconds(),
		HasError:         s.hasError,
		ErrorMessage:     s.errorMessage,
		CurrentIntent:    s.currentIntent,
		IntentConfidence: s.intentConfidence,
		ShouldEscalate:   s.shouldEscalate,
		EscalationReason: s.escalationReason,
		Media: MediaSnapshot{
			Encoding:   string(s.media.Encoding),
			SampleRate: s.media.SampleRate,
			Channels:   s.media.Channels,
		},
		Counters: Counters{
			FramesReceived: s.framesReceived.Load(),
			FramesSent:     s.framesSent.Load(),
			FramesDropped:  s.framesDropped.Load(),
			SilentFrames:   s.silentFrames.Load(),
			Turns:          uint64(len(s.turns)),
			Transcripts:    s.transcriptCount.Load(),
			Errors:         s.errorCount.Load(),
		},
		Turns:       append([]Turn{}, s.turns...),
		Transcripts: append([]TranscriptEntry{}, s.transcripts...),
	}
	if !s.connectedAt.IsZero() {
		t := s.connectedAt
		snap.ConnectedAt = &t
	}
	if !s.endedAt.IsZero() {
		t := s.endedAt
		snap.EndedAt = &t
	}
	return snap
}
