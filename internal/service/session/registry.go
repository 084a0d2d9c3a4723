package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-voice-call-service/internal/observability/logging"
	"ai-voice-call-service/internal/observability/metrics"
)

// Totals are the registry's cumulative call counts.
type Totals struct {
	Started   uint64 `json:"started"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
}

// Hook observes a session lifecycle event. Hooks run on the goroutine that
// caused the event, outside the registry lock.
type Hook func(Snapshot)

// Registry tracks every call in the process.
//
// One mutex serializes create, the end claim, end bookkeeping, cleanup and
// purge. Resource release during EndSession happens outside the lock, so
// tearing down one call never waits on another.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session // by session id
	byCall   map[string]string   // call id → session id
	totals   Totals

	logger    zerolog.Logger
	metrics   *metrics.Metrics
	onStarted []Hook
	onEnded   []Hook
	now       func() time.Time
	newID     func() string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l zerolog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// OnStarted registers a hook run after a session is created.
func OnStarted(h Hook) RegistryOption {
	return func(r *Registry) { r.onStarted = append(r.onStarted, h) }
}

// OnEnded registers a hook run once a session reaches a terminal state.
func OnEnded(h Hook) RegistryOption {
	return func(r *Registry) { r.onEnded = append(r.onEnded, h) }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		byCall:   make(map[string]string),
		logger:   log.With().Str("component", "call-registry").Logger(),
		metrics:  metrics.DefaultMetrics,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// CreateSession registers a new call. A call id that already has an active
// session is rejected with ErrDuplicateCall. If the previous session for the
// call id has finished, the new session takes over the call id; the old record
// stays reachable by its session id until purged.
func (r *Registry) CreateSession(callID, from, to string) (*Session, error) {
	if callID == "" {
		return nil, ErrInvalidCallID
	}

	r.mu.Lock()
	if prevID, ok := r.byCall[callID]; ok {
		if prev := r.sessions[prevID]; prev != nil && !prev.State().IsTerminal() {
			r.mu.Unlock()
			r.logger.Warn().Str("callId", callID).Str("sessionId", prevID).Msg("Rejecting duplicate call")
			return nil, ErrDuplicateCall
		}
	}

	id := r.newID()
	s := newSession(id, callID, from, to, r.now(), logging.WithCall(r.logger, id, callID))
	r.sessions[id] = s
	r.byCall[callID] = id
	r.totals.Started++
	r.mu.Unlock()

	r.metrics.RecordCallStart()
	s.logger.Info().Str("from", from).Str("to", to).Msg("Call session created")

	if len(r.onStarted) > 0 {
		snap := s.Snapshot()
		for _, h := range r.onStarted {
			h(snap)
		}
	}
	return s, nil
}

// Get looks a session up by session id, then by call id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s, true
	}
	if sid, ok := r.byCall[id]; ok {
		s, ok := r.sessions[sid]
		return s, ok
	}
	return nil, false
}

// EndSession tears a call down. Only the first caller does the work and gets
// true; later calls return false without touching totals or metrics.
//
// The claim (→ ENDING) happens under the registry lock. Resources are then
// released without the lock, the session is marked ENDED (or FAILED when it
// carries an error) and totals are updated.
func (r *Registry) EndSession(sessionID string) bool {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if err := s.Transition(StateEnding); err != nil {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	s.release()

	final := StateEnded
	if s.HasError() {
		final = StateFailed
	}
	s.mu.Lock()
	if err := s.transitionLocked(final, r.now()); err != nil {
		// ENDING → ENDED/FAILED is always allowed.
		s.logger.Error().Err(err).Msg("Unexpected end transition")
	}
	duration := s.durationLocked(r.now())
	s.mu.Unlock()

	failed := final == StateFailed
	r.mu.Lock()
	if failed {
		r.totals.Failed++
	} else {
		r.totals.Completed++
	}
	r.mu.Unlock()

	r.metrics.RecordCallEnd(failed, duration.Seconds())

	snap := s.Snapshot()
	ev := s.logger.Info()
	if failed {
		ev = s.logger.Warn().Str("error", snap.ErrorMessage)
	}
	ev.Str("state", snap.State).
		Int64("durationMs", snap.DurationMs).
		Uint64("framesReceived", snap.Counters.FramesReceived).
		Uint64("framesDropped", snap.Counters.FramesDropped).
		Msg("Call session ended")

	for _, h := range r.onEnded {
		h(snap)
	}
	return true
}

// CleanupStale force-ends active sessions started more than maxAge ago and
// returns how many were ended.
func (r *Registry) CleanupStale(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)

	r.mu.Lock()
	var stale []*Session
	for _, s := range r.sessions {
		if s.IsActive() && s.StartedAt().Before(cutoff) {
			stale = append(stale, s)
		}
	}
	r.mu.Unlock()

	n := 0
	for _, s := range stale {
		s.MarkError("stale session")
		if r.EndSession(s.ID) {
			n++
		}
	}
	if n > 0 {
		r.metrics.RecordStaleCleanup(n)
		r.logger.Warn().Int("count", n).Dur("maxAge", maxAge).Msg("Cleaned up stale call sessions")
	}
	return n
}

// ShutdownAll ends every active session concurrently. It returns ctx.Err()
// if the context is done before all sessions have ended.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id, s := range r.sessions {
		if !s.State().IsTerminal() {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	r.logger.Info().Int("count", len(ids)).Msg("Ending active calls for shutdown")

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.EndSession(id)
		}(id)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.logger.Warn().Err(ctx.Err()).Msg("Shutdown deadline reached with calls still ending")
		return ctx.Err()
	}
}

// Purge forgets a finished session.
func (r *Registry) Purge(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if !s.State().IsTerminal() {
		return ErrSessionActive
	}
	r.removeLocked(s)
	return nil
}

// PurgeEnded forgets sessions that finished more than olderThan ago.
func (r *Registry) PurgeEnded(olderThan time.Duration) int {
	cutoff := r.now().Add(-olderThan)

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range r.sessions {
		if !s.State().IsTerminal() {
			continue
		}
		if ended := s.EndedAt(); !ended.IsZero() && ended.Before(cutoff) {
			r.removeLocked(s)
			n++
		}
	}
	return n
}

func (r *Registry) removeLocked(s *Session) {
	delete(r.sessions, s.ID)
	if r.byCall[s.CallID] == s.ID {
		delete(r.byCall, s.CallID)
	}
}

// Snapshots returns copies of every known session, oldest first.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Totals returns the cumulative counts.
func (r *Registry) Totals() Totals {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totals
}

// ActiveCount returns the number of sessions not yet tearing down.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.IsActive() {
			n++
		}
	}
	return n
}

// RunSweeper periodically ends stale calls and purges old finished records
// until ctx is done. A zero retainEnded keeps finished records.
func (r *Registry) RunSweeper(ctx context.Context, interval, staleAge, retainEnded time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", interval).Dur("staleAge", staleAge).Msg("Session sweeper started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if staleAge > 0 {
				r.CleanupStale(staleAge)
			}
			if retainEnded > 0 {
				if n := r.PurgeEnded(retainEnded); n > 0 {
					r.logger.Debug().Int("count", n).Msg("Purged finished call sessions")
				}
			}
		}
	}
}
