package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ai-voice-call-service/internal/app"
	"ai-voice-call-service/internal/observability/logging"
	"ai-voice-call-service/internal/service/session"
	"ai-voice-call-service/internal/store"
)

// maxGatewayMessageBytes caps one inbound websocket message. A second of
// 48kHz stereo linear16 as base64 JSON fits comfortably.
const maxGatewayMessageBytes = 512 << 10

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Gateways connect server to server; there is no browser origin to check.
	CheckOrigin: func(*http.Request) bool { return true },
}

type handlers struct {
	app *app.Application
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	h := &handlers{app: application}
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !application.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", h.stats)
		r.Route("/calls", func(r chi.Router) {
			r.Get("/", h.listCalls)
			r.Get("/stream", h.stream)
			r.Get("/{id}", h.getCall)
			r.Delete("/{id}", h.purgeCall)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// listCalls lists calls held in the registry, or with ?archived=true the
// ended calls saved to the archive (at most ?limit of them).
func (h *handlers) listCalls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	archived := false
	if v := q.Get("archived"); v != "" {
		var err error
		if archived, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, "archived must be a boolean")
			return
		}
	}

	var snaps []session.Snapshot
	if archived {
		if h.app.Store == nil {
			writeError(w, http.StatusNotFound, "call archive is disabled")
			return
		}
		limit := 0
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			limit = n
		}
		var err error
		if snaps, err = h.app.Store.List(limit); err != nil {
			h.app.Logger.Error().Err(err).Msg("Call archive listing failed")
			writeError(w, http.StatusInternalServerError, "archive listing failed")
			return
		}
	} else {
		snaps = h.app.Registry.Snapshots()
	}

	if v := q.Get("active"); v != "" {
		want, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active must be a boolean")
			return
		}
		filtered := snaps[:0]
		for _, s := range snaps {
			if s.IsActive == want {
				filtered = append(filtered, s)
			}
		}
		snaps = filtered
	}
	if snaps == nil {
		snaps = []session.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": snaps, "count": len(snaps)})
}

func (h *handlers) getCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s, ok := h.app.Registry.Get(id); ok {
		writeJSON(w, http.StatusOK, s.Snapshot())
		return
	}
	if h.app.Store != nil {
		snap, err := h.app.Store.Get(id)
		if err == nil {
			writeJSON(w, http.StatusOK, snap)
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			h.app.Logger.Error().Err(err).Str("id", id).Msg("Call archive lookup failed")
			writeError(w, http.StatusInternalServerError, "archive lookup failed")
			return
		}
	}
	writeError(w, http.StatusNotFound, "call not found")
}

func (h *handlers) purgeCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s, ok := h.app.Registry.Get(id); ok {
		id = s.ID
	}

	err := h.app.Registry.Purge(id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, session.ErrSessionActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *handlers) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"totals":      h.app.Registry.Totals(),
		"activeCalls": h.app.Registry.ActiveCount(),
		"sttProvider": h.app.Provider.Name(),
		"kafka":       h.app.Publisher.Enabled(),
		"ready":       h.app.Ready(),
	})
}

// stream upgrades a gateway connection and runs the call on it until the
// call ends.
func (h *handlers) stream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	callID := q.Get("call_id")
	if callID == "" {
		callID = uuid.NewString()
	}
	// CreateSession checks again under the registry lock; this only avoids a
	// useless upgrade.
	if s, ok := h.app.Registry.Get(callID); ok && !s.State().IsTerminal() {
		writeError(w, http.StatusConflict, session.ErrDuplicateCall.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.app.Logger.Warn().Err(err).Str("callId", callID).Msg("Websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxGatewayMessageBytes)

	logger := logging.WithComponent("gateway").With().
		Str("callId", callID).
		Str("requestId", middleware.GetReqID(r.Context())).
		Str("remote", r.RemoteAddr).
		Logger()
	logger.Info().Msg("Gateway connected")

	// On server shutdown the call is ended by Registry.ShutdownAll.
	if err := h.app.Orchestrator.HandleCall(r.Context(), conn, callID, q.Get("from"), q.Get("to")); err != nil {
		logger.Warn().Err(err).Msg("Call ended with error")
		return
	}
	logger.Info().Msg("Gateway disconnected")
}
