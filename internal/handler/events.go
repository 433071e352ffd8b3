package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/mindsignal/pairing/internal/errors"
	"github.com/mindsignal/pairing/internal/model"
	"github.com/mindsignal/pairing/internal/service"
	"github.com/mindsignal/pairing/internal/sse"
	"github.com/mindsignal/pairing/internal/util"
)

// EventsHandler streams a session's pairing events to its host. The stream ends
// once the session reaches PAIRED or EXPIRED.
type EventsHandler struct {
	broker            *sse.Broker
	sessionService    *service.SessionService
	heartbeatInterval time.Duration
}

func NewEventsHandler(broker *sse.Broker, sessionService *service.SessionService) *EventsHandler {
	return &EventsHandler{
		broker:            broker,
		sessionService:    sessionService,
		heartbeatInterval: sse.HeartbeatInterval,
	}
}

// GET /api/sessions/{sessionId}/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if !util.IsValidUUID(sessionID) {
		writeError(w, r, apperrors.InvalidInput("sessionId", "must be a UUID"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, apperrors.Internal("Streaming not supported"))
		return
	}

	// subscribe before reading status so a claim landing in between is not missed
	client := h.broker.Subscribe(sessionID)
	defer h.broker.Unsubscribe(client)

	ctx := r.Context()
	view, err := h.sessionService.GetStatus(ctx, sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	log.Info().
		Str("sessionId", sessionID).
		Str("status", string(view.Status)).
		Msg("sse connection established")

	if err := h.sendEvent(w, flusher, string(model.EventConnected), map[string]any{
		"sessionId": sessionID,
		"status":    view.Status,
		"expiresAt": view.ExpiresAt,
	}); err != nil {
		return
	}

	if view.Status.IsTerminal() {
		h.sendOutcome(w, flusher, view)
		return
	}

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("sessionId", sessionID).
				Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().
				Str("sessionId", sessionID).
				Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}
			if isTerminalEvent(event.Type) {
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("sessionId", sessionID).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

// sendOutcome replays the final event to a host that connects after the session settled.
func (h *EventsHandler) sendOutcome(w http.ResponseWriter, flusher http.Flusher, view *service.SessionView) {
	if view.Status == model.SessionStatusPaired {
		h.sendEvent(w, flusher, string(model.EventPairingComplete), map[string]any{
			"sessionId": view.ID,
			"pairedAt":  view.PairedAt,
		})
		return
	}
	h.sendEvent(w, flusher, string(model.EventPairingExpired), map[string]any{
		"sessionId": view.ID,
		"reason":    "timeout",
	})
}

func isTerminalEvent(eventType string) bool {
	return eventType == string(model.EventPairingComplete) || eventType == string(model.EventPairingExpired)
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
