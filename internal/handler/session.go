package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mindsignal/pairing/internal/audit"
	apperrors "github.com/mindsignal/pairing/internal/errors"
	"github.com/mindsignal/pairing/internal/service"
	"github.com/mindsignal/pairing/internal/sse"
	"github.com/mindsignal/pairing/internal/util"
)

type Middleware func(http.Handler) http.Handler

func passthrough(next http.Handler) http.Handler { return next }

type SessionHandler struct {
	sessionService *service.SessionService
	events         *EventsHandler
	createLimit    Middleware
	claimLimit     Middleware
	requestTimeout time.Duration
}

// NewSessionHandler wires the session routes. Either limit may be nil.
func NewSessionHandler(
	sessionService *service.SessionService,
	broker *sse.Broker,
	createLimit, claimLimit Middleware,
	requestTimeout time.Duration,
) *SessionHandler {
	if createLimit == nil {
		createLimit = passthrough
	}
	if claimLimit == nil {
		claimLimit = passthrough
	}
	return &SessionHandler{
		sessionService: sessionService,
		events:         NewEventsHandler(broker, sessionService),
		createLimit:    createLimit,
		claimLimit:     claimLimit,
		requestTimeout: requestTimeout,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	// the event stream outlives any request timeout
	r.Get("/{sessionId}/events", h.events.ServeHTTP)

	r.Group(func(r chi.Router) {
		if h.requestTimeout > 0 {
			r.Use(chimw.Timeout(h.requestTimeout))
		}
		r.With(h.createLimit).Post("/", h.CreateSession)
		r.With(h.claimLimit).Post("/{token}/pair", h.ClaimSession)
		r.Get("/status/{sessionId}", h.GetSessionStatus)
	})

	return r
}

// POST /api/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.sessionService.CreateSession(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionCreate,
		SessionID: view.ID,
		Token:     view.PairingToken,
	})

	writeSuccess(w, http.StatusCreated, view)
}

// POST /api/sessions/{token}/pair
func (h *SessionHandler) ClaimSession(w http.ResponseWriter, r *http.Request) {
	token := util.NormalizeToken(chi.URLParam(r, "token"))
	if !util.IsPairingTokenShaped(token) {
		audit.LogFromRequest(r, audit.Event{
			Type:    audit.EventClaimRejected,
			Token:   token,
			Details: map[string]any{"reason": "malformed"},
		})
		writeError(w, r, apperrors.InvalidPairingCode())
		return
	}

	view, err := h.sessionService.Claim(r.Context(), token, audit.ClientIP(r))
	if err != nil {
		audit.LogFromRequest(r, audit.Event{
			Type:    audit.EventClaimRejected,
			Token:   token,
			Details: map[string]any{"reason": string(apperrors.GetCode(err))},
		})
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionClaim,
		SessionID: view.ID,
		Token:     token,
	})

	writeSuccess(w, http.StatusOK, view)
}

// GET /api/sessions/status/{sessionId}
func (h *SessionHandler) GetSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if !util.IsValidUUID(sessionID) {
		writeError(w, r, apperrors.InvalidInput("sessionId", "must be a UUID"))
		return
	}

	view, err := h.sessionService.GetStatus(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, view)
}
