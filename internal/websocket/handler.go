package websocket

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/dennisdiepolder/monti/presence/internal/apperr"
	"github.com/dennisdiepolder/monti/presence/internal/auth"
	"github.com/dennisdiepolder/monti/presence/internal/config"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Handler handles WebSocket upgrade requests
type Handler struct {
	hub       *Hub
	validator auth.SessionValidator
	upgrader  websocket.Upgrader
	config    *config.Config
	logger    zerolog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, validator auth.SessionValidator, cfg *config.Config, logger zerolog.Logger) *Handler {
	h := &Handler{
		hub:       hub,
		validator: validator,
		config:    cfg,
		logger:    logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin accepts requests without an Origin header (non-browser
// clients) and browser requests from ALLOWED_ORIGINS
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.config.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return strings.EqualFold(u.Host, r.Host)
}

// ServeHTTP authenticates the session before upgrading. A rejected session
// never reaches the websocket protocol.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := h.validator.ValidateSession(auth.ExtractToken(r))
	if err != nil {
		h.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket session rejected")
		apperr.WriteHTTP(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := NewClient(h.hub, conn, h.config, h.logger, claims)
	h.hub.add(client)

	// registered before the seed is read so no committed event is missed
	client.sendInitialStatus()
	client.Start()
}
