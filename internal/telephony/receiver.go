// Package telephony receives call lifecycle events from the telephony layer
// and turns them into presence transitions.
package telephony

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/apperr"
	"github.com/dennisdiepolder/monti/presence/internal/metrics"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// EventType is the kind of call event
type EventType string

const (
	CallEstablished EventType = "call_established"
	CallEnded       EventType = "call_ended"
)

// Event is one call event posted by the telephony layer
type Event struct {
	Type    EventType `json:"type" validate:"required,oneof=call_established call_ended"`
	AgentID string    `json:"agentId" validate:"required,max=100"`
	CallID  string    `json:"callId" validate:"required,max=100"`
	Sale    bool      `json:"sale"`
}

// CallHandler applies call events to an agent
type CallHandler interface {
	CallEstablished(ctx context.Context, agentID, callID string) (*types.AgentStatusRecord, error)
	CallEnded(ctx context.Context, agentID, callID string, sale bool) (*types.AgentStatusRecord, error)
}

// Receiver handles incoming telephony events
type Receiver struct {
	calls    CallHandler
	validate *validator.Validate
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	eventsReceived int64
	eventsFailed   int64
	lastReceived   time.Time
	mu             sync.RWMutex
}

// NewReceiver creates a new telephony receiver
func NewReceiver(calls CallHandler, m *metrics.Metrics, logger zerolog.Logger) *Receiver {
	return &Receiver{
		calls:    calls,
		validate: apperr.NewValidator(),
		metrics:  m,
		logger:   logger.With().Str("component", "telephony").Logger(),
	}
}

// Process validates and applies one event
func (r *Receiver) Process(ctx context.Context, ev Event) (*types.AgentStatusRecord, error) {
	if err := r.validate.Struct(ev); err != nil {
		return nil, apperr.FromValidation("telephony", ev.AgentID, err)
	}

	var (
		rec *types.AgentStatusRecord
		err error
	)
	switch ev.Type {
	case CallEstablished:
		rec, err = r.calls.CallEstablished(ctx, ev.AgentID, ev.CallID)
	case CallEnded:
		rec, err = r.calls.CallEnded(ctx, ev.AgentID, ev.CallID, ev.Sale)
	}

	atomic.AddInt64(&r.eventsReceived, 1)
	r.mu.Lock()
	r.lastReceived = time.Now()
	r.mu.Unlock()

	result := "ok"
	if err != nil {
		result = string(apperr.KindOf(err))
		atomic.AddInt64(&r.eventsFailed, 1)
	}
	if r.metrics != nil {
		r.metrics.RecordTelephonyEvent(string(ev.Type), result)
	}

	log := r.logger.Debug()
	if err != nil {
		log = r.logger.Warn().Err(err)
	}
	log.Str("agent_id", ev.AgentID).
		Str("call_id", ev.CallID).
		Str("type", string(ev.Type)).
		Bool("sale", ev.Sale).
		Msg("call event processed")
	return rec, err
}

// HandleEvent handles POST /internal/telephony/events
func (r *Receiver) HandleEvent(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		apperr.WriteStatus(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", false)
		return
	}

	var ev Event
	if err := json.NewDecoder(req.Body).Decode(&ev); err != nil {
		r.logger.Error().Err(err).Msg("failed to decode call event")
		apperr.WriteHTTP(w, apperr.New(apperr.KindValidation, "telephony", "", "invalid JSON"))
		return
	}

	rec, err := r.Process(req.Context(), ev)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"status": rec})
}

// GetStats handles GET /internal/telephony/stats
func (r *Receiver) GetStats(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	lastReceived := r.lastReceived
	r.mu.RUnlock()

	stats := map[string]interface{}{
		"events_received": atomic.LoadInt64(&r.eventsReceived),
		"events_failed":   atomic.LoadInt64(&r.eventsFailed),
		"last_received":   lastReceived,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
