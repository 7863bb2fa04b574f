// Package facade exposes the coordinator's read-only status state and
// the dual-confirmation safety-reset flow over HTTP. /v1/history is
// routed but returns no events: it answers 503 without an event store
// and 501 with one. It is deliberately thin: writes translate directly
// into a control-plane publish, nothing more, and status reads serve
// whatever the coordinator already computed.
package facade

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/roomctl/roomcore/internal/envelope"
	"github.com/roomctl/roomcore/internal/eventstore"
	"github.com/roomctl/roomcore/internal/logger"
)

// PendingResetTTL is how long a safety-reset request token stays
// confirmable before it auto-expires.
const PendingResetTTL = 60 * time.Second

// ControlPublisher is the narrow collaborator the façade needs to
// translate a confirmed reset (or any other write) into a control
// request on the broker.
type ControlPublisher interface {
	Publish(topic string, payload []byte) error
}

// StatusSource is the façade's read-only window into current
// coordinator state; `roomcore start` wires it to the coordinator's
// CurrentStatus.
type StatusSource interface {
	CurrentStatus() json.RawMessage
}

// pendingReset is one in-flight, unconfirmed safety-reset request.
type pendingReset struct {
	ResetID     string
	RequestedBy string
	Reason      string
	CreatedAt   time.Time
}

// Config wires the façade's collaborators.
type Config struct {
	RoomID         string
	ControlTopic   string
	SharedToken    string // embedded in the published CoreControlRequest, per §6
	JWTSigningKey  []byte
	Control        ControlPublisher
	Status         StatusSource
	Store          eventstore.Store // nil disables /history
}

// Facade holds the façade's own in-memory state: the pending-reset
// table. Everything else is delegated to its collaborators.
type Facade struct {
	cfg Config

	mu      sync.Mutex
	pending map[string]pendingReset
}

// New builds a Facade.
func New(cfg Config) *Facade {
	return &Facade{cfg: cfg, pending: make(map[string]pendingReset)}
}

// Router builds the chi mux. Every mutating endpoint requires a bearer
// JWT identifying the acting operator; read endpoints do not.
func (f *Facade) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/v1/status", f.handleStatus)
	r.Get("/v1/history", f.handleHistory)

	r.Group(func(r chi.Router) {
		r.Use(f.requireActor)
		r.Post("/v1/safety-reset/request", f.handleResetRequest)
		r.Post("/v1/safety-reset/confirm", f.handleResetConfirm)
	})

	return r
}

type actorKey struct{}

// requireActor validates the bearer JWT and stashes the "sub" claim
// (the acting operator's identity) on the request context.
func (f *Facade) requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := f.parseActor(r.Header.Get("Authorization"))
		if err != nil {
			http.Error(w, "unauthorized: "+err.Error(), http.StatusUnauthorized)
			return
		}
		ctx := withActor(r.Context(), actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (f *Facade) parseActor(authHeader string) (string, error) {
	const prefix = "Bearer "
	if len(authHeader) <= len(prefix) || authHeader[:len(prefix)] != prefix {
		return "", errors.New("missing bearer token")
	}
	raw := authHeader[len(prefix):]

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return f.cfg.JWTSigningKey, nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("token missing sub claim")
	}
	return sub, nil
}

func (f *Facade) handleStatus(w http.ResponseWriter, r *http.Request) {
	if f.cfg.Status == nil {
		http.Error(w, "status unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, f.cfg.Status.CurrentStatus())
}

func (f *Facade) handleHistory(w http.ResponseWriter, r *http.Request) {
	if f.cfg.Store == nil {
		http.Error(w, "event history unavailable: no event store configured", http.StatusServiceUnavailable)
		return
	}
	// The event store's query surface is intentionally narrow (append +
	// active-graph lookups); a dedicated history query method belongs to
	// a future façade iteration, not this one.
	http.Error(w, "not implemented", http.StatusNotImplemented)
}

type resetRequestBody struct {
	Reason string `json:"reason"`
}

type resetRequestResponse struct {
	ResetID   string    `json:"reset_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (f *Facade) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())

	var body resetRequestBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
	}

	now := time.Now()
	id := uuid.NewString()

	f.mu.Lock()
	f.sweepLocked(now)
	f.pending[id] = pendingReset{ResetID: id, RequestedBy: actor, Reason: body.Reason, CreatedAt: now}
	f.mu.Unlock()

	logger.Info("safety reset requested", "reset_id", id, "requested_by", actor)
	writeJSON(w, http.StatusAccepted, resetRequestResponse{ResetID: id, ExpiresAt: now.Add(PendingResetTTL)})
}

type resetConfirmBody struct {
	ResetID string `json:"reset_id"`
}

// coreControlRequest mirrors the wire shape control.Request is decoded
// from; the façade builds it directly rather than depending on the
// control package, since it only ever produces this one message kind.
type coreControlRequest struct {
	Schema string          `json:"schema"`
	RoomID string          `json:"room_id"`
	Op     string          `json:"op"`
	Token  string          `json:"token"`
	Params resetLatchParams `json:"parameters"`
}

type resetLatchParams struct {
	ResetID      string `json:"reset_id"`
	RequestedBy  string `json:"requested_by"`
	ConfirmedBy  string `json:"confirmed_by"`
	Reason       string `json:"reason"`
}

func (f *Facade) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	confirmingActor := actorFrom(r.Context())

	var body resetConfirmBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	now := time.Now()
	f.mu.Lock()
	f.sweepLocked(now)
	pr, ok := f.pending[body.ResetID]
	if ok {
		delete(f.pending, body.ResetID)
	}
	f.mu.Unlock()

	if !ok {
		http.Error(w, "reset token unknown or expired", http.StatusGone)
		return
	}
	if pr.RequestedBy == confirmingActor {
		http.Error(w, "confirming actor must differ from requesting actor", http.StatusConflict)
		return
	}

	req := coreControlRequest{
		Schema: envelope.Schema, RoomID: f.cfg.RoomID, Op: "RESET_SAFETY_LATCH", Token: f.cfg.SharedToken,
		Params: resetLatchParams{ResetID: pr.ResetID, RequestedBy: pr.RequestedBy, ConfirmedBy: confirmingActor, Reason: pr.Reason},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := f.cfg.Control.Publish(f.cfg.ControlTopic, payload); err != nil {
		logger.Warn("safety reset confirm: publish failed", "error", err, "reset_id", pr.ResetID)
		http.Error(w, "publish failed", http.StatusBadGateway)
		return
	}

	logger.Info("safety reset confirmed", "reset_id", pr.ResetID, "requested_by", pr.RequestedBy, "confirmed_by", confirmingActor)
	w.WriteHeader(http.StatusNoContent)
}

// sweepLocked removes expired pending resets. Caller holds f.mu.
func (f *Facade) sweepLocked(now time.Time) {
	for id, pr := range f.pending {
		if now.Sub(pr.CreatedAt) > PendingResetTTL {
			delete(f.pending, id)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
