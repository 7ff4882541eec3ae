// Package api exposes the provider webhook, the operator content view and
// the login endpoints over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/socivy/rebel/internal/domain"
	"github.com/socivy/rebel/internal/pkg/httputil"
	"github.com/socivy/rebel/internal/pkg/logger"
	"github.com/socivy/rebel/internal/service/reconcile"
	"github.com/socivy/rebel/internal/service/suppression"
)

const maxWebhookBody = 5 * 1024 * 1024

// EventService is what the handlers need from *reconcile.Reconciler.
type EventService interface {
	Ingest(ctx context.Context, p reconcile.Payload) error
	Content(ctx context.Context, mailID string) (domain.DeliveryContent, error)
}

// Pinger reports whether a backing store is reachable. *sql.DB implements it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// SuppressionLookup is what the handlers need from *suppression.Service.
type SuppressionLookup interface {
	Lookup(ctx context.Context, email string) (domain.Suppression, error)
}

// Handlers holds the HTTP handlers.
type Handlers struct {
	events       EventService
	db           Pinger
	suppressions SuppressionLookup
}

// HandlerOption configures Handlers.
type HandlerOption func(*Handlers)

// WithSuppressions enables GET /suppressions/{email}.
func WithSuppressions(s SuppressionLookup) HandlerOption {
	return func(h *Handlers) { h.suppressions = s }
}

// NewHandlers creates Handlers. db may be nil.
func NewHandlers(events EventService, db Pinger, opts ...HandlerOption) *Handlers {
	h := &Handlers{events: events, db: db}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthCheck reports liveness and, when a database is wired, whether it
// answers a ping.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			logger.Warn("api: health ping failed", "error", err)
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	httputil.JSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now(),
	})
}

// HandleEvent ingests one Mailgun webhook. Anything the reconciler cannot
// match answers 404 so the provider stops retrying it.
func (h *Handlers) HandleEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.Error(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	p, err := reconcile.ParsePayload(body)
	if err != nil {
		logger.Warn("api: rejected webhook", "error", err)
		httputil.NotFound(w, "not found")
		return
	}

	err = h.events.Ingest(r.Context(), p)
	switch {
	case err == nil:
		httputil.Text(w, http.StatusOK, "ok")
	case errors.Is(err, reconcile.ErrRecordNotFound), errors.Is(err, reconcile.ErrUnknownEvent):
		logger.Info("api: webhook for unknown mail", "message_id", p.MessageID, "recipient", p.Recipient, "event", p.Kind)
		httputil.NotFound(w, "not found")
	case errors.Is(err, reconcile.ErrMalformedPayload):
		logger.Warn("api: rejected webhook", "message_id", p.MessageID, "error", err)
		httputil.NotFound(w, "not found")
	case errors.Is(err, reconcile.ErrRecordBusy):
		w.Header().Set("Retry-After", "5")
		httputil.Error(w, http.StatusServiceUnavailable, "record busy")
	default:
		httputil.InternalError(w, err)
	}
}

// GetContent renders the stored HTML body of a delivery record.
func (h *Handlers) GetContent(w http.ResponseWriter, r *http.Request) {
	content, err := h.events.Content(r.Context(), chi.URLParam(r, "mailID"))
	switch {
	case errors.Is(err, reconcile.ErrRecordNotFound), errors.Is(err, reconcile.ErrContentNotFound):
		httputil.NotFound(w, "not found")
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.HTML(w, http.StatusOK, content.BodyHTML)
	}
}

// GetSuppression tells an operator why an address no longer receives mail.
func (h *Handlers) GetSuppression(w http.ResponseWriter, r *http.Request) {
	s, err := h.suppressions.Lookup(r.Context(), chi.URLParam(r, "email"))
	switch {
	case errors.Is(err, suppression.ErrNotFound):
		httputil.NotFound(w, "not suppressed")
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.OK(w, s)
	}
}
