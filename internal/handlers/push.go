package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/skydish/api/internal/platform/auth"
	"github.com/skydish/api/internal/platform/httpx"
	"github.com/skydish/api/internal/platform/push"
)

const (
	defaultPushHeartbeat = 25 * time.Second
	pushDeadlineMargin   = time.Second
	pushRetryMillis      = 3000
)

// PushRegistry registers live merchant connections.
type PushRegistry interface {
	Register(id string) (push.Sink, func(), error)
}

// PushHandlers streams order notifications to merchant clients over Server-Sent Events.
type PushHandlers struct {
	authn     *auth.Authenticator
	hub       PushRegistry
	heartbeat time.Duration
}

// PushOption customises push handlers.
type PushOption func(*PushHandlers)

// WithPushHeartbeat sets the interval of keep-alive comments.
func WithPushHeartbeat(d time.Duration) PushOption {
	return func(h *PushHandlers) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// NewPushHandlers constructs SSE handlers backed by hub.
func NewPushHandlers(authn *auth.Authenticator, hub PushRegistry, opts ...PushOption) *PushHandlers {
	h := &PushHandlers{authn: authn, hub: hub, heartbeat: defaultPushHeartbeat}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /admin/push endpoint.
func (h *PushHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/push", func(rt chi.Router) {
		if h.authn != nil {
			rt.Use(h.authn.RequireMerchant())
		}
		rt.Get("/{sid}", h.stream)
	})
}

func (h *PushHandlers) stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.hub == nil {
		writeServiceUnavailable(ctx, w, "push")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("streaming_unsupported", "streaming not supported", http.StatusInternalServerError))
		return
	}

	sid := strings.TrimSpace(chi.URLParam(r, "sid"))
	sink, cancel, err := h.hub.Register(sid)
	if err != nil {
		if errors.Is(err, push.ErrDuplicateSink) {
			httpx.WriteError(ctx, w, httpx.NewError("connection_exists", "connection id already in use", http.StatusConflict))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	defer cancel()

	// End the stream just before any server deadline so the client reconnects instead of seeing a timeout.
	if deadline, ok := ctx.Deadline(); ok {
		var stop context.CancelFunc
		ctx, stop = context.WithDeadline(ctx, deadline.Add(-pushDeadlineMargin))
		defer stop()
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "retry: %d\n\n", pushRetryMillis)
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, open := <-sink:
			if !open {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
