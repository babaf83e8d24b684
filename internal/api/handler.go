package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"anchor-delivery/internal/apperror"
	"anchor-delivery/internal/dispatch"
	"anchor-delivery/internal/frequency"
	"anchor-delivery/internal/injection"
	"anchor-delivery/internal/media"
	"anchor-delivery/internal/observability"
	"anchor-delivery/internal/registry"
	"anchor-delivery/internal/storage"
	"anchor-delivery/internal/trigger"
)

// SessionTTL bounds how long a server-side session marker lives.
const SessionTTL = 30 * time.Minute

// AdminStore is the persistence the admin surface needs.
type AdminStore interface {
	ListItems(ctx context.Context) ([]injection.Item, error)
	GetItem(ctx context.Context, id string) (injection.Item, error)
	SaveItem(ctx context.Context, it injection.Item) (injection.Item, error)
	DeleteItem(ctx context.Context, id string) error
	SearchPages(ctx context.Context, q string, limit int) ([]storage.PageHit, error)
	ListEvents(ctx context.Context, year int, month time.Month) (map[string][]string, error)
	MigrateLegacy(ctx context.Context) (int64, error)
}

type Cropper interface {
	Crop(ctx context.Context, req media.CropRequest) (media.CropResult, error)
}

// GateFactory builds the frequency gate for one visitor.
type GateFactory func(visitor string) *frequency.Gate

// RedisGates stores visitor markers in Redis. A nil client yields gates that
// always fail open.
func RedisGates(rdb *redis.Client, visitorTTL time.Duration) GateFactory {
	return func(visitor string) *frequency.Gate {
		if rdb == nil {
			return frequency.NewGate(frequency.Unavailable{}, frequency.Unavailable{})
		}
		return frequency.NewGate(
			frequency.NewRedisStorage(rdb, visitor, SessionTTL),
			frequency.NewRedisStorage(rdb, visitor, visitorTTL),
		)
	}
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	Reg        *registry.Registry
	Dispatcher *dispatch.Dispatcher
	Store      AdminStore
	Media      Cropper
	Gates      GateFactory
	Now        func() time.Time

	// DB and Redis are checked by /readyz; nil ones are skipped.
	DB    Pinger
	Redis *redis.Client
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as {type, message}. Internal causes are logged only.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperror.As(err)
	observability.RequestErrors.WithLabelValues(appErr.Type).Inc()
	if appErr.Code >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, appErr.Code, map[string]string{
		"type":    appErr.Type,
		"message": apperror.SafeMessage(appErr),
	})
}

// storeError maps persistence errors onto the error taxonomy.
func storeError(err error) error {
	var appErr *apperror.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, storage.ErrNotFound):
		return apperror.NewNotFound("item not found")
	default:
		return apperror.NewStorage(err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperror.NewValidation("request body is not valid JSON")
	}
	return nil
}

func requestContext(r *http.Request) injection.RequestContext {
	q := r.URL.Query()
	return injection.RequestContext{
		ResourceID:  strings.TrimSpace(q.Get("resource_id")),
		URL:         q.Get("url"),
		CategoryIDs: injection.ParseIDList(q.Get("categories")),
	}
}

func parsePlacement(raw string, allowPopup bool) (injection.Placement, error) {
	p := injection.Placement(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case injection.PlacementHeader, injection.PlacementBodyStart, injection.PlacementFooter:
		return p, nil
	case injection.PlacementPopup:
		if allowPopup {
			return p, nil
		}
	}
	return "", apperror.NewValidation("unknown placement " + string(p))
}

// Injections lists the eligible items for a placement.
func (h *Handler) Injections(w http.ResponseWriter, r *http.Request) {
	placement, err := parsePlacement(r.URL.Query().Get("placement"), true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := h.Reg.Resolve(r.Context(), placement, requestContext(r))
	if len(items) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// Render writes the snippets of a placement as an HTML fragment.
func (h *Handler) Render(w http.ResponseWriter, r *http.Request) {
	placement, err := parsePlacement(chi.URLParam(r, "placement"), false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rc := requestContext(r)
	items := h.Reg.Resolve(r.Context(), placement, rc)
	if len(items) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var buf bytes.Buffer
	data := dispatch.RenderData{Placement: placement, Request: rc, Now: h.now()}
	h.Dispatcher.EmitAll(r.Context(), &buf, items, data, PrincipalFrom(r.Context()))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type bootstrapResponse struct {
	trigger.Payload
	// EmbedURLs holds the page_load embed URL of each video popup.
	EmbedURLs map[string]string `json:"embed_urls,omitempty"`
}

// Bootstrap returns the trigger engine configuration for a page.
func (h *Handler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	popups := h.Reg.Resolve(r.Context(), injection.PlacementPopup, requestContext(r))
	resp := bootstrapResponse{Payload: trigger.Payload{Popups: popups}}
	for _, p := range popups {
		v := p.Content.Video
		if p.Content.Type != injection.ContentVideo || v == nil {
			continue
		}
		if resp.EmbedURLs == nil {
			resp.EmbedURLs = map[string]string{}
		}
		muted := v.Autoplay && p.Trigger != nil && p.Trigger.Type == injection.TriggerPageLoad
		resp.EmbedURLs[p.ID] = v.EmbedURL(v.Autoplay, muted)
	}
	if resp.Popups == nil {
		resp.Popups = []injection.Item{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Ready answers 200 once Postgres and Redis respond.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if h.DB != nil {
		if err := h.DB.Ping(ctx); err != nil {
			writeError(w, r, apperror.NewStorage(err))
			return
		}
	}
	if h.Redis != nil {
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			writeError(w, r, apperror.NewUpstream("Visitor store is unreachable.", err))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
