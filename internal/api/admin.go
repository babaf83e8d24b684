package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"anchor-delivery/internal/apperror"
	"anchor-delivery/internal/calendar"
	"anchor-delivery/internal/injection"
	"anchor-delivery/internal/media"
	"anchor-delivery/internal/registry"
)

// refresh rebuilds the registry after a write so this instance serves the
// change without waiting for the database notification.
func (h *Handler) refresh(r *http.Request) {
	if err := h.Reg.BuildSnapshot(r.Context(), registry.LoaderFunc(h.Store.ListItems)); err != nil {
		log.Warn().Err(err).Msg("post-write snapshot rebuild failed")
	}
}

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Store.ListItems(r.Context())
	if err != nil {
		writeError(w, r, storeError(err))
		return
	}
	if items == nil {
		items = []injection.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.Store.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, storeError(err))
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	h.saveItem(w, r, "", http.StatusCreated)
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	h.saveItem(w, r, chi.URLParam(r, "id"), http.StatusOK)
}

func (h *Handler) saveItem(w http.ResponseWriter, r *http.Request, id string, status int) {
	var it injection.Item
	if err := decodeJSON(w, r, &it); err != nil {
		writeError(w, r, err)
		return
	}
	it.ID = id
	if err := it.Normalize(); err != nil {
		writeError(w, r, err)
		return
	}
	if err := it.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := h.Store.SaveItem(r.Context(), it)
	if err != nil {
		writeError(w, r, storeError(err))
		return
	}
	h.refresh(r)
	writeJSON(w, status, saved)
}

func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteItem(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, storeError(err))
		return
	}
	h.refresh(r)
	w.WriteHeader(http.StatusNoContent)
}

// SearchPages backs the visibility page picker.
func (h *Handler) SearchPages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	hits, err := h.Store.SearchPages(r.Context(), q.Get("q"), limit)
	if err != nil {
		writeError(w, r, storeError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}

func (h *Handler) CropImage(w http.ResponseWriter, r *http.Request) {
	var req media.CropRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Media.Crop(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) MigrateLegacy(w http.ResponseWriter, r *http.Request) {
	n, err := h.Store.MigrateLegacy(r.Context())
	if err != nil {
		writeError(w, r, storeError(err))
		return
	}
	if n > 0 {
		h.refresh(r)
	}
	writeJSON(w, http.StatusOK, map[string]int64{"migrated": n})
}

type calendarResponse struct {
	Month        string            `json:"month"`
	FirstWeekday int               `json:"first_weekday"`
	Weeks        [][]calendar.Cell `json:"weeks"`
}

// Calendar renders the month grid with scheduled event ids.
func (h *Handler) Calendar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	month := h.now()
	if raw := q.Get("month"); raw != "" {
		m, err := time.Parse("2006-01", raw)
		if err != nil {
			writeError(w, r, apperror.NewValidation("month must be YYYY-MM"))
			return
		}
		month = m
	}
	year, mon := month.Year(), month.Month()

	first, _ := strconv.Atoi(q.Get("first_weekday"))
	if first < 1 || first > calendar.WeekLength {
		first = calendar.FirstWeekday(year, mon)
	}

	events, err := h.Store.ListEvents(r.Context(), year, mon)
	if err != nil {
		writeError(w, r, storeError(err))
		return
	}
	writeJSON(w, http.StatusOK, calendarResponse{
		Month:        time.Date(year, mon, 1, 0, 0, 0, 0, time.UTC).Format("2006-01"),
		FirstWeekday: first,
		Weeks:        calendar.Grid(year, mon, events, first),
	})
}
