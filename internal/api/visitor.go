package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"anchor-delivery/internal/apperror"
	"anchor-delivery/internal/frequency"
	"anchor-delivery/internal/injection"
)

// visitorPopup resolves the gate and popup addressed by the route.
func (h *Handler) visitorPopup(r *http.Request) (*frequency.Gate, injection.Item, error) {
	visitor := strings.TrimSpace(chi.URLParam(r, "visitor"))
	if visitor == "" || len(visitor) > 128 {
		return nil, injection.Item{}, apperror.NewValidation("invalid visitor id")
	}
	it, ok := h.Reg.Lookup(chi.URLParam(r, "id"))
	if !ok || it.Kind != injection.KindPopup || !it.Enabled {
		return nil, injection.Item{}, apperror.NewNotFound("popup not found")
	}
	return h.Gates(visitor), it, nil
}

func frequencyOf(it injection.Item) injection.Frequency {
	if it.Frequency == nil {
		return injection.Frequency{Mode: injection.FrequencySession}
	}
	return *it.Frequency
}

// Eligible reports whether the popup may be shown to the visitor.
func (h *Handler) Eligible(w http.ResponseWriter, r *http.Request) {
	gate, it, err := h.visitorPopup(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	eligible := true
	if it.Trigger == nil || !it.Trigger.Type.IsClick() {
		eligible = gate.Eligible(r.Context(), it.ID, frequencyOf(it))
	}
	writeJSON(w, http.StatusOK, map[string]bool{"eligible": eligible})
}

// Shown records that the popup was displayed to the visitor. Click-triggered
// popups leave no marker.
func (h *Handler) Shown(w http.ResponseWriter, r *http.Request) {
	gate, it, err := h.visitorPopup(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if it.Trigger == nil || !it.Trigger.Type.IsClick() {
		gate.MarkShown(r.Context(), it.ID, frequencyOf(it))
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetShown clears the visitor's markers for the popup.
func (h *Handler) ResetShown(w http.ResponseWriter, r *http.Request) {
	gate, it, err := h.visitorPopup(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	gate.Reset(r.Context(), it.ID)
	w.WriteHeader(http.StatusNoContent)
}
