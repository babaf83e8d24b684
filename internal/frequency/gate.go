package frequency

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"anchor-delivery/internal/injection"
	"anchor-delivery/internal/observability"
)

// Gate evaluates a popup's frequency policy against stored markers.
// Session markers belong in session-scoped storage and cooldown expiries in
// device-scoped storage; a Gate may be built with the same Storage for both.
type Gate struct {
	Session Storage
	Local   Storage
	Now     func() time.Time
}

// NewGate returns a Gate using time.Now.
func NewGate(session, local Storage) *Gate {
	return &Gate{Session: session, Local: local, Now: time.Now}
}

func sessionKey(itemID string) string  { return "anchor_popup_shown_" + itemID }
func cooldownKey(itemID string) string { return "anchor_popup_cooldown_" + itemID }

// Eligible reports whether the popup may be shown now. Storage failures and
// unreadable markers count as eligible.
func (g *Gate) Eligible(ctx context.Context, itemID string, f injection.Frequency) bool {
	switch f.Mode {
	case injection.FrequencyCooldown:
		v, ok, err := g.Local.Get(ctx, cooldownKey(itemID))
		if err != nil {
			g.storageFailed("get", itemID, err)
			return true
		}
		if !ok {
			return true
		}
		expiry, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return true
		}
		return g.Now().UnixMilli() >= expiry
	default:
		_, ok, err := g.Session.Get(ctx, sessionKey(itemID))
		if err != nil {
			g.storageFailed("get", itemID, err)
			return true
		}
		return !ok
	}
}

// MarkShown records that the popup was opened. Failures are logged and
// otherwise ignored.
func (g *Gate) MarkShown(ctx context.Context, itemID string, f injection.Frequency) {
	var err error
	switch f.Mode {
	case injection.FrequencyCooldown:
		expiry := g.Now().Add(time.Duration(f.CooldownMinutes) * time.Minute).UnixMilli()
		err = g.Local.Set(ctx, cooldownKey(itemID), strconv.FormatInt(expiry, 10))
	default:
		err = g.Session.Set(ctx, sessionKey(itemID), "1")
	}
	if err != nil {
		g.storageFailed("set", itemID, err)
	}
}

// Reset clears both markers for the popup.
func (g *Gate) Reset(ctx context.Context, itemID string) {
	if err := g.Session.Remove(ctx, sessionKey(itemID)); err != nil {
		g.storageFailed("remove", itemID, err)
	}
	if err := g.Local.Remove(ctx, cooldownKey(itemID)); err != nil {
		g.storageFailed("remove", itemID, err)
	}
}

func (g *Gate) storageFailed(op, itemID string, err error) {
	observability.GateStorageErrors.WithLabelValues(op).Inc()
	log.Warn().Err(err).Str("op", op).Str("item", itemID).Msg("frequency storage failed; treating popup as eligible")
}
