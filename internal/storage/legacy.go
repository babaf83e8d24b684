package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// LegacyMigratedFlag is the settings key recording a completed legacy copy.
const LegacyMigratedFlag = "legacy_popups_migrated"

// MigrateLegacy copies legacy popups into injection_items exactly once and
// returns the number of rows copied. Rows already carrying a legacy id are
// left alone, so an interrupted run can simply be repeated.
func (s *Store) MigrateLegacy(ctx context.Context) (int64, error) {
	var copied int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var done bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM settings WHERE key = $1)`, LegacyMigratedFlag,
		).Scan(&done); err != nil {
			return fmt.Errorf("read migration flag: %w", err)
		}
		if done {
			return nil
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO injection_items (id, kind, title, content,
				trigger_type, trigger_value, delay_ms, frequency_mode, cooldown_minutes,
				visibility_scope, page_ids, url_exclusions, category_exclusions,
				priority, enabled, legacy_id)
			SELECT gen_random_uuid(), 'popup', l.title,
				jsonb_build_object('type', 'html', 'html', l.html, 'css', l.css, 'js', l.js),
				l.trigger_type, ltrim(btrim(l.trigger_value), '.#'), l.delay_ms, l.frequency_mode, l.cooldown_minutes,
				CASE WHEN l.page_ids IN ('', '[]') THEN 'global' ELSE 'pages' END,
				l.page_ids, l.url_exclusions, l.category_exclusions,
				l.sort_order, l.enabled, l.id
			FROM legacy_popups l
			ORDER BY l.sort_order, l.id
			ON CONFLICT (legacy_id) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("copy legacy popups: %w", err)
		}
		copied = tag.RowsAffected()

		if _, err := tx.Exec(ctx, `
			INSERT INTO settings (key, value) VALUES ($1, '1')
			ON CONFLICT (key) DO NOTHING`, LegacyMigratedFlag); err != nil {
			return fmt.Errorf("set migration flag: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if copied > 0 {
		log.Info().Int64("copied", copied).Msg("legacy popups migrated")
	}
	return copied, nil
}
