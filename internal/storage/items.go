package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"anchor-delivery/internal/injection"
)

const itemColumns = `id::text, kind, title, language, placement, content,
	trigger_type, trigger_value, delay_ms, frequency_mode, cooldown_minutes,
	visibility_scope, page_ids, url_exclusions, category_exclusions, priority, enabled`

// itemRow mirrors one injection_items row. The list columns hold whatever the
// admin UI stored and are parsed leniently on the way out.
type itemRow struct {
	ID                 string
	Kind               string
	Title              string
	Language           string
	Placement          string
	Content            []byte
	TriggerType        string
	TriggerValue       string
	DelayMS            int
	FrequencyMode      string
	CooldownMinutes    int
	Scope              string
	PageIDs            string
	URLExclusions      string
	CategoryExclusions string
	Priority           int
	Enabled            bool
}

func (r *itemRow) scan(row pgx.Row) error {
	return row.Scan(&r.ID, &r.Kind, &r.Title, &r.Language, &r.Placement, &r.Content,
		&r.TriggerType, &r.TriggerValue, &r.DelayMS, &r.FrequencyMode, &r.CooldownMinutes,
		&r.Scope, &r.PageIDs, &r.URLExclusions, &r.CategoryExclusions, &r.Priority, &r.Enabled)
}

func (r itemRow) item() (injection.Item, error) {
	it := injection.Item{
		ID:        r.ID,
		Kind:      injection.Kind(r.Kind),
		Title:     r.Title,
		Language:  injection.Language(r.Language),
		Placement: injection.Placement(r.Placement),
		Visibility: injection.Visibility{
			Scope:   injection.VisibilityScope(r.Scope),
			PageIDs: injection.ParseIDList(r.PageIDs),
		},
		Priority: r.Priority,
		Enabled:  r.Enabled,
	}
	if len(r.Content) > 0 {
		if err := json.Unmarshal(r.Content, &it.Content); err != nil {
			return injection.Item{}, fmt.Errorf("decode content of %s: %w", r.ID, err)
		}
	}
	if it.Kind == injection.KindPopup {
		if r.TriggerType != "" {
			it.Trigger = &injection.Trigger{
				Type:    injection.TriggerType(r.TriggerType),
				Value:   r.TriggerValue,
				DelayMS: r.DelayMS,
			}
			if it.Trigger.Type.IsClick() {
				// rows copied from legacy popups keep their ".cta" / "#signup" form
				it.Trigger.Value = strings.TrimLeft(strings.TrimSpace(r.TriggerValue), ".#")
			}
		}
		if r.FrequencyMode != "" {
			it.Frequency = &injection.Frequency{
				Mode:            injection.FrequencyMode(r.FrequencyMode),
				CooldownMinutes: r.CooldownMinutes,
			}
		}
		it.Exclusions = injection.Exclusions{
			URLPrefixes: injection.ParsePrefixList(r.URLExclusions),
			CategoryIDs: injection.ParseIDList(r.CategoryExclusions),
		}
	}
	return it, nil
}

func rowFrom(it injection.Item) (itemRow, error) {
	content, err := json.Marshal(it.Content)
	if err != nil {
		return itemRow{}, fmt.Errorf("encode content: %w", err)
	}
	r := itemRow{
		ID:                 it.ID,
		Kind:               string(it.Kind),
		Title:              it.Title,
		Language:           string(it.Language),
		Placement:          string(it.Placement),
		Content:            content,
		Scope:              string(it.Visibility.Scope),
		PageIDs:            injection.EncodeList(it.Visibility.PageIDs),
		URLExclusions:      injection.EncodeList(it.Exclusions.URLPrefixes),
		CategoryExclusions: injection.EncodeList(it.Exclusions.CategoryIDs),
		Priority:           it.Priority,
		Enabled:            it.Enabled,
	}
	if r.Scope == "" {
		r.Scope = string(injection.VisibilityGlobal)
	}
	if it.Trigger != nil {
		r.TriggerType = string(it.Trigger.Type)
		r.TriggerValue = it.Trigger.Value
		r.DelayMS = it.Trigger.DelayMS
	}
	if it.Frequency != nil {
		r.FrequencyMode = string(it.Frequency.Mode)
		r.CooldownMinutes = it.Frequency.CooldownMinutes
	}
	return r, nil
}

// LoadItems returns every stored item in retrieval order (creation time).
// Rows whose content cannot be decoded are skipped and logged.
func (s *Store) LoadItems(ctx context.Context) ([]injection.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT `+itemColumns+` FROM injection_items ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var out []injection.Item
	for rows.Next() {
		var r itemRow
		if err := r.scan(rows); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it, err := r.item()
		if err != nil {
			log.Warn().Err(err).Str("item", r.ID).Msg("skipping unreadable item")
			continue
		}
		out = append(out, it)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ListItems is LoadItems for the admin surface.
func (s *Store) ListItems(ctx context.Context) ([]injection.Item, error) {
	return s.LoadItems(ctx)
}

func (s *Store) GetItem(ctx context.Context, id string) (injection.Item, error) {
	if _, err := uuid.Parse(id); err != nil {
		return injection.Item{}, ErrNotFound
	}
	var r itemRow
	err := r.scan(s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM injection_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return injection.Item{}, ErrNotFound
	}
	if err != nil {
		return injection.Item{}, fmt.Errorf("get item %s: %w", id, err)
	}
	return r.item()
}

// SaveItem inserts it under a fresh id when it.ID is empty and updates the
// existing row otherwise. The stored item is returned.
func (s *Store) SaveItem(ctx context.Context, it injection.Item) (injection.Item, error) {
	insert := it.ID == ""
	if insert {
		it.ID = uuid.NewString()
	} else if _, err := uuid.Parse(it.ID); err != nil {
		return injection.Item{}, ErrNotFound
	}
	r, err := rowFrom(it)
	if err != nil {
		return injection.Item{}, err
	}
	args := []any{r.ID, r.Kind, r.Title, r.Language, r.Placement, r.Content,
		r.TriggerType, r.TriggerValue, r.DelayMS, r.FrequencyMode, r.CooldownMinutes,
		r.Scope, r.PageIDs, r.URLExclusions, r.CategoryExclusions, r.Priority, r.Enabled}

	if insert {
		_, err = s.pool.Exec(ctx, `
			INSERT INTO injection_items (id, kind, title, language, placement, content,
				trigger_type, trigger_value, delay_ms, frequency_mode, cooldown_minutes,
				visibility_scope, page_ids, url_exclusions, category_exclusions, priority, enabled)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`, args...)
		if err != nil {
			return injection.Item{}, fmt.Errorf("insert item: %w", err)
		}
		return it, nil
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE injection_items SET kind=$2, title=$3, language=$4, placement=$5, content=$6,
			trigger_type=$7, trigger_value=$8, delay_ms=$9, frequency_mode=$10, cooldown_minutes=$11,
			visibility_scope=$12, page_ids=$13, url_exclusions=$14, category_exclusions=$15,
			priority=$16, enabled=$17, updated_at=now()
		WHERE id = $1`, args...)
	if err != nil {
		return injection.Item{}, fmt.Errorf("update item %s: %w", it.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return injection.Item{}, ErrNotFound
	}
	return it, nil
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM injection_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete item %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
