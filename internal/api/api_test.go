package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anchor-delivery/internal/dispatch"
	"anchor-delivery/internal/injection"
	"anchor-delivery/internal/media"
	"anchor-delivery/internal/registry"
	"anchor-delivery/internal/storage"
)

type fakeStore struct {
	mu       sync.Mutex
	items    []injection.Item
	events   map[string][]string
	pages    []storage.PageHit
	migrated int64
	err      error
}

func (f *fakeStore) ListItems(context.Context) ([]injection.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]injection.Item(nil), f.items...), nil
}

func (f *fakeStore) GetItem(_ context.Context, id string) (injection.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items {
		if it.ID == id {
			return it, nil
		}
	}
	return injection.Item{}, storage.ErrNotFound
}

func (f *fakeStore) SaveItem(_ context.Context, it injection.Item) (injection.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return injection.Item{}, f.err
	}
	if it.ID == "" {
		it.ID = uuid.NewString()
		f.items = append(f.items, it)
		return it, nil
	}
	for i := range f.items {
		if f.items[i].ID == it.ID {
			f.items[i] = it
			return it, nil
		}
	}
	return injection.Item{}, storage.ErrNotFound
}

func (f *fakeStore) DeleteItem(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (f *fakeStore) SearchPages(_ context.Context, q string, _ int) ([]storage.PageHit, error) {
	var out []storage.PageHit
	for _, p := range f.pages {
		if strings.Contains(strings.ToLower(p.Title), strings.ToLower(q)) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) ListEvents(context.Context, int, time.Month) (map[string][]string, error) {
	return f.events, f.err
}

func (f *fakeStore) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeStore) MigrateLegacy(context.Context) (int64, error) {
	n := f.migrated
	f.migrated = 0
	return n, f.err
}

type fakeCropper struct{ got media.CropRequest }

func (c *fakeCropper) Crop(_ context.Context, req media.CropRequest) (media.CropResult, error) {
	c.got = req
	return media.CropResult{Message: "ok", ThumbURL: "/media/thumbs/x.jpg"}, nil
}

type env struct {
	srv   *httptest.Server
	store *fakeStore
	reg   *registry.Registry
	redis *miniredis.Miniredis
	crop  *fakeCropper
}

func newEnv(t *testing.T, items ...injection.Item) *env {
	t.Helper()
	reg, err := registry.New("https://example.com/")
	require.NoError(t, err)
	reg.Load(items)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := &fakeStore{items: items}
	crop := &fakeCropper{}
	h := &Handler{
		Reg:        reg,
		Dispatcher: dispatch.New(dispatch.NewTemplateExecutor(0)),
		Store:      store,
		Media:      crop,
		Gates:      RedisGates(rdb, time.Hour),
		Now:        func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) },
		DB:         store,
		Redis:      rdb,
	}
	srv := httptest.NewServer(Router(h))
	t.Cleanup(srv.Close)
	return &env{srv: srv, store: store, reg: reg, redis: mr, crop: crop}
}

func (e *env) do(t *testing.T, method, path, body string, caps ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if len(caps) > 0 {
		req.Header.Set(PrincipalHeader, strings.Join(caps, ", "))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func snippet(id string, lang injection.Language, placement injection.Placement, priority int, markup string) injection.Item {
	return injection.Item{
		ID:         id,
		Kind:       injection.KindSnippet,
		Title:      id,
		Language:   lang,
		Placement:  placement,
		Content:    injection.Content{Type: injection.ContentMarkup, Markup: markup},
		Visibility: injection.Visibility{Scope: injection.VisibilityGlobal},
		Priority:   priority,
		Enabled:    true,
	}
}

func videoPopup(id string, trig injection.TriggerType) injection.Item {
	return injection.Item{
		ID:    id,
		Kind:  injection.KindPopup,
		Title: id,
		Content: injection.Content{Type: injection.ContentVideo, Video: &injection.Video{
			Provider: injection.ProviderYouTube, ExternalID: "abc123", Autoplay: true,
		}},
		Trigger:    &injection.Trigger{Type: trig, Value: "open-" + id},
		Frequency:  &injection.Frequency{Mode: injection.FrequencySession},
		Visibility: injection.Visibility{Scope: injection.VisibilityGlobal},
		Priority:   10,
		Enabled:    true,
	}
}

func TestInjections(t *testing.T) {
	e := newEnv(t,
		snippet("late", injection.LangJavaScript, injection.PlacementHeader, 20, "a()"),
		snippet("early", injection.LangCSS, injection.PlacementHeader, 1, "p{}"),
		snippet("foot", injection.LangHTML, injection.PlacementFooter, 1, "<b>"),
	)

	resp := e.do(t, http.MethodGet, "/v1/injections", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errBody := decode[map[string]string](t, resp)
	assert.Equal(t, "validation_error", errBody["type"])

	resp = e.do(t, http.MethodGet, "/v1/injections?placement=body_start", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/v1/injections?placement=header", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := decode[[]injection.Item](t, resp)
	require.Len(t, items, 2)
	assert.Equal(t, "early", items[0].ID)
	assert.Equal(t, "late", items[1].ID)
}

func TestRender(t *testing.T) {
	e := newEnv(t,
		snippet("js", injection.LangJavaScript, injection.PlacementFooter, 1, "track()"),
		snippet("tpl", injection.LangTemplate, injection.PlacementFooter, 2, `<i>{{.Placement}}</i>`),
		snippet("css", injection.LangCSS, injection.PlacementFooter, 3, "b{}"),
	)

	resp := e.do(t, http.MethodGet, "/v1/render/footer", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	body := readAll(t, resp)
	assert.Equal(t, "<script>track()</script>\n<style>b{}</style>\n", body)

	resp = e.do(t, http.MethodGet, "/v1/render/footer", "", dispatch.CapUnfilteredHTML)
	assert.Equal(t, "<script>track()</script>\n<i>footer</i><style>b{}</style>\n", readAll(t, resp))

	resp = e.do(t, http.MethodGet, "/v1/render/popup", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestBootstrap_EmbedURLs(t *testing.T) {
	excluded := videoPopup("thanks-only", injection.TriggerPageLoad)
	excluded.Exclusions.URLPrefixes = []string{"/thanks"}
	e := newEnv(t,
		videoPopup("auto", injection.TriggerPageLoad),
		videoPopup("click", injection.TriggerClickClass),
		excluded,
		snippet("s", injection.LangHTML, injection.PlacementHeader, 1, "x"),
	)

	resp := e.do(t, http.MethodGet, "/v1/bootstrap?url=/thanks/order", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[bootstrapResponse](t, resp)
	require.Len(t, got.Popups, 2)
	assert.Contains(t, got.EmbedURLs["auto"], "mute=1")
	assert.NotContains(t, got.EmbedURLs["click"], "mute=1")
	assert.Contains(t, got.EmbedURLs["click"], "autoplay=1")
	_, ok := got.EmbedURLs["thanks-only"]
	assert.False(t, ok)
}

func TestVisitorGate(t *testing.T) {
	cooldown := videoPopup("cd", injection.TriggerPageLoad)
	cooldown.Frequency = &injection.Frequency{Mode: injection.FrequencyCooldown, CooldownMinutes: 60}
	e := newEnv(t,
		videoPopup("p1", injection.TriggerPageLoad),
		videoPopup("c1", injection.TriggerClickID),
		cooldown,
	)

	eligible := func(id string) bool {
		resp := e.do(t, http.MethodGet, "/v1/visitors/v-1/popups/"+id+"/eligible", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		return decode[map[string]bool](t, resp)["eligible"]
	}

	assert.True(t, eligible("p1"))
	resp := e.do(t, http.MethodPost, "/v1/visitors/v-1/popups/p1/shown", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.False(t, eligible("p1"))

	e.do(t, http.MethodPost, "/v1/visitors/v-1/popups/c1/shown", "")
	assert.True(t, eligible("c1"), "click popups are never gated")
	assert.False(t, e.redis.Exists("anchor:gate:v-1:anchor_popup_shown_c1"))

	e.do(t, http.MethodPost, "/v1/visitors/v-1/popups/cd/shown", "")
	assert.False(t, eligible("cd"))
	assert.True(t, e.redis.Exists("anchor:gate:v-1:anchor_popup_cooldown_cd"))

	resp = e.do(t, http.MethodGet, "/v1/visitors/v-1/popups/missing/eligible", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVisitorGate_DisabledPopupIsNotFound(t *testing.T) {
	off := videoPopup("off", injection.TriggerPageLoad)
	off.Enabled = false
	e := newEnv(t, off)

	resp := e.do(t, http.MethodGet, "/v1/visitors/v-1/popups/off/eligible", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = e.do(t, http.MethodPost, "/v1/visitors/v-1/popups/off/shown", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, e.redis.Exists("anchor:gate:v-1:anchor_popup_shown_off"))
}

func TestVisitorGate_ResetShown(t *testing.T) {
	cooldown := videoPopup("cd", injection.TriggerPageLoad)
	cooldown.Frequency = &injection.Frequency{Mode: injection.FrequencyCooldown, CooldownMinutes: 60}
	e := newEnv(t, videoPopup("p1", injection.TriggerPageLoad), cooldown)

	for _, id := range []string{"p1", "cd"} {
		e.do(t, http.MethodPost, "/v1/visitors/v-1/popups/"+id+"/shown", "")
		resp := e.do(t, http.MethodGet, "/v1/visitors/v-1/popups/"+id+"/eligible", "")
		require.False(t, decode[map[string]bool](t, resp)["eligible"])

		resp = e.do(t, http.MethodDelete, "/v1/visitors/v-1/popups/"+id+"/shown", "")
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		resp = e.do(t, http.MethodGet, "/v1/visitors/v-1/popups/"+id+"/eligible", "")
		assert.True(t, decode[map[string]bool](t, resp)["eligible"], id)
	}

	resp := e.do(t, http.MethodDelete, "/v1/visitors/v-1/popups/missing/shown", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVisitorGate_RedisDownFailsOpen(t *testing.T) {
	e := newEnv(t, videoPopup("p1", injection.TriggerPageLoad))
	e.redis.Close()

	resp := e.do(t, http.MethodPost, "/v1/visitors/v-1/popups/p1/shown", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = e.do(t, http.MethodGet, "/v1/visitors/v-1/popups/p1/eligible", "")
	assert.True(t, decode[map[string]bool](t, resp)["eligible"])
}

func TestAdmin_RequiresCapability(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodGet, "/v1/admin/items", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "authorization_error", decode[map[string]string](t, resp)["type"])

	resp = e.do(t, http.MethodGet, "/v1/admin/items", "", "edit_posts")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/v1/admin/items", "", CapManageOptions)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]injection.Item](t, resp))
}

func TestAdmin_ItemLifecycle(t *testing.T) {
	e := newEnv(t)

	body := `{"kind":"popup","title":"  Promo ","content":{"type":"html","html":"<p>Hi</p><style>p{}</style>"},
		"trigger":{"type":"click_class","value":".promo","delay_ms":500}}`
	resp := e.do(t, http.MethodPost, "/v1/admin/items", body, CapManageOptions)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[injection.Item](t, resp)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Promo", created.Title)
	assert.Equal(t, "promo", created.Trigger.Value)
	assert.Zero(t, created.Trigger.DelayMS)
	assert.Equal(t, injection.FrequencySession, created.Frequency.Mode)
	assert.Equal(t, "p{}", created.Content.CSS)

	// the registry serves the write immediately
	_, ok := e.reg.Lookup(created.ID)
	assert.True(t, ok)

	resp = e.do(t, http.MethodGet, "/v1/admin/items/"+created.ID, "", CapManageOptions)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodPut, "/v1/admin/items/"+created.ID,
		`{"kind":"popup","title":"Promo","content":{"type":"html","html":"<p>x</p>"},"trigger":{"type":"page_load"}}`,
		CapManageOptions)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodDelete, "/v1/admin/items/"+created.ID, "", CapManageOptions)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, ok = e.reg.Lookup(created.ID)
	assert.False(t, ok)

	resp = e.do(t, http.MethodGet, "/v1/admin/items/"+created.ID, "", CapManageOptions)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdmin_SaveRejectsBadInput(t *testing.T) {
	e := newEnv(t)
	cases := map[string]string{
		"not json":      `{`,
		"no title":      `{"kind":"code_snippet","language":"css","placement":"header","content":{"type":"markup"}}`,
		"bad placement": `{"kind":"code_snippet","title":"x","language":"css","placement":"sidebar","content":{"type":"markup"}}`,
		"no trigger":    `{"kind":"popup","title":"x","content":{"type":"html"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp := e.do(t, http.MethodPost, "/v1/admin/items", body, CapManageOptions)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	resp := e.do(t, http.MethodPut, "/v1/admin/items/nope",
		`{"kind":"code_snippet","title":"x","language":"css","placement":"header","content":{"type":"markup"}}`,
		CapManageOptions)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdmin_StorageErrorIsOpaque(t *testing.T) {
	e := newEnv(t)
	e.store.err = errors.New("pq: connection refused to 10.0.0.5")

	resp := e.do(t, http.MethodGet, "/v1/admin/items", "", CapManageOptions)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	got := decode[map[string]string](t, resp)
	assert.Equal(t, "storage_error", got["type"])
	assert.NotContains(t, got["message"], "10.0.0.5")
}

func TestAdmin_Calendar(t *testing.T) {
	e := newEnv(t)
	e.store.events = map[string][]string{"2026-10-31": {"e1"}}

	resp := e.do(t, http.MethodGet, "/v1/admin/calendar?month=2026-10", "", CapManageOptions)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[calendarResponse](t, resp)
	assert.Equal(t, "2026-10", got.Month)
	assert.Equal(t, 4, got.FirstWeekday)
	require.Len(t, got.Weeks, 5)
	assert.Equal(t, []string{"e1"}, got.Weeks[4][5].EventIDs)

	resp = e.do(t, http.MethodGet, "/v1/admin/calendar", "", CapManageOptions)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2026-10", decode[calendarResponse](t, resp).Month)

	resp = e.do(t, http.MethodGet, "/v1/admin/calendar?month=October", "", CapManageOptions)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdmin_SearchCropMigrate(t *testing.T) {
	e := newEnv(t)
	e.store.pages = []storage.PageHit{{ID: "1", Title: "Thank You", Type: "page"}, {ID: "2", Title: "About", Type: "page"}}
	e.store.migrated = 3

	resp := e.do(t, http.MethodGet, "/v1/admin/search?q=thank", "", CapManageOptions)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	hits := decode[map[string][]storage.PageHit](t, resp)["results"]
	require.Len(t, hits, 1)
	assert.Equal(t, "1", hits[0].ID)

	resp = e.do(t, http.MethodPost, "/v1/admin/images/crop",
		`{"postId":"9","attachmentId":"55","x":1,"y":2,"w":30,"h":40,"mode":"fit"}`, CapManageOptions)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/media/thumbs/x.jpg", decode[media.CropResult](t, resp).ThumbURL)
	assert.Equal(t, 30, e.crop.got.W)

	resp = e.do(t, http.MethodPost, "/v1/admin/migrate-legacy", "", CapManageOptions)
	assert.Equal(t, int64(3), decode[map[string]int64](t, resp)["migrated"])
	resp = e.do(t, http.MethodPost, "/v1/admin/migrate-legacy", "", CapManageOptions)
	assert.Equal(t, int64(0), decode[map[string]int64](t, resp)["migrated"])
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyz(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		e := newEnv(t)
		resp := e.do(t, http.MethodGet, "/readyz", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ready", decode[map[string]string](t, resp)["status"])
	})

	t.Run("database down", func(t *testing.T) {
		e := newEnv(t)
		e.store.err = errors.New("dial tcp 10.0.0.5:5432: connection refused")
		resp := e.do(t, http.MethodGet, "/readyz", "")
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		got := decode[map[string]string](t, resp)
		assert.Equal(t, "storage_error", got["type"])
		assert.NotContains(t, got["message"], "10.0.0.5")
	})

	t.Run("redis down", func(t *testing.T) {
		e := newEnv(t)
		e.redis.Close()
		resp := e.do(t, http.MethodGet, "/readyz", "")
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		got := decode[map[string]string](t, resp)
		assert.Equal(t, "upstream_error", got["type"])
		assert.Equal(t, "Visitor store is unreachable.", got["message"])
	})
}
