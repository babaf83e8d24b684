package registry

import (
	"cmp"
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"anchor-delivery/internal/cache"
	"anchor-delivery/internal/injection"
	"anchor-delivery/internal/observability"
)

// Indexes for fast candidate narrowing
type indexes struct {
	Items []compiledItem // backing array in retrieval order; indexes reference this

	ByID         map[string]int
	ByPlacement  map[injection.Placement][]int // ascending positions
	IncPage      setIndex
	AgnosticPage set
	ExcCategory  setIndex
}

// Registry exposes read-only, lock-free resolve operations.
type Registry struct {
	snap     cache.Snapshot[indexes]
	siteRoot *url.URL
}

// New creates a registry. Relative URLs and exclusion prefixes are resolved
// against siteURL.
func New(siteURL string) (*Registry, error) {
	if siteURL == "" {
		siteURL = "http://localhost/"
	}
	root, err := url.Parse(siteURL)
	if err != nil || root.Host == "" {
		return nil, fmt.Errorf("invalid site url %q", siteURL)
	}
	// relative prefixes resolve inside the site path, not next to it
	if !strings.HasSuffix(root.Path, "/") {
		root.Path += "/"
	}
	return &Registry{siteRoot: root}, nil
}

// BuildSnapshot loads all items and swaps in freshly built indexes.
func (r *Registry) BuildSnapshot(ctx context.Context, l Loader) error {
	items, err := l.LoadItems(ctx)
	if err != nil {
		observability.SnapshotBuilds.WithLabelValues("error").Inc()
		return fmt.Errorf("load items: %w", err)
	}
	r.Load(items)
	observability.SnapshotBuilds.WithLabelValues("ok").Inc()
	log.Info().Int("items", len(items)).Msg("registry snapshot built")
	return nil
}

// Load builds indexes from items, which must be in retrieval order.
func (r *Registry) Load(items []injection.Item) {
	cs := make([]compiledItem, 0, len(items))
	for _, it := range items {
		c := compiledItem{Item: it}
		for _, p := range it.Exclusions.URLPrefixes {
			if n := r.normalize(p); n != "" {
				c.Prefixes = append(c.Prefixes, n)
			}
		}
		cs = append(cs, c)
	}
	r.snap.Store(buildIndexes(cs))
}

// Size returns the number of items in the current snapshot.
func (r *Registry) Size() int {
	s, _ := r.snap.Load()
	return len(s.Items)
}

// Lookup returns the item with id from the current snapshot.
func (r *Registry) Lookup(id string) (injection.Item, bool) {
	ix, _ := r.snap.Load()
	i, ok := ix.ByID[id]
	if !ok {
		return injection.Item{}, false
	}
	return ix.Items[i].Item, true
}

func buildIndexes(cs []compiledItem) indexes {
	ix := indexes{
		Items:        cs,
		ByID:         map[string]int{},
		ByPlacement:  map[injection.Placement][]int{},
		IncPage:      setIndex{},
		AgnosticPage: set{},
		ExcCategory:  setIndex{},
	}
	for i, c := range cs {
		if _, dup := ix.ByID[c.Item.ID]; !dup {
			ix.ByID[c.Item.ID] = i
		}
		loc := c.Item.Location()
		ix.ByPlacement[loc] = append(ix.ByPlacement[loc], i)

		if c.Item.Visibility.Restricts() {
			for _, id := range c.Item.Visibility.PageIDs {
				ix.IncPage.add(strings.TrimSpace(id), i)
			}
		} else {
			ix.AgnosticPage[i] = struct{}{}
		}

		for _, cat := range c.Item.Exclusions.CategoryIDs {
			ix.ExcCategory.add(strings.TrimSpace(cat), i)
		}
	}
	return ix
}

// Resolve returns the eligible items for placement in the given request
// context, ordered by ascending priority with ties kept in retrieval order.
// It is a pure read of the current snapshot.
func (r *Registry) Resolve(_ context.Context, placement injection.Placement, rc injection.RequestContext) []injection.Item {
	ix, _ := r.snap.Load()

	current := r.normalize(rc.URL)
	resource := strings.TrimSpace(rc.ResourceID)

	excludedByCategory := set{}
	for _, cat := range rc.CategoryIDs {
		for i := range ix.ExcCategory[strings.TrimSpace(cat)] {
			excludedByCategory[i] = struct{}{}
		}
	}

	var out []injection.Item
	for _, i := range ix.ByPlacement[placement] {
		c := ix.Items[i]
		if !c.Item.Enabled {
			continue
		}
		if !ix.AgnosticPage.has(i) && !ix.IncPage[resource].has(i) {
			continue
		}
		if current != "" && matchesPrefix(c.Prefixes, current) {
			continue
		}
		if excludedByCategory.has(i) {
			continue
		}
		out = append(out, c.Item)
	}

	// deterministic order
	slices.SortStableFunc(out, func(a, b injection.Item) int { return cmp.Compare(a.Priority, b.Priority) })

	observability.ResolveTotal.WithLabelValues(string(placement)).Inc()
	observability.ResolvedItems.WithLabelValues(string(placement)).Observe(float64(len(out)))
	return out
}

// normalize canonicalizes a URL or path for prefix comparison: resolved
// against the site root, lowercased, query and fragment dropped, trailing
// slash stripped. The scheme is ignored. Returns "" for unusable input.
func (r *Registry) normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	// "thanks" is resolved against the site root, not the current page
	u = r.siteRoot.ResolveReference(u)
	out := strings.ToLower(u.Host + u.EscapedPath())
	return strings.TrimRight(out, "/")
}

// matchesPrefix reports whether current equals a prefix or continues it at a
// path boundary.
func matchesPrefix(prefixes []string, current string) bool {
	for _, p := range prefixes {
		if current == p {
			return true
		}
		if strings.HasPrefix(current, p) && current[len(p)] == '/' {
			return true
		}
	}
	return false
}

type set map[int]struct{}

func (s set) has(i int) bool {
	_, ok := s[i]
	return ok
}

type setIndex map[string]set

func (m setIndex) add(k string, i int) {
	if k == "" {
		return
	}
	s, ok := m[k]
	if !ok {
		s = set{}
		m[k] = s
	}
	s[i] = struct{}{}
}
