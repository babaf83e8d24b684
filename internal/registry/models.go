package registry

import (
	"context"

	"anchor-delivery/internal/injection"
)

// Loader supplies every stored injection item in retrieval order.
type Loader interface {
	LoadItems(ctx context.Context) ([]injection.Item, error)
}

// compiledItem is an item with its filter data canonicalized at snapshot time.
type compiledItem struct {
	Item     injection.Item
	Prefixes []string // normalized url exclusion prefixes
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) ([]injection.Item, error)

func (f LoaderFunc) LoadItems(ctx context.Context) ([]injection.Item, error) { return f(ctx) }
