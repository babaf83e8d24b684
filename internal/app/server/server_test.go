package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anchor-delivery/internal/injection"
	"anchor-delivery/internal/registry"
)

func TestWarmRegistry(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		wantErr   bool
		wantItems int
	}{
		{"first try", 0, false, 1},
		{"recovers", 2, false, 1},
		{"gives up", 5, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := registry.New("")
			require.NoError(t, err)

			calls := 0
			loader := registry.LoaderFunc(func(context.Context) ([]injection.Item, error) {
				calls++
				if calls <= tt.failures {
					return nil, errors.New("connection refused")
				}
				return []injection.Item{{ID: "a", Kind: injection.KindSnippet, Placement: injection.PlacementHeader}}, nil
			})

			err = warmRegistry(context.Background(), reg, loader, 3, time.Millisecond)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantItems, reg.Size())
		})
	}
}

func TestNewRedisClient(t *testing.T) {
	rdb, err := newRedisClient("")
	require.NoError(t, err)
	assert.Nil(t, rdb)

	_, err = newRedisClient("://bad")
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	rdb, err = newRedisClient("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	defer rdb.Close()
	require.NoError(t, rdb.Ping(context.Background()).Err())
}
