// +build integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// This test requires an available Redis server at localhost:6379.
func TestRedis(t *testing.T) {
	ctx := context.Background()
	r, err := New("redis://localhost:6379/0")
	require.NoError(t, err)
	defer r.Close()

	_, ok, err := r.Get(ctx, "nftmarket-test-missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, r.Set(ctx, "nftmarket-test", []byte(`{"a":1}`), time.Second))

	data, ok, err := r.Get(ctx, "nftmarket-test")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"a":1}`, string(data))

	require.NoError(t, r.Del(ctx, "nftmarket-test"))

	_, ok, err = r.Get(ctx, "nftmarket-test")
	require.NoError(t, err)
	require.False(t, ok)
}
