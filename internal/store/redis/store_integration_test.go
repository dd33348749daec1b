//go:build integration

package redis_test

import (
	"context"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/ginjaninja78/pfi-indexer/internal/store"
	pfiredis "github.com/ginjaninja78/pfi-indexer/internal/store/redis"
	"github.com/ginjaninja78/pfi-indexer/internal/store/storetest"
)

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := goredis.ParseURL(url)
	require.NoError(t, err)
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	suite.Run(t, &storetest.ReadStoreSuite{
		Open: func() store.ReadStore {
			require.NoError(t, client.FlushAll(ctx).Err())
			return pfiredis.New(client, "test:")
		},
	})
}

func TestOpenUnreachableServer(t *testing.T) {
	_, err := pfiredis.Open(context.Background(), "redis://127.0.0.1:1/0", "")
	require.ErrorIs(t, err, store.ErrUnavailable)
}
