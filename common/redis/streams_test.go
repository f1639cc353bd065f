package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestPublishToStream_EncodesValues(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	id, err := PublishToStream(ctx, client, "reflex:events", 0, map[string]interface{}{
		"kind":    uint8(4),
		"payload": "12.50",
		"seq":     uint64(9),
		"stopped": true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := client.XRange(ctx, "reflex:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "4", msgs[0].Values["kind"])
	assert.Equal(t, "12.50", msgs[0].Values["payload"])
	assert.Equal(t, "9", msgs[0].Values["seq"])
	assert.Equal(t, "true", msgs[0].Values["stopped"])
}

func TestPublishToStream_JSONFallback(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	_, err := PublishToStream(ctx, client, "reflex:events", 0, map[string]interface{}{
		"faults": []string{"peer_silent"},
	})
	require.NoError(t, err)

	msgs, err := client.XRange(ctx, "reflex:events", "-", "+").Result()
	require.NoError(t, err)
	assert.Equal(t, `["peer_silent"]`, msgs[0].Values["faults"])
}

func TestStreamLength(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := PublishToStream(ctx, client, "reflex:events", 100, map[string]interface{}{"i": i})
		require.NoError(t, err)
	}

	n, err := StreamLength(ctx, client, "reflex:events")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
