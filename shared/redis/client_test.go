package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/panel-one/shared/logger"
)

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), &Config{URL: "redis://" + mr.Addr()}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.HealthCheck(context.Background()))
	require.NoError(t, client.GetClient().Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(context.Background(), &Config{URL: "http://nope"}, logger.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse Redis URL")
}

func TestMaskURL(t *testing.T) {
	masked := MaskURL("redis://:secret@localhost:6379/0")
	assert.NotContains(t, masked, "secret")
	assert.Contains(t, masked, "localhost:6379")

	assert.Equal(t, "redis://localhost:6379", MaskURL("redis://localhost:6379"))
}
