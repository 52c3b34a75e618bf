//go:build integration

package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/testutil/containers"
)

func TestMinioStoreNeverOverwrites(t *testing.T) {
	mc := containers.NewMinioContainer(t)
	ctx := context.Background()

	store, err := NewMinioStore(ctx, MinioConfig{
		Endpoint:  mc.Endpoint,
		AccessKey: mc.AccessKey,
		SecretKey: mc.SecretKey,
		Bucket:    "war-files-test",
	})
	require.NoError(t, err)

	key := "shop_1700000000123.war"
	first := "first artifact"
	require.NoError(t, store.Save(ctx, key, strings.NewReader(first), int64(len(first))))

	second := "second artifact"
	err = store.Save(ctx, key, strings.NewReader(second), int64(len(second)))
	require.ErrorIs(t, err, ErrExists)

	rc, err := store.Open(ctx, key)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, first, string(body))

	require.NoError(t, store.Remove(ctx, key))
	_, err = store.Open(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(ctx, key, strings.NewReader(second), int64(len(second))))
}

func TestMinioStoreReopensExistingBucket(t *testing.T) {
	mc := containers.NewMinioContainer(t)
	ctx := context.Background()
	cfg := MinioConfig{Endpoint: mc.Endpoint, AccessKey: mc.AccessKey, SecretKey: mc.SecretKey, Bucket: "war-files-test"}

	_, err := NewMinioStore(ctx, cfg)
	require.NoError(t, err)
	_, err = NewMinioStore(ctx, cfg)
	require.NoError(t, err)
}
