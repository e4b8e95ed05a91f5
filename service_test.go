package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/generation"
	"github.com/any-hub/shellcache/internal/strategy"
)

type switchNetwork struct {
	offline bool
}

func (n *switchNetwork) Fetch(_ context.Context, req *strategy.Request) (*cache.Entry, error) {
	if n.offline {
		return nil, errors.New("dial tcp: connection refused")
	}
	return &cache.Entry{Status: http.StatusOK, Header: http.Header{}, Body: []byte(req.URL.String())}, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newBootstrapManager(t *testing.T, store cache.Store, network strategy.Network) *generation.Manager {
	t.Helper()
	m, err := generation.NewManager(generation.Options{Store: store, Network: network, Logger: quietLogger()})
	require.NoError(t, err)
	return m
}

var bootManifest = []string{"https://app.local/", "https://app.local/app.js"}

func TestBootstrapInstallsAndActivates(t *testing.T) {
	store := cache.NewMemoryStore()
	m := newBootstrapManager(t, store, &switchNetwork{})

	bootstrapGeneration(context.Background(), m, store, "v1", bootManifest, quietLogger())
	assert.Equal(t, "v1", m.Active())
}

func TestBootstrapAdoptsStoredPartitionWhenOffline(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()

	// 上一次进程已经安装过 v1。
	online := newBootstrapManager(t, store, &switchNetwork{})
	require.NoError(t, online.Install(ctx, "v1", bootManifest))
	require.NoError(t, online.Activate(ctx, "v1"))

	restarted := newBootstrapManager(t, store, &switchNetwork{offline: true})
	bootstrapGeneration(ctx, restarted, store, "v1", bootManifest, quietLogger())
	assert.Equal(t, "v1", restarted.Active())
}

func TestBootstrapFallsBackToNewestOtherPartition(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	require.NoError(t, store.OpenPartition(ctx, "v1"))
	require.NoError(t, store.OpenPartition(ctx, "v2"))

	m := newBootstrapManager(t, store, &switchNetwork{offline: true})
	bootstrapGeneration(ctx, m, store, "v3", bootManifest, quietLogger())
	assert.Equal(t, "v2", m.Active())
}

func TestBootstrapWithoutStoredPartitionsLeavesNoActive(t *testing.T) {
	store := cache.NewMemoryStore()
	m := newBootstrapManager(t, store, &switchNetwork{offline: true})

	bootstrapGeneration(context.Background(), m, store, "v1", bootManifest, quietLogger())
	assert.Empty(t, m.Active())
}

func TestAdoptionCandidatesPreferConfiguredVersion(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	for _, name := range []string{"v1", "v3", "v2"} {
		require.NoError(t, store.OpenPartition(ctx, name))
	}
	assert.Equal(t, []string{"v2", "v3", "v1"}, adoptionCandidates(ctx, store, "v2"))
}
