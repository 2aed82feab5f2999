package app

import (
	"context"
	"path/filepath"
	"testing"

	"telegram-smsbot/internal/infra/config"
	"telegram-smsbot/internal/infra/storage/boltstore"
	"telegram-smsbot/internal/infra/telegram/connection"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHandler struct{ calls int }

func (h *countingHandler) Handle(context.Context, tg.UpdatesClass) error {
	h.calls++
	return nil
}

func TestLazyUpdateHandler(t *testing.T) {
	t.Parallel()
	var lazy lazyUpdateHandler
	require.NoError(t, lazy.Handle(context.Background(), &tg.UpdatesTooLong{}))

	h := &countingHandler{}
	lazy.set(h)
	require.NoError(t, lazy.Handle(context.Background(), &tg.UpdatesTooLong{}))
	assert.Equal(t, 1, h.calls)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("API_ID", "12345")
	t.Setenv("API_HASH", "hash")
	t.Setenv("BOT_TOKEN", "1:token")
	t.Setenv("ADMIN_UIDS", "1")
	t.Setenv("PROVIDERS", "main=https://sms.example.com,backup=https://backup.example.com")
	cfg, err := config.FromEnv()
	require.NoError(t, err)
	return cfg
}

func testStore(t *testing.T) *boltstore.Store {
	t.Helper()
	store, err := boltstore.Open(filepath.Join(t.TempDir(), "bot.bbolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBuildServices(t *testing.T) {
	cfg := testConfig(t)
	svc, err := buildServices(cfg, testStore(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"main", "backup"}, svc.providers.Names())
	assert.Equal(t, "main", svc.providers.Default())
	require.Len(t, svc.throttlers, 2)
	assert.Equal(t, "backup", svc.throttlers[1].server)

	st, err := svc.executor.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, st.Servers, 2)
	assert.True(t, st.Servers[0].Default)

	assert.True(t, svc.users.IsAdmin(context.Background(), 1))
	assert.Equal(t, cfg.RequestTTL(), svc.sms.TTL())
}

func TestBuildNodesOrder(t *testing.T) {
	cfg := testConfig(t)
	svc, err := buildServices(cfg, testStore(t))
	require.NoError(t, err)

	r := NewRunner(RunnerDeps{
		Config:   cfg,
		Monitor:  connection.New(nil, connection.Options{}),
		Services: svc,
	})
	var names []string
	for _, n := range r.buildNodes(42) {
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{
		nodeDedup, nodeSweeper, "throttle_main", "throttle_backup",
		nodeConnection, nodeChat, nodeUpdates,
	}, names)

	chatNode := r.buildNodes(42)[5]
	assert.Contains(t, chatNode.Deps, "throttle_backup")
	assert.Contains(t, chatNode.Deps, nodeConnection)
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	t.Parallel()
	r := NewRunner(RunnerDeps{})
	r.stopAllServices()
}
