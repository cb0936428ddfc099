package app_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvestflow/internal/app"
	"harvestflow/internal/config"
	"harvestflow/internal/domain"
	"harvestflow/internal/store"
)

func testConfig(t *testing.T, mr *miniredis.Miniredis) config.Config {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("BROKER_URL", "memory://")
	t.Setenv("RESULT_BACKEND_URL", "sqlite://"+filepath.Join(dir, "results.db"))
	t.Setenv("REDIS_HOST", mr.Host())
	t.Setenv("REDIS_PORT", mr.Port())
	t.Setenv("REDIS_RETRY_ATTEMPTS", "1")
	t.Setenv("REPORTS_DIR", filepath.Join(dir, "reports"))
	t.Setenv("API_ADDR", "off")
	t.Setenv("WORKER_CONCURRENCY", "2")
	t.Setenv("SHUTDOWN_GRACE", "1s")
	cfg, err := config.Parse()
	require.NoError(t, err)
	return cfg
}

func TestWorker_RunsTasksAgainstDomainStores(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	ctx := context.Background()

	w, err := app.NewWorker(ctx, cfg, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	assert.Len(t, w.Registry.Names(), 23)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(runCtx) }()

	env := domain.NewEnvelope("update_inventory_cache", []any{"P1", 12}, nil)
	require.NoError(t, w.Broker.Enqueue(ctx, env))

	var res domain.Result
	require.Eventually(t, func() bool {
		r, err := w.Results.Get(ctx, env.ID)
		res = r
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.StatusSuccess, res.Status)

	mr.Select(cfg.Redis.DBInventory)
	got, err := mr.Get("product_stock:P1")
	require.NoError(t, err)
	assert.Equal(t, "12", got)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestNewBeat_FromConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("SCHEDULE_CLEANUP_OLD_IMAGES", "off")
	cfg := testConfig(t, mr)
	ctx := context.Background()

	s, err := app.NewScheduler(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	entries, err := s.Beat.Snapshot(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"update_analytics_cache", "check_low_stock_periodic", "generate_user_engagement_report"}, names)

	raw, err := json.Marshal(entries[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"trigger":"*/30 * * * *"`)
}

func TestConnectStores_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	mr.Close()

	_, err := app.ConnectStores(context.Background(), cfg.Redis)
	assert.ErrorIs(t, err, store.ErrNotReady)
}
