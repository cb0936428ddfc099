package analytics_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvestflow/internal/analyticsapi"
	"harvestflow/internal/domain"
	"harvestflow/internal/handlers/analytics"
	"harvestflow/internal/registry"
	"harvestflow/internal/reports"
	"harvestflow/internal/store"
)

const statsBody = `{"success":true,"data":{"totalUsers":42,"totalOrders":7,"revenue":1234.5}}`

const ordersBody = `{"data":[
  {"farmerId":"F1","items":[{"price":100,"quantity":2},{"price":50,"quantity":1}]},
  {"farmerId":"F2","items":[{"price":10,"quantity":1}]},
  {"farmerId":"F1","items":[]}
]}`

type fixture struct {
	mr  *miniredis.Miniredis
	reg *registry.Registry
	dir string
}

func setup(t *testing.T, handler http.Handler) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	s := store.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	reg := registry.New()
	require.NoError(t, analytics.Register(reg, analytics.Deps{
		Store:   s,
		API:     analyticsapi.NewClient(srv.URL+"/api", time.Second, 0),
		Reports: reports.NewSink(dir),
	}))
	return &fixture{mr: mr, reg: reg, dir: dir}
}

func platformAPI() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/admin/stats", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(statsBody))
	})
	mux.HandleFunc("/api/farmers/orders", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(ordersBody))
	})
	return mux
}

func (f *fixture) run(t *testing.T, name string, kwargs map[string]any) (registry.Outcome, map[string]any) {
	t.Helper()
	e, err := f.reg.Resolve(name)
	require.NoError(t, err)
	a, err := registry.Bind(e.Params, nil, kwargs)
	require.NoError(t, err)
	out, err := e.Handler.Handle(context.Background(), a)
	require.NoError(t, err)
	raw, err := json.Marshal(out.Value)
	require.NoError(t, err)
	var v map[string]any
	require.NoError(t, json.Unmarshal(raw, &v))
	return out, v
}

func TestUpdateAnalyticsCache(t *testing.T) {
	t.Parallel()
	f := setup(t, platformAPI())

	out, v := f.run(t, "update_analytics_cache", nil)
	assert.Equal(t, domain.StatusSuccess, out.Status)
	assert.Equal(t, []any{"revenue", "totalOrders", "totalUsers"}, v["cached_keys"])

	got, err := f.mr.Get("stat:totalUsers")
	require.NoError(t, err)
	assert.Equal(t, "42", got)
	assert.Equal(t, 30*time.Minute, f.mr.TTL("platform_stats"))
}

func TestUpstreamFailure(t *testing.T) {
	t.Parallel()
	f := setup(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))

	tests := []struct {
		task   string
		kwargs map[string]any
	}{
		{"update_analytics_cache", nil},
		{"generate_sales_report", map[string]any{"farmerId": "F1"}},
		{"generate_profit_loss_report", map[string]any{"farmer_id": "F1"}},
	}
	for _, tt := range tests {
		t.Run(tt.task, func(t *testing.T) {
			out, v := f.run(t, tt.task, tt.kwargs)
			assert.Equal(t, domain.StatusFailure, out.Status)
			require.NotNil(t, out.Err)
			assert.Equal(t, domain.KindUpstreamUnavailable, out.Err.Kind)
			assert.Equal(t, false, v["success"])
		})
	}
}

func TestGenerateSalesReport(t *testing.T) {
	t.Parallel()
	f := setup(t, platformAPI())

	out, v := f.run(t, "generate_sales_report", map[string]any{"farmerId": "F1"})
	assert.Equal(t, domain.StatusSuccess, out.Status)
	path := v["reportPath"].(string)
	assert.Regexp(t, `^sales_report_farmer_F1_7d_\d{8}_\d{6}\.json$`, filepath.Base(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var report map[string]any
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.Equal(t, "7d", report["range"])
	assert.NotNil(t, report["stats"])
}

func TestGenerateProfitLossReport(t *testing.T) {
	t.Parallel()
	f := setup(t, platformAPI())

	out, v := f.run(t, "generate_profit_loss_report", map[string]any{"farmer_id": "F1"})
	assert.Equal(t, domain.StatusSuccess, out.Status)
	data := v["data"].(map[string]any)
	assert.Equal(t, float64(250), data["total_revenue"])
	assert.InDelta(t, 75, data["total_cost"], 1e-9)
	assert.InDelta(t, 175, data["profit"], 1e-9)
	assert.InDelta(t, 70, data["profit_margin"], 1e-9)
	assert.Equal(t, float64(2), data["order_count"])
	assert.True(t, f.mr.Exists("profit_loss:F1:monthly"))
}

func TestGenerateUserEngagementReport(t *testing.T) {
	t.Parallel()
	f := setup(t, platformAPI())
	f.mr.Set("active_users:weekly", "30")
	f.mr.Set("new_users:weekly", "12")

	out, v := f.run(t, "generate_user_engagement_report", nil)
	assert.Equal(t, domain.StatusSuccess, out.Status)
	data := v["data"].(map[string]any)
	assert.Equal(t, float64(250), data["engagement_rate"])
	assert.Equal(t, 2*time.Hour, f.mr.TTL("user_engagement:weekly"))
}

func TestTrackUserBehavior(t *testing.T) {
	t.Parallel()
	f := setup(t, platformAPI())

	for i := 0; i < 3; i++ {
		out, _ := f.run(t, "track_user_behavior", map[string]any{
			"user_id": "U1", "action": "view_product", "metadata": map[string]any{"i": i},
		})
		require.Equal(t, domain.StatusSuccess, out.Status)
	}
	members, err := f.mr.ZMembers("user:U1:behaviors")
	require.NoError(t, err)
	assert.Len(t, members, 3)
	assert.Equal(t, 90*24*time.Hour, f.mr.TTL("user:U1:behaviors"))
}
