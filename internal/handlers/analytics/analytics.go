// Package analytics implements report generation and dashboard cache tasks.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"harvestflow/internal/domain"
	"harvestflow/internal/registry"
	"harvestflow/internal/reports"
	"harvestflow/internal/store"
)

const (
	behaviorTTL      = 90 * 24 * time.Hour
	maxBehaviors     = 1000
	profitCacheTTL   = time.Hour
	engagementTTL    = 2 * time.Hour
	statsCacheTTL    = 30 * time.Minute
	costOfGoodsRatio = 0.3
)

// API is the subset of the platform REST client these tasks use.
type API interface {
	Get(ctx context.Context, path string, out any) error
}

type Deps struct {
	Store   store.Store
	API     API
	Reports *reports.Sink
	Now     func() time.Time
}

type tasks struct {
	Deps
}

func Register(reg *registry.Registry, d Deps) error {
	if d.Now == nil {
		d.Now = time.Now
	}
	t := &tasks{Deps: d}
	for _, r := range []struct {
		name   string
		fn     registry.HandlerFunc
		params []registry.Param
	}{
		{"generate_sales_report", t.generateSalesReport, []registry.Param{
			registry.Required("farmerId", registry.String),
			registry.Optional("range", registry.String, "7d"),
		}},
		{"track_user_behavior", t.trackUserBehavior, []registry.Param{
			registry.Required("user_id", registry.String),
			registry.Required("action", registry.String),
			registry.Optional("metadata", registry.Map, nil),
		}},
		{"generate_profit_loss_report", t.generateProfitLossReport, []registry.Param{
			registry.Required("farmer_id", registry.String),
			registry.Optional("period", registry.String, "monthly"),
		}},
		{"generate_user_engagement_report", t.generateUserEngagementReport, []registry.Param{
			registry.Optional("period", registry.String, "weekly"),
		}},
		{"update_analytics_cache", t.updateAnalyticsCache, nil},
	} {
		if err := reg.Register(r.name, r.fn, registry.WithParams(r.params...)); err != nil {
			return err
		}
	}
	return nil
}

func failure(err error, format string) registry.Outcome {
	v := map[string]any{"success": false, "message": fmt.Sprintf(format, err)}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return registry.Failed(domain.KindHandlerFailure, err.Error(), v)
	}
	return registry.Upstream(err, v)
}

func (t *tasks) now() string { return t.Now().UTC().Format(time.RFC3339Nano) }

func (t *tasks) generateSalesReport(ctx context.Context, a registry.Args) (registry.Outcome, error) {
	farmerID := a.String("farmerId")
	rng := a.String("range")

	var stats map[string]any
	if err := t.API.Get(ctx, "/admin/stats", &stats); err != nil {
		return failure(err, "Failed to fetch stats: %v"), nil
	}

	path, err := t.Reports.Write("sales_report", "farmer_"+farmerID, rng, map[string]any{
		"farmerId":    farmerID,
		"range":       rng,
		"generatedAt": t.now(),
		"stats":       stats,
	})
	if err != nil {
		return registry.Failed(domain.KindHandlerFailure, err.Error(), map[string]any{"success": false, "message": err.Error()}), nil
	}
	return registry.Success(map[string]any{"success": true, "reportPath": path}), nil
}

func (t *tasks) trackUserBehavior(ctx context.Context, a registry.Args) (registry.Outcome, error) {
	userID := a.String("user_id")
	action := a.String("action")
	now := t.Now().UTC()

	entry, err := json.Marshal(map[string]any{
		"user_id":   userID,
		"action":    action,
		"metadata":  a.Map("metadata"),
		"timestamp": now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return registry.Outcome{}, err
	}

	key := "user:" + userID + ":behaviors"
	if err := t.Store.ZAdd(ctx, key, float64(now.UnixNano())/1e9, string(entry)); err != nil {
		return registry.Upstream(err, nil), nil
	}
	if _, err := t.Store.ZRemRangeByRank(ctx, key, 0, -(maxBehaviors + 1)); err != nil {
		return registry.Upstream(err, nil), nil
	}
	if err := t.Store.Expire(ctx, key, behaviorTTL); err != nil {
		return registry.Upstream(err, nil), nil
	}
	return registry.Success(map[string]any{"success": true, "user_id": userID, "action": action}), nil
}

type ordersResponse struct {
	Data []struct {
		FarmerID string `json:"farmerId"`
		Items    []struct {
			Price    float64 `json:"price"`
			Quantity float64 `json:"quantity"`
		} `json:"items"`
	} `json:"data"`
}

func (t *tasks) generateProfitLossReport(ctx context.Context, a registry.Args) (registry.Outcome, error) {
	farmerID := a.String("farmer_id")
	period := a.String("period")
	const failMsg = "Failed to generate profit/loss report: %v"

	var orders ordersResponse
	if err := t.API.Get(ctx, "/farmers/orders", &orders); err != nil {
		return failure(err, failMsg), nil
	}

	var revenue, cost float64
	count := 0
	for _, o := range orders.Data {
		if o.FarmerID != farmerID {
			continue
		}
		count++
		for _, it := range o.Items {
			line := it.Price * it.Quantity
			revenue += line
			cost += line * costOfGoodsRatio
		}
	}
	profit := revenue - cost
	margin := 0.0
	if revenue > 0 {
		margin = profit / revenue * 100
	}

	report := map[string]any{
		"farmer_id":     farmerID,
		"period":        period,
		"generated_at":  t.now(),
		"total_revenue": revenue,
		"total_cost":    cost,
		"profit":        profit,
		"profit_margin": margin,
		"order_count":   count,
	}
	return t.cacheAndWrite(ctx, report, "profit_loss:"+farmerID+":"+period, profitCacheTTL,
		"profit_loss_report", farmerID, period, failMsg)
}

func (t *tasks) generateUserEngagementReport(ctx context.Context, a registry.Args) (registry.Outcome, error) {
	period := a.String("period")
	const failMsg = "Failed to generate user engagement report: %v"

	active, err := t.counter(ctx, "active_users:weekly")
	if err != nil {
		return failure(err, failMsg), nil
	}
	fresh, err := t.counter(ctx, "new_users:weekly")
	if err != nil {
		return failure(err, failMsg), nil
	}

	report := map[string]any{
		"period":          period,
		"generated_at":    t.now(),
		"active_users":    active,
		"new_users":       fresh,
		"engagement_rate": float64(active) / float64(max(fresh, 1)) * 100,
	}
	return t.cacheAndWrite(ctx, report, "user_engagement:"+period, engagementTTL,
		"user_engagement_report", period, "", failMsg)
}

// counter reads an integer key, treating a missing key as zero.
func (t *tasks) counter(ctx context.Context, key string) (int, error) {
	raw, err := t.Store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func (t *tasks) cacheAndWrite(ctx context.Context, report map[string]any, cacheKey string, ttl time.Duration,
	name, subject, rng, failMsg string) (registry.Outcome, error) {
	cached, err := json.Marshal(report)
	if err != nil {
		return registry.Outcome{}, err
	}
	if err := t.Store.SetEx(ctx, cacheKey, string(cached), ttl); err != nil {
		return failure(err, failMsg), nil
	}
	path, err := t.Reports.Write(name, subject, rng, report)
	if err != nil {
		return registry.Failed(domain.KindHandlerFailure, err.Error(), map[string]any{
			"success": false,
			"message": fmt.Sprintf(failMsg, err),
		}), nil
	}
	return registry.Success(map[string]any{"success": true, "report_path": path, "data": report}), nil
}

func (t *tasks) updateAnalyticsCache(ctx context.Context, _ registry.Args) (registry.Outcome, error) {
	const failMsg = "Failed to update analytics cache: %v"

	var stats map[string]any
	if err := t.API.Get(ctx, "/admin/stats", &stats); err != nil {
		return failure(err, failMsg), nil
	}
	raw, err := json.Marshal(stats)
	if err != nil {
		return registry.Outcome{}, err
	}
	if err := t.Store.SetEx(ctx, "platform_stats", string(raw), statsCacheTTL); err != nil {
		return failure(err, failMsg), nil
	}

	data := cast.ToStringMap(stats["data"])
	keys := make([]string, 0, len(data))
	for k, v := range data {
		if err := t.Store.SetEx(ctx, "stat:"+k, statValue(v), statsCacheTTL); err != nil {
			return failure(err, failMsg), nil
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	zerolog.Ctx(ctx).Debug().Strs("keys", keys).Msg("analytics cache refreshed")
	return registry.Success(map[string]any{"success": true, "cached_keys": keys}), nil
}

func statValue(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		b, _ := json.Marshal(v)
		return string(b)
	default:
		return cast.ToString(v)
	}
}
