// Package inventory implements the stock tasks: alerts, reorders, cache
// refresh, reports and demand prediction.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"harvestflow/internal/domain"
	"harvestflow/internal/fanout"
	"harvestflow/internal/guard"
	"harvestflow/internal/registry"
	"harvestflow/internal/reports"
	"harvestflow/internal/store"
)

const (
	LowStockThreshold = 10
	highStockLevel    = 50

	stockCacheTTL      = 5 * time.Minute
	reorderGuardTTL    = 24 * time.Hour
	reportCacheTTL     = time.Hour
	predictionCacheTTL = 24 * time.Hour
	maxMovements       = 1000

	UpdatesChannel = "inventory_updates"
	reorderScope   = "reorder_triggered"
	reorderEvents  = "reorder_events"
)

type Deps struct {
	Store   store.Store
	Guard   *guard.Guard
	Fanout  *fanout.Notifier
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
		name string
		fn   registry.HandlerFunc
		opts []registry.Option
	}{
		{"low_stock_alert", t.lowStockAlert, []registry.Option{registry.WithParams(
			registry.Required("farmerId", registry.String),
			registry.Required("productId", registry.String),
			registry.Required("currentStock", registry.Int),
		)}},
		{"check_low_stock_periodic", t.checkLowStockPeriodic, nil},
		{"auto_reorder_stock", t.autoReorderStock, []registry.Option{registry.WithParams(
			registry.Required("product_id", registry.String),
			registry.Required("farmer_id", registry.String),
			registry.Required("current_stock", registry.Int),
			registry.Optional("min_stock", registry.Int, int64(LowStockThreshold)),
		)}},
		{"update_inventory_cache", t.updateInventoryCache, []registry.Option{registry.WithParams(
			registry.Required("product_id", registry.String),
			registry.Required("new_quantity", registry.Int),
		)}},
		{"generate_inventory_report", t.generateInventoryReport, []registry.Option{registry.WithParams(
			registry.Optional("farmer_id", registry.String, nil),
		)}},
		{"predict_demand", t.predictDemand, []registry.Option{registry.WithParams(
			registry.Required("product_id", registry.String),
			registry.Optional("days_ahead", registry.Int, int64(7)),
		)}},
	} {
		if err := reg.Register(r.name, r.fn, r.opts...); err != nil {
			return err
		}
	}
	return nil
}

func (t *tasks) lowStockAlert(ctx context.Context, a registry.Args) (registry.Outcome, error) {
	zerolog.Ctx(ctx).Warn().
		Str("farmer_id", a.String("farmerId")).
		Str("product_id", a.String("productId")).
		Int("current_stock", a.Int("currentStock")).
		Msg("low stock alert")
	return registry.Success(map[string]any{
		"success":      true,
		"farmerId":     a.String("farmerId"),
		"productId":    a.String("productId"),
		"currentStock": a.Int("currentStock"),
	}), nil
}

type productInfo struct {
	FarmerID string `json:"farmer_id"`
	Name     string `json:"name,omitempty"`
}

func (t *tasks) productInfo(ctx context.Context, productID string) (map[string]any, productInfo) {
	raw, err := t.Store.Get(ctx, "product_info:"+productID)
	if err != nil {
		return map[string]any{}, productInfo{}
	}
	var m map[string]any
	var p productInfo
	_ = json.Unmarshal([]byte(raw), &m)
	_ = json.Unmarshal([]byte(raw), &p)
	if m == nil {
		m = map[string]any{}
	}
	return m, p
}

type stockLevel struct {
	productID string
	level     int
}

func (t *tasks) stockLevels(ctx context.Context) ([]stockLevel, error) {
	keys, err := t.Store.Keys(ctx, "product_stock:*")
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	out := make([]stockLevel, 0, len(keys))
	for _, k := range keys {
		raw, err := t.Store.Get(ctx, k)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		n, _ := strconv.Atoi(raw)
		out = append(out, stockLevel{productID: strings.TrimPrefix(k, "product_stock:"), level: n})
	}
	return out, nil
}

func (t *tasks) checkLowStockPeriodic(ctx context.Context, _ registry.Args) (registry.Outcome, error) {
	levels, err := t.stockLevels(ctx)
	if err != nil {
		return registry.Upstream(err, map[string]any{"success": false, "message": "Failed to scan stock levels"}), nil
	}
	var alerts []domain.Envelope
	for _, s := range levels {
		if s.level >= LowStockThreshold {
			continue
		}
		_, info := t.productInfo(ctx, s.productID)
		if info.FarmerID == "" {
			continue
		}
		alerts = append(alerts, domain.NewEnvelope("low_stock_alert", nil, map[string]any{
			"farmerId":     info.FarmerID,
			"productId":    s.productID,
			"currentStock": s.level,
		}))
	}
	zerolog.Ctx(ctx).Info().Int("checked", len(levels)).Int("alerts", len(alerts)).Msg("periodic low stock check")
	return registry.Success(map[string]any{
		"success": true,
		"checked": len(levels),
		"alerts":  len(alerts),
	}).Then(alerts...), nil
}

func (t *tasks) autoReorderStock(ctx context.Context, a registry.Args) (registry.Outcome, error) {
	productID := a.String("product_id")
	minStock := a.Int("min_stock")

	ok, err := t.Guard.TryAcquire(ctx, reorderScope, productID, reorderGuardTTL)
	if err != nil {
		return registry.Upstream(err, map[string]any{"success": false, "message": "Failed to check reorder flag"}), nil
	}
	if !ok {
		return registry.Skipped(map[string]any{"success": false, "message": "Reorder already triggered recently"}), nil
	}

	event, _ := json.Marshal(map[string]any{
		"product_id":    productID,
		"farmer_id":     a.String("farmer_id"),
		"current_stock": a.Int("current_stock"),
		"min_stock":     minStock,
		"timestamp":     t.Now().UTC().Format(time.RFC3339Nano),
	})
	if _, err := t.Store.LPush(ctx, reorderEvents, string(event)); err != nil {
		return registry.Upstream(err, map[string]any{"success": false, "message": "Failed to record reorder event"}), nil
	}

	zerolog.Ctx(ctx).Info().
		Str("product_id", productID).
		Int("current_stock", a.Int("current_stock")).
		Int("min_stock", minStock).
		Msg("auto reorder triggered")
	return registry.Success(map[string]any{
		"success":            true,
		"product_id":         productID,
		"farmer_id":          a.String("farmer_id"),
		"reordered_quantity": minStock * 2,
	}), nil
}

func (t *tasks) updateInventoryCache(ctx context.Context, a registry.Args) (registry.Outcome, error) {
	productID := a.String("product_id")
	qty := a.Int("new_quantity")
	now := t.Now().UTC()

	if err := t.Store.SetEx(ctx, "product_stock:"+productID, strconv.Itoa(qty), stockCacheTTL); err != nil {
		return registry.Upstream(err, nil), nil
	}

	t.Fanout.Publish(ctx, UpdatesChannel, map[string]any{
		"product_id":   productID,
		"new_quantity": qty,
		"timestamp":    now.Format(time.RFC3339Nano),
	})

	movementKey := "inventory_movement:" + productID
	score := float64(now.UnixNano()) / 1e9
	record, _ := json.Marshal(map[string]any{"product_id": productID, "quantity": qty, "timestamp": score})
	if err := t.Store.ZAdd(ctx, movementKey, score, string(record)); err != nil {
		return registry.Upstream(err, nil), nil
	}
	if _, err := t.Store.ZRemRangeByRank(ctx, movementKey, 0, -(maxMovements + 1)); err != nil {
		return registry.Upstream(err, nil), nil
	}

	return registry.Success(map[string]any{
		"success":      true,
		"product_id":   productID,
		"new_quantity": qty,
	}), nil
}

func stockStatus(level int) string {
	switch {
	case level < LowStockThreshold:
		return "Low Stock"
	case level < highStockLevel:
		return "Adequate"
	default:
		return "High Stock"
	}
}

func (t *tasks) generateInventoryReport(ctx context.Context, a registry.Args) (registry.Outcome, error) {
	farmerID := a.String("farmer_id")
	failed := func(err error) (registry.Outcome, error) {
		return registry.Upstream(err, map[string]any{
			"success": false,
			"message": fmt.Sprintf("Failed to generate inventory report: %v", err),
		}), nil
	}

	levels, err := t.stockLevels(ctx)
	if err != nil {
		return failed(err)
	}

	type item struct {
		ProductID   string         `json:"product_id"`
		StockLevel  int            `json:"stock_level"`
		ProductInfo map[string]any `json:"product_info"`
		Status      string         `json:"status"`
	}
	details := make([]item, 0, len(levels))
	counts := map[string]int{}
	for _, s := range levels {
		raw, info := t.productInfo(ctx, s.productID)
		if farmerID != "" && info.FarmerID != farmerID {
			continue
		}
		st := stockStatus(s.level)
		counts[st]++
		details = append(details, item{ProductID: s.productID, StockLevel: s.level, ProductInfo: raw, Status: st})
	}

	var farmer any
	subject := "all"
	if farmerID != "" {
		farmer = farmerID
		subject = farmerID
	}
	report := map[string]any{
		"generated_at":         t.Now().UTC().Format(time.RFC3339Nano),
		"farmer_id":            farmer,
		"total_products":       len(details),
		"low_stock_items":      counts["Low Stock"],
		"adequate_stock_items": counts["Adequate"],
		"high_stock_items":     counts["High Stock"],
		"inventory_details":    details,
	}

	path, err := t.Reports.Write("inventory_report", subject, "", report)
	if err != nil {
		return registry.Failed(domain.KindHandlerFailure, err.Error(), map[string]any{
			"success": false,
			"message": fmt.Sprintf("Failed to generate inventory report: %v", err),
		}), nil
	}
	cached, _ := json.Marshal(report)
	if err := t.Store.SetEx(ctx, "inventory_report:"+subject, string(cached), reportCacheTTL); err != nil {
		return failed(err)
	}

	return registry.Success(map[string]any{
		"success":     true,
		"report_path": path,
		"summary": map[string]any{
			"total_products":  len(details),
			"low_stock_items": counts["Low Stock"],
		},
	}), nil
}

type sale struct {
	Date     string  `json:"date"`
	Quantity float64 `json:"quantity"`
}

func (t *tasks) predictDemand(ctx context.Context, a registry.Args) (registry.Outcome, error) {
	productID := a.String("product_id")
	daysAhead := a.Int("days_ahead")

	history, err := t.Store.LRange(ctx, "sales_history:"+productID, 0, -1)
	if err != nil {
		return registry.Upstream(err, map[string]any{"success": false, "message": fmt.Sprintf("Failed to predict demand: %v", err)}), nil
	}
	if len(history) == 0 {
		return registry.Success(map[string]any{"success": false, "message": "No historical sales data available"}), nil
	}

	var dates []string
	daily := map[string]float64{}
	for _, raw := range history {
		var s sale
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return registry.Failed(domain.KindHandlerFailure, err.Error(), map[string]any{
				"success": false,
				"message": fmt.Sprintf("Failed to predict demand: %v", err),
			}), nil
		}
		if _, seen := daily[s.Date]; !seen {
			dates = append(dates, s.Date)
		}
		daily[s.Date] += s.Quantity
	}

	recent := dates
	if len(recent) > 7 {
		recent = recent[len(recent)-7:]
	}
	var sum float64
	for _, d := range recent {
		sum += daily[d]
	}
	avg := sum / float64(len(recent))

	prediction := map[string]any{
		"product_id":       productID,
		"days_ahead":       daysAhead,
		"predicted_demand": avg * float64(daysAhead),
		"avg_daily_sales":  avg,
		"historical_days":  len(dates),
		"generated_at":     t.Now().UTC().Format(time.RFC3339Nano),
	}
	cached, _ := json.Marshal(prediction)
	key := fmt.Sprintf("demand_prediction:%s:%d", productID, daysAhead)
	if err := t.Store.SetEx(ctx, key, string(cached), predictionCacheTTL); err != nil {
		return registry.Upstream(err, nil), nil
	}
	return registry.Success(map[string]any{"success": true, "prediction": prediction}), nil
}
