// Package images implements the product image tasks on top of a Processor.
package images

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"harvestflow/internal/domain"
	"harvestflow/internal/registry"
	"harvestflow/internal/store"
)

const (
	processingTTL = time.Hour
	thumbnailTTL  = 2 * time.Hour
	watermarkTTL  = time.Hour
	qualityTTL    = 24 * time.Hour

	mbPerImage = 0.5
)

type Deps struct {
	Store     store.Store
	Processor Processor
	Now       func() time.Time
}

type tasks struct {
	Deps
}

func Register(reg *registry.Registry, d Deps) error {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Processor == nil {
		d.Processor = Simulated{Unit: time.Second}
	}
	t := &tasks{Deps: d}
	pathAndProduct := []registry.Param{
		registry.Required("image_path", registry.String),
		registry.Required("product_id", registry.String),
	}
	for _, r := range []struct {
		name   string
		fn     registry.HandlerFunc
		params []registry.Param
	}{
		{"optimize_product_image", t.optimize, pathAndProduct},
		{"generate_image_thumbnails", t.thumbnails, pathAndProduct},
		{"watermark_product_images", t.watermark, []registry.Param{
			registry.Required("image_paths", registry.List),
			registry.Required("farmer_name", registry.String),
		}},
		{"cleanup_old_images", t.cleanup, []registry.Param{
			registry.Optional("retention_days", registry.Int, int64(30)),
		}},
		{"analyze_image_quality", t.quality, pathAndProduct},
	} {
		if err := reg.Register(r.name, r.fn, registry.WithParams(r.params...)); err != nil {
			return err
		}
	}
	return nil
}

func (t *tasks) now() string { return t.Now().UTC().Format(time.RFC3339Nano) }

// processorFailure maps a processor error; cancellation is left for the pool
// to classify.
func processorFailure(err error) (registry.Outcome, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return registry.Outcome{}, err
	}
	return registry.Failed(domain.KindHandlerFailure, err.Error(), map[string]any{"success": false, "message": err.Error()}), nil
}

func (t *tasks) cache(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.Store.SetEx(ctx, key, string(b), ttl)
}

func (t *tasks) history(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = t.Store.LPush(ctx, key, string(b))
	return err
}

func (t *tasks) optimize(ctx context.Context, a registry.Args) (registry.Outcome, error) {
	path, productID := a.String("image_path"), a.String("product_id")
	zerolog.Ctx(ctx).Info().Str("product_id", productID).Str("image_path", path).Msg("optimizing image")

	optimized, reduction, err := t.Processor.Optimize(ctx, path)
	if err != nil {
		return processorFailure(err)
	}
	result := map[string]any{
		"product_id":          productID,
		"original_path":       path,
		"optimized_path":      optimized,
		"processed_at":        t.now(),
		"file_size_reduction": reduction,
	}
	if err := t.cache(ctx, "image_processing:"+productID, result, processingTTL); err != nil {
		return registry.Upstream(err, nil), nil
	}
	if err := t.history(ctx, "image_processing_history", result); err != nil {
		return registry.Upstream(err, nil), nil
	}
	return registry.Success(map[string]any{"success": true, "result": result}), nil
}

func (t *tasks) thumbnails(ctx context.Context, a registry.Args) (registry.Outcome, error) {
	path, productID := a.String("image_path"), a.String("product_id")

	thumbs, err := t.Processor.Thumbnails(ctx, path)
	if err != nil {
		return processorFailure(err)
	}
	result := map[string]any{
		"product_id":    productID,
		"original_path": path,
		"thumbnails":    thumbs,
		"generated_at":  t.now(),
	}
	if err := t.cache(ctx, "image_thumbnails:"+productID, result, thumbnailTTL); err != nil {
		return registry.Upstream(err, nil), nil
	}
	return registry.Success(map[string]any{"success": true, "result": result}), nil
}

func (t *tasks) watermark(ctx context.Context, a registry.Args) (registry.Outcome, error) {
	paths := a.StringSlice("image_paths")
	owner := a.String("farmer_name")
	zerolog.Ctx(ctx).Info().Str("farmer_name", owner).Int("images", len(paths)).Msg("watermarking images")

	marked := make([]string, 0, len(paths))
	for _, p := range paths {
		out, err := t.Processor.Watermark(ctx, p, owner)
		if err != nil {
			return processorFailure(err)
		}
		marked = append(marked, out)
		if err := t.Store.SetEx(ctx, "watermarked_image:"+filepath.Base(p), out, watermarkTTL); err != nil {
			return registry.Upstream(err, nil), nil
		}
	}
	result := map[string]any{
		"farmer_name":        owner,
		"original_images":    paths,
		"watermarked_images": marked,
		"processed_at":       t.now(),
	}
	if err := t.history(ctx, "watermarking_history", result); err != nil {
		return registry.Upstream(err, nil), nil
	}
	return registry.Success(map[string]any{"success": true, "result": result}), nil
}

func (t *tasks) cleanup(ctx context.Context, a registry.Args) (registry.Outcome, error) {
	retention := a.Int("retention_days")

	processed := 0
	raw, err := t.Store.Get(ctx, "images_processed_today")
	switch {
	case err == nil:
		processed, _ = strconv.Atoi(raw)
	case !errors.Is(err, store.ErrNotFound):
		return registry.Upstream(err, nil), nil
	}

	cleaned, err := t.Processor.Cleanup(ctx, retention, processed)
	if err != nil {
		return processorFailure(err)
	}
	result := map[string]any{
		"retention_days":   retention,
		"images_processed": processed,
		"images_cleaned":   cleaned,
		"space_freed_mb":   float64(cleaned) * mbPerImage,
		"cleaned_at":       t.now(),
	}
	if err := t.history(ctx, "cleanup_history", result); err != nil {
		return registry.Upstream(err, nil), nil
	}
	zerolog.Ctx(ctx).Info().Int("retention_days", retention).Int("cleaned", cleaned).Msg("image cleanup finished")
	return registry.Success(map[string]any{"success": true, "result": result}), nil
}

func suggestions(score int) []string {
	switch {
	case score < 70:
		return []string{
			"Image appears blurry - consider retaking with better focus",
			"Lighting could be improved - try natural lighting",
			"Image dimensions are small - use higher resolution photos",
		}
	case score < 90:
		return []string{"Consider adjusting brightness/contrast for better appeal"}
	default:
		return []string{}
	}
}

func (t *tasks) quality(ctx context.Context, a registry.Args) (registry.Outcome, error) {
	path, productID := a.String("image_path"), a.String("product_id")

	score, err := t.Processor.Quality(ctx, path)
	if err != nil {
		return processorFailure(err)
	}
	result := map[string]any{
		"product_id":    productID,
		"image_path":    path,
		"quality_score": score,
		"suggestions":   suggestions(score),
		"analyzed_at":   t.now(),
	}
	if err := t.cache(ctx, "image_quality:"+productID, result, qualityTTL); err != nil {
		return registry.Upstream(err, nil), nil
	}
	if err := t.history(ctx, "image_quality_reports", result); err != nil {
		return registry.Upstream(err, nil), nil
	}
	return registry.Success(map[string]any{"success": true, "result": result}), nil
}
