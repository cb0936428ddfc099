package images_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvestflow/internal/domain"
	"harvestflow/internal/handlers/images"
	"harvestflow/internal/registry"
	"harvestflow/internal/store"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type fixture struct {
	mr  *miniredis.Miniredis
	reg *registry.Registry
}

func setup(t *testing.T, p images.Processor) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	s := store.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })

	reg := registry.New()
	require.NoError(t, images.Register(reg, images.Deps{
		Store:     s,
		Processor: p,
		Now:       func() time.Time { return fixedNow },
	}))
	return &fixture{mr: mr, reg: reg}
}

func (f *fixture) run(t *testing.T, name string, args []any, kwargs map[string]any) (registry.Outcome, map[string]any) {
	t.Helper()
	e, err := f.reg.Resolve(name)
	require.NoError(t, err)
	a, err := registry.Bind(e.Params, args, kwargs)
	require.NoError(t, err)
	out, err := e.Handler.Handle(context.Background(), a)
	require.NoError(t, err)

	raw, err := json.Marshal(out.Value)
	require.NoError(t, err)
	var v map[string]any
	require.NoError(t, json.Unmarshal(raw, &v))
	return out, v
}

func result(t *testing.T, v map[string]any) map[string]any {
	t.Helper()
	assert.Equal(t, true, v["success"])
	r, ok := v["result"].(map[string]any)
	require.True(t, ok, "result missing: %v", v)
	return r
}

func TestOptimizeProductImage(t *testing.T) {
	t.Parallel()
	f := setup(t, images.Simulated{})

	out, v := f.run(t, "optimize_product_image", []any{"uploads/apple.jpg", "P1"}, nil)
	require.Equal(t, domain.StatusSuccess, out.Status)
	r := result(t, v)
	assert.Equal(t, "uploads/apple_optimized.jpg", r["optimized_path"])
	assert.Equal(t, "35%", r["file_size_reduction"])
	assert.Equal(t, "2026-03-14T09:30:00Z", r["processed_at"])

	assert.True(t, f.mr.Exists("image_processing:P1"))
	assert.Equal(t, time.Hour, f.mr.TTL("image_processing:P1"))
	hist, err := f.mr.List("image_processing_history")
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestGenerateImageThumbnails(t *testing.T) {
	t.Parallel()
	f := setup(t, images.Simulated{})

	_, v := f.run(t, "generate_image_thumbnails", nil, map[string]any{"image_path": "a/pear.png", "product_id": "P2"})
	r := result(t, v)
	assert.Equal(t, map[string]any{
		"small":  "a/pear_thumb_small.png",
		"medium": "a/pear_thumb_medium.png",
		"large":  "a/pear_thumb_large.png",
	}, r["thumbnails"])
	assert.Equal(t, 2*time.Hour, f.mr.TTL("image_thumbnails:P2"))
}

func TestWatermarkProductImages(t *testing.T) {
	t.Parallel()
	f := setup(t, images.Simulated{})

	_, v := f.run(t, "watermark_product_images", []any{[]any{"x/one.jpg", "x/two.jpg"}, "Green Acres Farm"}, nil)
	r := result(t, v)
	assert.Equal(t, []any{
		"x/one_watermarked_Green_Acres_Farm.jpg",
		"x/two_watermarked_Green_Acres_Farm.jpg",
	}, r["watermarked_images"])

	got, err := f.mr.Get("watermarked_image:one.jpg")
	require.NoError(t, err)
	assert.Equal(t, "x/one_watermarked_Green_Acres_Farm.jpg", got)
	assert.Equal(t, time.Hour, f.mr.TTL("watermarked_image:two.jpg"))

	hist, err := f.mr.List("watermarking_history")
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestCleanupOldImages(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		processed string
		cleaned   float64
		freed     float64
	}{
		{"no counter", "", 0, 0},
		{"below batch", "40", 40, 20},
		{"capped", "250", 100, 50},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := setup(t, images.Simulated{})
			if tt.processed != "" {
				require.NoError(t, f.mr.Set("images_processed_today", tt.processed))
			}
			_, v := f.run(t, "cleanup_old_images", nil, nil)
			r := result(t, v)
			assert.Equal(t, float64(30), r["retention_days"])
			assert.Equal(t, tt.cleaned, r["images_cleaned"])
			assert.Equal(t, tt.freed, r["space_freed_mb"])

			hist, err := f.mr.List("cleanup_history")
			require.NoError(t, err)
			assert.Len(t, hist, 1)
		})
	}
}

type scoredProcessor struct {
	images.Simulated
	score int
}

func (p scoredProcessor) Quality(context.Context, string) (int, error) { return p.score, nil }

func TestAnalyzeImageQuality(t *testing.T) {
	t.Parallel()
	tests := []struct {
		score       int
		suggestions int
	}{
		{95, 0},
		{85, 1},
		{60, 3},
	}
	for _, tt := range tests {
		f := setup(t, scoredProcessor{score: tt.score})
		_, v := f.run(t, "analyze_image_quality", []any{"p.jpg", "P3"}, nil)
		r := result(t, v)
		assert.Equal(t, float64(tt.score), r["quality_score"])
		assert.Len(t, r["suggestions"], tt.suggestions, "score %d", tt.score)
		assert.Equal(t, 24*time.Hour, f.mr.TTL("image_quality:P3"))
	}

	f := setup(t, images.Simulated{})
	_, v := f.run(t, "analyze_image_quality", []any{"p.jpg", "P3"}, nil)
	assert.Equal(t, []any{"Consider adjusting brightness/contrast for better appeal"}, result(t, v)["suggestions"])
}

type brokenProcessor struct{ images.Simulated }

func (brokenProcessor) Optimize(context.Context, string) (string, string, error) {
	return "", "", errors.New("decoder: unsupported format")
}

func TestOptimizeProductImage_ProcessorError(t *testing.T) {
	t.Parallel()
	f := setup(t, brokenProcessor{})

	out, v := f.run(t, "optimize_product_image", []any{"bad.tiff", "P4"}, nil)
	assert.Equal(t, domain.StatusFailure, out.Status)
	require.NotNil(t, out.Err)
	assert.Equal(t, domain.KindHandlerFailure, out.Err.Kind)
	assert.Equal(t, false, v["success"])
	assert.False(t, f.mr.Exists("image_processing:P4"))
}

func TestSimulated_HonoursContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := images.Simulated{Unit: time.Hour}.Optimize(ctx, "a.jpg")
	assert.ErrorIs(t, err, context.Canceled)
}
