package images

import (
	"context"
	"path/filepath"
	"strings"
	"time"
)

// Processor does the actual image work. Simulated stands in until a real
// implementation is wired.
type Processor interface {
	Optimize(ctx context.Context, path string) (optimized string, reduction string, err error)
	Thumbnails(ctx context.Context, path string) (map[string]string, error)
	Watermark(ctx context.Context, path, owner string) (string, error)
	Cleanup(ctx context.Context, retentionDays, candidates int) (cleaned int, err error)
	Quality(ctx context.Context, path string) (score int, err error)
}

// Simulated derives output paths from the input and sleeps a multiple of
// Unit per operation.
type Simulated struct {
	Unit time.Duration
}

const maxCleanupBatch = 100

func (s Simulated) wait(ctx context.Context, units float64) error {
	d := time.Duration(float64(s.Unit) * units)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s Simulated) Optimize(ctx context.Context, path string) (string, string, error) {
	if err := s.wait(ctx, 2); err != nil {
		return "", "", err
	}
	return withSuffix(path, "_optimized"), "35%", nil
}

func (s Simulated) Thumbnails(ctx context.Context, path string) (map[string]string, error) {
	if err := s.wait(ctx, 1); err != nil {
		return nil, err
	}
	return map[string]string{
		"small":  withSuffix(path, "_thumb_small"),
		"medium": withSuffix(path, "_thumb_medium"),
		"large":  withSuffix(path, "_thumb_large"),
	}, nil
}

func (s Simulated) Watermark(ctx context.Context, path, owner string) (string, error) {
	if err := s.wait(ctx, 0.5); err != nil {
		return "", err
	}
	return withSuffix(path, "_watermarked_"+strings.ReplaceAll(owner, " ", "_")), nil
}

func (s Simulated) Cleanup(ctx context.Context, _ int, candidates int) (int, error) {
	if err := s.wait(ctx, 3); err != nil {
		return 0, err
	}
	return min(candidates, maxCleanupBatch), nil
}

func (s Simulated) Quality(ctx context.Context, _ string) (int, error) {
	if err := s.wait(ctx, 1); err != nil {
		return 0, err
	}
	return 85, nil
}

func withSuffix(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + suffix + ext
}
