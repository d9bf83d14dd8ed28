package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bixbrother/backend-go/internal/metrics"
)

// countingRenderer writes a fake PNG and counts invocations.
type countingRenderer struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (r *countingRenderer) Render(ctx context.Context, lat, lon float64, dest string) error {
	r.calls.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.err != nil {
		return r.err
	}
	return os.WriteFile(dest, []byte("png:"+Key(lat, lon)), 0o644)
}

func TestKey(t *testing.T) {
	tests := []struct {
		lat, lon float64
		want     string
	}{
		{45.5017, -73.5673, "45.5017,-73.5673"},
		{45, -73, "45,-73"},
		{0.1, 0.2, "0.1,0.2"},
		{45.50170000001, -73.5673, "45.50170000001,-73.5673"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(tt.lat, tt.lon))
		})
	}
}

func TestNewThumbnailCache_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "thumbnails")

	_, err := NewThumbnailCache(dir, &countingRenderer{})
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestThumbnail_SequentialRequestsRenderOnce(t *testing.T) {
	dir := t.TempDir()
	renderer := &countingRenderer{}
	cache, err := NewThumbnailCache(dir, renderer)
	require.NoError(t, err)

	first, err := cache.Thumbnail(context.Background(), 45.5, -73.6)
	require.NoError(t, err)
	second, err := cache.Thumbnail(context.Background(), 45.5, -73.6)
	require.NoError(t, err)

	assert.Equal(t, int32(1), renderer.calls.Load())
	assert.Equal(t, []byte("png:45.5,-73.6"), first)
	assert.Equal(t, first, second)

	onDisk, err := os.ReadFile(filepath.Join(dir, "45.5,-73.6.png"))
	require.NoError(t, err)
	assert.Equal(t, first, onDisk)
}

func TestThumbnail_ConcurrentRequestsRenderOnce(t *testing.T) {
	renderer := &countingRenderer{delay: 50 * time.Millisecond}
	cache, err := NewThumbnailCache(t.TempDir(), renderer)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([][]byte, 16)
	errs := make([]error, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.Thumbnail(context.Background(), 45.5, -73.6)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), renderer.calls.Load())
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("png:45.5,-73.6"), results[i])
	}
}

func thumbnailLookups(t *testing.T, reg *prometheus.Registry, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "bix_thumbnail_requests_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "result" && label.GetValue() == result {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestThumbnail_ConcurrentMissCountsOneRender(t *testing.T) {
	reg := prometheus.NewRegistry()
	renderer := &countingRenderer{delay: 50 * time.Millisecond}
	cache, err := NewThumbnailCache(t.TempDir(), renderer, WithThumbnailMetrics(metrics.New(reg)))
	require.NoError(t, err)

	const requests = 8
	var wg sync.WaitGroup
	for range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Thumbnail(context.Background(), 45.5, -73.6)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), renderer.calls.Load())
	assert.Equal(t, float64(1), thumbnailLookups(t, reg, metrics.ThumbnailRendered))
	assert.Equal(t, float64(requests-1), thumbnailLookups(t, reg, metrics.ThumbnailDisk))
}

func TestThumbnail_DistinctKeysRenderSeparately(t *testing.T) {
	renderer := &countingRenderer{}
	cache, err := NewThumbnailCache(t.TempDir(), renderer)
	require.NoError(t, err)

	_, err = cache.Thumbnail(context.Background(), 45.5, -73.6)
	require.NoError(t, err)
	_, err = cache.Thumbnail(context.Background(), 45.6, -73.6)
	require.NoError(t, err)

	assert.Equal(t, int32(2), renderer.calls.Load())
}

func TestThumbnail_ExistingFileIsServedWithoutRendering(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.5,2.5.png"), []byte("prerendered"), 0o644))

	renderer := &countingRenderer{}
	cache, err := NewThumbnailCache(dir, renderer)
	require.NoError(t, err)

	data, err := cache.Thumbnail(context.Background(), 1.5, 2.5)
	require.NoError(t, err)
	assert.Equal(t, []byte("prerendered"), data)
	assert.Zero(t, renderer.calls.Load())
}

func TestThumbnail_RenderFailureIsNotCached(t *testing.T) {
	dir := t.TempDir()
	renderer := &countingRenderer{err: &RenderError{Stage: "crop", Stderr: "bad image", Err: errors.New("exit status 1")}}
	cache, err := NewThumbnailCache(dir, renderer)
	require.NoError(t, err)

	_, err = cache.Thumbnail(context.Background(), 45.5, -73.6)
	require.Error(t, err)
	var renderErr *RenderError
	require.True(t, errors.As(err, &renderErr))
	assert.Equal(t, "crop", renderErr.Stage)
	assert.Contains(t, err.Error(), "bad image")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed render must not leave files behind")

	// A later request tries again and can succeed.
	renderer.err = nil
	data, err := cache.Thumbnail(context.Background(), 45.5, -73.6)
	require.NoError(t, err)
	assert.Equal(t, []byte("png:45.5,-73.6"), data)
	assert.Equal(t, int32(2), renderer.calls.Load())
}

func TestThumbnail_FilesystemErrorIsReturned(t *testing.T) {
	dir := t.TempDir()
	// A directory where the file should be makes ReadFile fail with
	// something other than "not exist".
	require.NoError(t, os.Mkdir(filepath.Join(dir, "1,2.png"), 0o755))

	renderer := &countingRenderer{}
	cache, err := NewThumbnailCache(dir, renderer)
	require.NoError(t, err)

	_, err = cache.Thumbnail(context.Background(), 1, 2)
	require.Error(t, err)
	assert.Zero(t, renderer.calls.Load())
}

func TestThumbnail_CanceledRequestStillStoresRender(t *testing.T) {
	renderer := &countingRenderer{}
	cache, err := NewThumbnailCache(t.TempDir(), renderer)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var seen context.Context
	cache.renderer = rendererFunc(func(ctx context.Context, lat, lon float64, dest string) error {
		seen = ctx
		return renderer.Render(ctx, lat, lon, dest)
	})

	_, err = cache.Thumbnail(ctx, 3, 4)
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.NoError(t, seen.Err())
}

func TestThumbnail_MemoryTier(t *testing.T) {
	dir := t.TempDir()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	renderer := &countingRenderer{}
	cache, err := NewThumbnailCache(dir, renderer, WithMemoryTier(8), WithThumbnailMetrics(m))
	require.NoError(t, err)

	_, err = cache.Thumbnail(context.Background(), 45.5, -73.6)
	require.NoError(t, err)

	// Served from memory even once the file is gone.
	require.NoError(t, os.Remove(filepath.Join(dir, "45.5,-73.6.png")))
	data, err := cache.Thumbnail(context.Background(), 45.5, -73.6)
	require.NoError(t, err)
	assert.Equal(t, []byte("png:45.5,-73.6"), data)
	assert.Equal(t, int32(1), renderer.calls.Load())

	count, err := testutil.GatherAndCount(reg, "bix_thumbnail_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

type rendererFunc func(ctx context.Context, lat, lon float64, dest string) error

func (f rendererFunc) Render(ctx context.Context, lat, lon float64, dest string) error {
	return f(ctx, lat, lon, dest)
}
