package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/bixbrother/backend-go/internal/metrics"
)

// Renderer writes a PNG thumbnail centered on the coordinate to dest.
type Renderer interface {
	Render(ctx context.Context, lat, lon float64, dest string) error
}

// ThumbnailCache serves map thumbnails from an optional in-memory LRU tier,
// then from disk, rendering a missing file at most once per key no matter
// how many requests ask for it concurrently.
type ThumbnailCache struct {
	dir      string
	renderer Renderer
	memory   *lru.Cache[string, []byte]
	flights  singleflight.Group
	metrics  *metrics.Metrics
}

type ThumbnailOption func(*thumbnailOptions)

type thumbnailOptions struct {
	lruSize int
	metrics *metrics.Metrics
}

// WithMemoryTier keeps up to size thumbnails in memory. Zero disables the tier.
func WithMemoryTier(size int) ThumbnailOption {
	return func(o *thumbnailOptions) {
		o.lruSize = size
	}
}

func WithThumbnailMetrics(m *metrics.Metrics) ThumbnailOption {
	return func(o *thumbnailOptions) {
		o.metrics = m
	}
}

func NewThumbnailCache(dir string, renderer Renderer, opts ...ThumbnailOption) (*ThumbnailCache, error) {
	var o thumbnailOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating thumbnail directory: %w", err)
	}

	c := &ThumbnailCache{
		dir:      dir,
		renderer: renderer,
		metrics:  o.metrics,
	}

	if o.lruSize > 0 {
		memory, err := lru.New[string, []byte](o.lruSize)
		if err != nil {
			return nil, fmt.Errorf("creating LRU cache: %w", err)
		}
		c.memory = memory
	}

	return c, nil
}

// Key is the literal text of the coordinate pair. Values are not rounded,
// so only coordinates that format identically share a thumbnail.
func Key(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64)
}

// Path is where the thumbnail for key lives on disk.
func (c *ThumbnailCache) Path(key string) string {
	return filepath.Join(c.dir, key+".png")
}

// Thumbnail returns the PNG bytes for the coordinate, rendering them on the
// first request. Errors only concern the calling request; nothing is cached
// for a failed render.
func (c *ThumbnailCache) Thumbnail(ctx context.Context, lat, lon float64) ([]byte, error) {
	key := Key(lat, lon)

	if c.memory != nil {
		if data, ok := c.memory.Get(key); ok {
			c.metrics.RecordThumbnail(metrics.ThumbnailMemory)
			return data, nil
		}
	}

	data, err := os.ReadFile(c.Path(key))
	switch {
	case err == nil:
		c.remember(key, data)
		c.metrics.RecordThumbnail(metrics.ThumbnailDisk)
		return data, nil
	case !errors.Is(err, fs.ErrNotExist):
		c.metrics.RecordThumbnail(metrics.ThumbnailError)
		return nil, fmt.Errorf("reading thumbnail %s: %w", key, err)
	}

	// A render outlives the request that started it; other callers may be
	// waiting on the same flight.
	renderCtx := context.WithoutCancel(ctx)
	ran := false
	v, err, _ := c.flights.Do(key, func() (any, error) {
		ran = true
		return c.getOrRender(renderCtx, key, lat, lon)
	})
	if err != nil {
		c.metrics.RecordThumbnail(metrics.ThumbnailError)
		return nil, err
	}

	// The flight records its own outcome; callers that joined it were served
	// a file that is now on disk.
	if !ran {
		c.metrics.RecordThumbnail(metrics.ThumbnailDisk)
	}

	data = v.([]byte)
	c.remember(key, data)
	return data, nil
}

func (c *ThumbnailCache) getOrRender(ctx context.Context, key string, lat, lon float64) ([]byte, error) {
	path := c.Path(key)

	// Another flight may have finished between our miss and this one starting.
	data, err := os.ReadFile(path)
	if err == nil {
		c.metrics.RecordThumbnail(metrics.ThumbnailDisk)
		return data, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading thumbnail %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(c.dir, key+"-*.png")
	if err != nil {
		return nil, fmt.Errorf("creating temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("closing temp file for %s: %w", key, err)
	}

	start := time.Now()
	err = c.renderer.Render(ctx, lat, lon, tmpName)
	c.metrics.ObserveRender(time.Since(start))
	if err != nil {
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("rendering thumbnail %s: %w", key, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("storing thumbnail %s: %w", key, err)
	}

	data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rendered thumbnail %s: %w", key, err)
	}
	c.metrics.RecordThumbnail(metrics.ThumbnailRendered)

	log.Debug().
		Str("key", key).
		Dur("duration", time.Since(start)).
		Int("bytes", len(data)).
		Msg("Rendered thumbnail")

	return data, nil
}

func (c *ThumbnailCache) remember(key string, data []byte) {
	if c.memory != nil {
		c.memory.Add(key, data)
	}
}
