package config

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	KeyThumbnailDir       = "thumbnail_dir"
	KeyEnableLRUCache     = "cache_enable_lru"
	KeyThumbnailLRUSize   = "cache_thumbnail_lru_size"
	KeyStationListBucket  = "station_list_s3_bucket"
	KeyS3Endpoint         = "s3_endpoint"
	KeyStationListTTLDays = "cache_station_list_ttl_days"
	KeyRenderBinary       = "render_binary"
	KeyCropBinary         = "crop_binary"
	KeyRenderZoom         = "render_zoom"
)

// CacheConfig holds all cache-related configuration
type CacheConfig struct {
	// Thumbnail cache settings
	ThumbnailDir     string
	EnableLRUCache   bool
	ThumbnailLRUSize int

	// S3 station list cache settings. An empty bucket disables the cache.
	StationListBucket  string
	S3Endpoint         string
	StationListTTLDays int

	// External render pipeline
	RenderBinary string
	CropBinary   string
	RenderZoom   int
}

const (
	// Default values
	defaultThumbnailDir       = "./thumbnails"
	defaultThumbnailLRUSize   = 512
	defaultStationListTTLDays = 2
	defaultRenderBinary       = "create-static-map"
	defaultCropBinary         = "convert"
	defaultRenderZoom         = 16
)

func NewCacheConfig() *CacheConfig {
	return &CacheConfig{
		ThumbnailDir:       defaultThumbnailDir,
		EnableLRUCache:     true,
		ThumbnailLRUSize:   defaultThumbnailLRUSize,
		StationListTTLDays: defaultStationListTTLDays,
		RenderBinary:       defaultRenderBinary,
		CropBinary:         defaultCropBinary,
		RenderZoom:         defaultRenderZoom,
	}
}

func setCacheDefaults(v *viper.Viper, c *CacheConfig) {
	v.SetDefault(KeyThumbnailDir, c.ThumbnailDir)
	v.SetDefault(KeyEnableLRUCache, c.EnableLRUCache)
	v.SetDefault(KeyThumbnailLRUSize, c.ThumbnailLRUSize)
	v.SetDefault(KeyStationListBucket, c.StationListBucket)
	v.SetDefault(KeyS3Endpoint, c.S3Endpoint)
	v.SetDefault(KeyStationListTTLDays, c.StationListTTLDays)
	v.SetDefault(KeyRenderBinary, c.RenderBinary)
	v.SetDefault(KeyCropBinary, c.CropBinary)
	v.SetDefault(KeyRenderZoom, c.RenderZoom)
}

func loadCacheConfig(v *viper.Viper) *CacheConfig {
	config := &CacheConfig{
		ThumbnailDir:       v.GetString(KeyThumbnailDir),
		EnableLRUCache:     v.GetBool(KeyEnableLRUCache),
		ThumbnailLRUSize:   v.GetInt(KeyThumbnailLRUSize),
		StationListBucket:  v.GetString(KeyStationListBucket),
		S3Endpoint:         v.GetString(KeyS3Endpoint),
		StationListTTLDays: v.GetInt(KeyStationListTTLDays),
		RenderBinary:       v.GetString(KeyRenderBinary),
		CropBinary:         v.GetString(KeyCropBinary),
		RenderZoom:         v.GetInt(KeyRenderZoom),
	}

	log.Debug().
		Str("ThumbnailDir", config.ThumbnailDir).
		Bool("EnableLRUCache", config.EnableLRUCache).
		Int("ThumbnailLRUSize", config.ThumbnailLRUSize).
		Str("StationListBucket", config.StationListBucket).
		Int("StationListTTLDays", config.StationListTTLDays).
		Str("RenderBinary", config.RenderBinary).
		Str("CropBinary", config.CropBinary).
		Int("RenderZoom", config.RenderZoom).
		Msg("Cache configuration loaded")

	return config
}

// Helper methods for the CacheConfig struct
func (c *CacheConfig) GetStationListTTL() time.Duration {
	return time.Duration(c.StationListTTLDays) * 24 * time.Hour
}

// GetThumbnailMemorySize is the LRU capacity, 0 when the tier is disabled.
func (c *CacheConfig) GetThumbnailMemorySize() int {
	if !c.EnableLRUCache || c.ThumbnailLRUSize < 0 {
		return 0
	}
	return c.ThumbnailLRUSize
}

func (c *CacheConfig) StationListCacheEnabled() bool {
	return c.StationListBucket != ""
}
