package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeFlickr()
	c.normalizeDataset()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.DatasetsDir) == "" {
		c.Paths.DatasetsDir = defaultDatasetsDir
	}
	if c.Paths.DatasetsDir, err = expandPath(c.Paths.DatasetsDir); err != nil {
		return fmt.Errorf("paths.datasets_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ExperimentsDir) == "" {
		c.Paths.ExperimentsDir = defaultExperimentsDir
	}
	if c.Paths.ExperimentsDir, err = expandPath(c.Paths.ExperimentsDir); err != nil {
		return fmt.Errorf("paths.experiments_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		c.Paths.CacheDir = defaultCacheDir()
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeFlickr() {
	if c.Flickr.APIKey == "" {
		if value, ok := os.LookupEnv("FLICKR_API_KEY"); ok {
			c.Flickr.APIKey = strings.TrimSpace(value)
		}
	}
	c.Flickr.APIKey = strings.TrimSpace(c.Flickr.APIKey)
	c.Flickr.BaseURL = strings.TrimSpace(c.Flickr.BaseURL)
	if c.Flickr.BaseURL == "" {
		c.Flickr.BaseURL = defaultFlickrBaseURL
	}
	c.Flickr.UserAgent = strings.TrimSpace(c.Flickr.UserAgent)
	if c.Flickr.UserAgent == "" {
		c.Flickr.UserAgent = defaultFlickrUserAgent
	}
	if c.Flickr.RequestsPerMinute <= 0 {
		c.Flickr.RequestsPerMinute = defaultFlickrRequestsPerMin
	}
	if c.Flickr.RequestTimeout <= 0 {
		c.Flickr.RequestTimeout = defaultFlickrTimeoutSecs
	}
}

func (c *Config) normalizeDataset() {
	c.Dataset.Interpolation = strings.ToLower(strings.TrimSpace(c.Dataset.Interpolation))
	if c.Dataset.Interpolation == "" {
		c.Dataset.Interpolation = defaultInterpolation
	}
	if c.Dataset.ImageSize <= 0 {
		c.Dataset.ImageSize = defaultImageSize
	}
	if c.Dataset.DecodeWorkers < 0 {
		c.Dataset.DecodeWorkers = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
