package models

import "time"

// Config represents the main configuration
type Config struct {
	HTTP      HTTPConfig     `mapstructure:"http"`
	Storage   StorageConfig  `mapstructure:"storage"`
	Metrics   MetricsConfig  `mapstructure:"metrics"`
	Filtering FilterConfig   `mapstructure:"filtering"`
	Lists     []FilterList   `mapstructure:"lists"`
}

// HTTPConfig contains HTTP client settings
type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries"`
}

// StorageConfig contains persistent store settings
type StorageConfig struct {
	Path          string `mapstructure:"path"`
	MaxValueBytes int    `mapstructure:"max_value_bytes"`
}

// MetricsConfig contains the prometheus exporter settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// FilterConfig contains filtering behavior settings
type FilterConfig struct {
	Level           FilteringLevel `mapstructure:"level"`
	RefreshInterval time.Duration  `mapstructure:"refresh_interval"`
}

// FilterList represents a single filter list configuration
type FilterList struct {
	Name    string `mapstructure:"name"`
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// EnabledLists returns only enabled filter lists
func (c *Config) EnabledLists() []FilterList {
	var enabled []FilterList
	for _, l := range c.Lists {
		if l.Enabled {
			enabled = append(enabled, l)
		}
	}
	return enabled
}
