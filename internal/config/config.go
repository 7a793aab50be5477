package config

import (
	"fmt"
	"sort"
	"time"

	"coinafrique-scraper/internal/storage"
)

type Config struct {
	Categories    map[string]string   `yaml:"categories"`
	HTTP          HttpConfig          `yaml:"http"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Pagination    PaginationConfig    `yaml:"pagination"`
	SelectorsFile string              `yaml:"selectors_file"`
	Normalize     NormalizeConfig     `yaml:"normalize"`
	Storage       StorageConfig       `yaml:"storage"`
	Export        ExportConfig        `yaml:"export"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type HttpConfig struct {
	UserAgent                 string `yaml:"user_agent"`
	TotalTimeoutMS            int    `yaml:"total_timeout_ms"`
	MaxIdleConnections        int    `yaml:"max_idle_connections"`
	MaxIdleConnectionsPerHost int    `yaml:"max_idle_connections_per_host"`
	IdleConnectionTimeoutS    int    `yaml:"idle_connection_timeout_s"`
}

// RateLimitConfig caps outgoing page requests. RPM 0 disables the limiter;
// the per-page delay in PaginationConfig always applies.
type RateLimitConfig struct {
	RPM int `yaml:"rpm"`
}

type PaginationConfig struct {
	MaxPages int `yaml:"max_pages"`
	DelayMS  int `yaml:"delay_ms"`
}

type NormalizeConfig struct {
	TrimNBSP       bool  `yaml:"trim_nbsp"`
	CollapseSpaces bool  `yaml:"collapse_spaces"`
	MaxValidPrice  int64 `yaml:"max_valid_price"`
}

type StorageConfig struct {
	Driver           string `yaml:"driver"`
	DSN              string `yaml:"dsn"`
	CommandTimeoutMS int    `yaml:"command_timeout_ms"`
	BatchSize        int    `yaml:"batch_size"`
	ReadLimit        int    `yaml:"read_limit"`
	MaxConns         int    `yaml:"max_conns"`
}

type ExportConfig struct {
	DataDir string `yaml:"data_dir"`
}

type ServerConfig struct {
	Addr             string `yaml:"addr"`
	WriteTimeoutS    int    `yaml:"write_timeout_s"`
	ShutdownTimeoutS int    `yaml:"shutdown_timeout_s"`
}

type ObservabilityConfig struct {
	LogPath       string `yaml:"log_path"`
	LogLevel      string `yaml:"log_level"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAgeDays int    `yaml:"log_max_age_days"`
}

// Storage drivers.
const (
	DriverMSSQL    = "mssql"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (compatible; CoinafricaScraper/1.0)"

	// mssql accepts at most 2100 parameters per statement, six per ad row.
	maxMSSQLBatchSize = 300
)

// DefaultCategories mirrors the animal categories of sn.coinafrique.com.
func DefaultCategories() map[string]string {
	return map[string]string{
		"dogs":                     "https://sn.coinafrique.com/categorie/chiens",
		"sheeps":                   "https://sn.coinafrique.com/categorie/moutons",
		"chickens-rabbits-pigeons": "https://sn.coinafrique.com/categorie/poules-lapins-et-pigeons",
		"other-animals":            "https://sn.coinafrique.com/categorie/autres-animaux",
	}
}

// Default returns a config that passes Validate once a storage DSN is set.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values. LoadConfig decodes on top of Default(), so
// an explicit zero in the file (e.g. delay_ms: 0) is kept.
func (c *Config) ApplyDefaults() {
	if len(c.Categories) == 0 {
		c.Categories = DefaultCategories()
	}
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = DefaultUserAgent
	}
	if c.HTTP.TotalTimeoutMS == 0 {
		c.HTTP.TotalTimeoutMS = 12000
	}
	if c.HTTP.MaxIdleConnections == 0 {
		c.HTTP.MaxIdleConnections = 100
	}
	if c.HTTP.MaxIdleConnectionsPerHost == 0 {
		c.HTTP.MaxIdleConnectionsPerHost = 10
	}
	if c.HTTP.IdleConnectionTimeoutS == 0 {
		c.HTTP.IdleConnectionTimeoutS = 90
	}
	if c.Pagination.MaxPages == 0 {
		c.Pagination.MaxPages = 6
	}
	if c.Pagination.DelayMS == 0 {
		c.Pagination.DelayMS = 1000
	}
	if c.Normalize.MaxValidPrice == 0 {
		c.Normalize.MaxValidPrice = 10_000_000
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverPostgres
	}
	if c.Storage.CommandTimeoutMS == 0 {
		c.Storage.CommandTimeoutMS = 10000
	}
	if c.Storage.BatchSize == 0 {
		c.Storage.BatchSize = 200
	}
	if c.Storage.ReadLimit == 0 {
		c.Storage.ReadLimit = 500
	}
	if c.Storage.MaxConns == 0 {
		c.Storage.MaxConns = 4
	}
	if c.Export.DataDir == "" {
		c.Export.DataDir = "data"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.WriteTimeoutS == 0 {
		// a scrape request blocks for pages * (latency + delay)
		c.Server.WriteTimeoutS = 600
	}
	if c.Server.ShutdownTimeoutS == 0 {
		c.Server.ShutdownTimeoutS = 10
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}
	if c.Observability.LogMaxSizeMB == 0 {
		c.Observability.LogMaxSizeMB = 50
	}
	if c.Observability.LogMaxBackups == 0 {
		c.Observability.LogMaxBackups = 5
	}
	if c.Observability.LogMaxAgeDays == 0 {
		c.Observability.LogMaxAgeDays = 28
	}
}

// Validation
func (c *Config) Validate() error {
	if len(c.Categories) == 0 {
		return fmt.Errorf("categories must not be empty")
	}
	for key, u := range c.Categories {
		if key == "" {
			return fmt.Errorf("categories: empty category key")
		}
		if u == "" {
			return fmt.Errorf("categories.%s: base url is required", key)
		}
	}
	if c.HTTP.UserAgent == "" {
		return fmt.Errorf("http.user_agent is required")
	}
	if c.HTTP.TotalTimeoutMS <= 0 {
		return fmt.Errorf("http.total_timeout_ms must be > 0")
	}
	if c.RateLimit.RPM < 0 {
		return fmt.Errorf("rate_limit.rpm must be >= 0")
	}
	if c.Pagination.MaxPages < 1 {
		return fmt.Errorf("pagination.max_pages must be >= 1")
	}
	if c.Pagination.DelayMS < 0 {
		return fmt.Errorf("pagination.delay_ms must be >= 0")
	}
	if c.Normalize.MaxValidPrice <= 0 {
		return fmt.Errorf("normalize.max_valid_price must be > 0")
	}
	switch c.Storage.Driver {
	case DriverMSSQL, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("storage.driver must be 'mssql', 'postgres' or 'memory'")
	}
	if c.Storage.Driver != DriverMemory && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required")
	}
	if c.Storage.CommandTimeoutMS <= 0 {
		return fmt.Errorf("storage.command_timeout_ms must be > 0")
	}
	if c.Storage.BatchSize <= 0 {
		return fmt.Errorf("storage.batch_size must be > 0")
	}
	if c.Storage.Driver == DriverMSSQL && c.Storage.BatchSize > maxMSSQLBatchSize {
		return fmt.Errorf("storage.batch_size must be <= %d for mssql", maxMSSQLBatchSize)
	}
	if c.Storage.ReadLimit <= 0 {
		return fmt.Errorf("storage.read_limit must be > 0")
	}
	if c.Storage.MaxConns < 0 {
		return fmt.Errorf("storage.max_conns must be >= 0")
	}
	if c.Export.DataDir == "" {
		return fmt.Errorf("export.data_dir is required")
	}
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("observability.log_level is required")
	}
	return nil
}

// CategoryKeys returns the configured category keys in sorted order.
func (c *Config) CategoryKeys() []string {
	keys := make([]string, 0, len(c.Categories))
	for k := range c.Categories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Getters
func (c *Config) GetTotalTimeout() time.Duration {
	return time.Duration(c.HTTP.TotalTimeoutMS) * time.Millisecond
}

func (c *Config) GetIdleConnectionTimeout() time.Duration {
	return time.Duration(c.HTTP.IdleConnectionTimeoutS) * time.Second
}

func (c *Config) GetPageDelay() time.Duration {
	return time.Duration(c.Pagination.DelayMS) * time.Millisecond
}

func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.Storage.CommandTimeoutMS) * time.Millisecond
}

func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeoutS) * time.Second
}

func (c *Config) GetShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutS) * time.Second
}

func (c *Config) StorageOptions() storage.Options {
	return storage.Options{
		CommandTimeout: c.GetCommandTimeout(),
		BatchSize:      c.Storage.BatchSize,
		ReadLimit:      c.Storage.ReadLimit,
	}
}
