package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the harvester
type Config struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	Dashboard DashboardConfig `yaml:"dashboard"`
	Sync      SyncConfig      `yaml:"sync"`
	Store     StoreConfig     `yaml:"store"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Journal   JournalConfig   `yaml:"journal"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// DashboardConfig describes the remote log view and how to walk it
type DashboardConfig struct {
	URL             string `yaml:"url"`
	SearchQuery     string `yaml:"search_query"`
	Marker          string `yaml:"marker"`
	Headless        bool   `yaml:"headless"`
	UserAgent       string `yaml:"user_agent"`
	SettleDelayMs   int    `yaml:"settle_delay_ms"`   // pause after clicks and keystrokes
	PageLoadWaitMs  int    `yaml:"page_load_wait_ms"` // pause after navigation
	ActionTimeoutMs int    `yaml:"action_timeout_ms"`
	MaxMatches      int    `yaml:"max_matches"`
}

// SettleDelay returns the post-action pause as a duration.
func (d DashboardConfig) SettleDelay() time.Duration {
	return time.Duration(d.SettleDelayMs) * time.Millisecond
}

// PageLoadWait returns the post-navigation pause as a duration.
func (d DashboardConfig) PageLoadWait() time.Duration {
	return time.Duration(d.PageLoadWaitMs) * time.Millisecond
}

// ActionTimeout returns the per-interaction upper bound as a duration.
func (d DashboardConfig) ActionTimeout() time.Duration {
	return time.Duration(d.ActionTimeoutMs) * time.Millisecond
}

// SyncConfig selects the commit policy and its tunables
type SyncConfig struct {
	Policy    string   `yaml:"policy"` // "batch" or "stream"
	BatchSize int      `yaml:"batch_size"`
	Denylist  []string `yaml:"denylist"` // empty means the built-in denylist
}

// StoreConfig selects and configures the tabular store backend
type StoreConfig struct {
	Backend    string           `yaml:"backend"` // "sheets" or "clickhouse"
	Sheets     SheetsConfig     `yaml:"sheets"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// SheetsConfig holds Google Sheets access settings
type SheetsConfig struct {
	CredentialsFile string `yaml:"credentials_file"` // service account JSON key
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	Worksheet       string `yaml:"worksheet"`
	WriteIntervalMs int    `yaml:"write_interval_ms"` // spacing between writes, keeps the per-minute quota happy
}

// WriteInterval returns the minimum spacing between writes.
func (s SheetsConfig) WriteInterval() time.Duration {
	return time.Duration(s.WriteIntervalMs) * time.Millisecond
}

// ClickHouseConfig holds ClickHouse connection settings
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
}

// ScheduleConfig sets the pass cadence
type ScheduleConfig struct {
	Cron string `yaml:"cron"` // robfig/cron spec, e.g. "@every 5m"
}

// SnapshotConfig sets where the per-pass JSON dump lands
type SnapshotConfig struct {
	Path string `yaml:"path"`
}

// JournalConfig sets where pass summaries are journaled
type JournalConfig struct {
	Path string `yaml:"path"`
}

// TracingConfig holds OpenTelemetry export settings
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// Default returns the configuration the harvester runs with when no
// file and no environment overrides are present.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Dashboard: DashboardConfig{
			SearchQuery:     "| INFO     | __main__:score_compressions:",
			Marker:          "__main__:score_compressions:",
			Headless:        true,
			SettleDelayMs:   2000,
			PageLoadWaitMs:  5000,
			ActionTimeoutMs: 30000,
			MaxMatches:      10000,
		},
		Sync: SyncConfig{
			Policy:    "batch",
			BatchSize: 100,
		},
		Store: StoreConfig{
			Backend: "sheets",
			Sheets: SheetsConfig{
				CredentialsFile: "credentials.json",
				Worksheet:       "Logs",
				WriteIntervalMs: 500,
			},
			ClickHouse: ClickHouseConfig{
				Host:     "localhost",
				Port:     9000,
				Database: "default",
				Username: "default",
				Table:    "harvest_log",
			},
		},
		Schedule: ScheduleConfig{Cron: "@every 5m"},
		Snapshot: SnapshotConfig{Path: "info_logs.json"},
		Journal:  JournalConfig{Path: "harvester.db"},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file
// at path, and HARVESTER_* environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays HARVESTER_* environment variables on top of the
// loaded values.
func (c *Config) applyEnv() {
	c.LogLevel = getEnv("HARVESTER_LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("HARVESTER_LOG_FILE", c.LogFile)

	c.Dashboard.URL = getEnv("HARVESTER_DASHBOARD_URL", c.Dashboard.URL)
	c.Dashboard.SearchQuery = getEnv("HARVESTER_SEARCH_QUERY", c.Dashboard.SearchQuery)
	c.Dashboard.Marker = getEnv("HARVESTER_MARKER", c.Dashboard.Marker)
	c.Dashboard.Headless = getEnvBool("HARVESTER_HEADLESS", c.Dashboard.Headless)

	c.Sync.Policy = getEnv("HARVESTER_SYNC_POLICY", c.Sync.Policy)
	c.Sync.BatchSize = getEnvInt("HARVESTER_SYNC_BATCH_SIZE", c.Sync.BatchSize)

	c.Store.Backend = getEnv("HARVESTER_STORE_BACKEND", c.Store.Backend)
	c.Store.Sheets.CredentialsFile = getEnv("HARVESTER_SHEETS_CREDENTIALS_FILE", c.Store.Sheets.CredentialsFile)
	c.Store.Sheets.SpreadsheetID = getEnv("HARVESTER_SHEETS_SPREADSHEET_ID", c.Store.Sheets.SpreadsheetID)
	c.Store.Sheets.Worksheet = getEnv("HARVESTER_SHEETS_WORKSHEET", c.Store.Sheets.Worksheet)
	c.Store.ClickHouse.Host = getEnv("HARVESTER_CLICKHOUSE_HOST", c.Store.ClickHouse.Host)
	c.Store.ClickHouse.Port = getEnvInt("HARVESTER_CLICKHOUSE_PORT", c.Store.ClickHouse.Port)
	c.Store.ClickHouse.Database = getEnv("HARVESTER_CLICKHOUSE_DB", c.Store.ClickHouse.Database)
	c.Store.ClickHouse.Username = getEnv("HARVESTER_CLICKHOUSE_USER", c.Store.ClickHouse.Username)
	c.Store.ClickHouse.Password = getEnv("HARVESTER_CLICKHOUSE_PASSWORD", c.Store.ClickHouse.Password)
	c.Store.ClickHouse.Table = getEnv("HARVESTER_CLICKHOUSE_TABLE", c.Store.ClickHouse.Table)

	c.Schedule.Cron = getEnv("HARVESTER_SCHEDULE", c.Schedule.Cron)
	c.Snapshot.Path = getEnv("HARVESTER_SNAPSHOT_PATH", c.Snapshot.Path)
	c.Journal.Path = getEnv("HARVESTER_JOURNAL_PATH", c.Journal.Path)

	c.Tracing.Enabled = getEnvBool("HARVESTER_TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.Endpoint = getEnv("HARVESTER_TRACING_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.Protocol = getEnv("HARVESTER_TRACING_PROTOCOL", c.Tracing.Protocol)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Dashboard.URL == "" {
		return fmt.Errorf("dashboard.url is required")
	}
	if c.Dashboard.SearchQuery == "" {
		return fmt.Errorf("dashboard.search_query is required")
	}
	if c.Dashboard.Marker == "" {
		return fmt.Errorf("dashboard.marker is required")
	}
	if c.Dashboard.MaxMatches < 1 {
		return fmt.Errorf("dashboard.max_matches must be at least 1")
	}

	if c.Sync.Policy != "batch" && c.Sync.Policy != "stream" {
		return fmt.Errorf("sync.policy must be \"batch\" or \"stream\", got %q", c.Sync.Policy)
	}
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("sync.batch_size must be at least 1")
	}

	switch c.Store.Backend {
	case "sheets":
		if c.Store.Sheets.SpreadsheetID == "" {
			return fmt.Errorf("store.sheets.spreadsheet_id is required for the sheets backend")
		}
		if c.Store.Sheets.CredentialsFile == "" {
			return fmt.Errorf("store.sheets.credentials_file is required for the sheets backend")
		}
		if c.Store.Sheets.Worksheet == "" {
			return fmt.Errorf("store.sheets.worksheet is required for the sheets backend")
		}
	case "clickhouse":
		if c.Store.ClickHouse.Host == "" {
			return fmt.Errorf("store.clickhouse.host is required for the clickhouse backend")
		}
		if c.Store.ClickHouse.Port <= 0 || c.Store.ClickHouse.Port > 65535 {
			return fmt.Errorf("store.clickhouse.port must be between 1 and 65535")
		}
		if c.Store.ClickHouse.Database == "" {
			return fmt.Errorf("store.clickhouse.database is required for the clickhouse backend")
		}
		if c.Store.ClickHouse.Table == "" {
			return fmt.Errorf("store.clickhouse.table is required for the clickhouse backend")
		}
	default:
		return fmt.Errorf("store.backend must be \"sheets\" or \"clickhouse\", got %q", c.Store.Backend)
	}

	if c.Schedule.Cron == "" {
		return fmt.Errorf("schedule.cron is required")
	}
	if c.Tracing.Enabled && c.Tracing.Protocol != "grpc" && c.Tracing.Protocol != "http" {
		return fmt.Errorf("tracing.protocol must be \"grpc\" or \"http\", got %q", c.Tracing.Protocol)
	}

	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
