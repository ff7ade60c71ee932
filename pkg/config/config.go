package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/codex-crawler/pkg/parse"
	"github.com/Sriram-PR/codex-crawler/pkg/utils"
)

// Description formats for extracted records
const (
	DescriptionFormatText     = "text"
	DescriptionFormatMarkdown = "markdown"
)

// Record export formats
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// SiteConfig holds configuration specific to a single site
type SiteConfig struct {
	Seeds           []string         `yaml:"seeds" validate:"required,min=1,dive,url"`
	Filter          parse.FilterRule `yaml:"filter"`
	AdmitSubstrings []string         `yaml:"admit_substrings,omitempty"` // Link stage admits only addresses containing one of these
	Workers         int              `yaml:"workers,omitempty" validate:"gte=0"`
	DiscoveryCap    int              `yaml:"discovery_cap,omitempty" validate:"gte=-1"` // -1 = unlimited, 0 = inherit
	Delay           time.Duration    `yaml:"delay,omitempty"`
	UserAgent       string           `yaml:"user_agent,omitempty"`
	Records         RecordsConfig    `yaml:"records,omitempty"`
}

// RecordsConfig configures the structured-extraction stage of a site
type RecordsConfig struct {
	Enabled             bool     `yaml:"enabled"`
	URLs                []string `yaml:"urls,omitempty" validate:"dive,url"` // Explicit list; otherwise selected from the link stage
	IncludePatterns     []string `yaml:"include_patterns,omitempty"`          // Regex; a discovered address must match one
	ExcludePatterns     []string `yaml:"exclude_patterns,omitempty"`          // Regex; a discovered address must match none
	Locales             []string `yaml:"locales,omitempty" validate:"dive,required"`
	LocaleParam         string   `yaml:"locale_param,omitempty"`
	TitleSelector       string   `yaml:"title_selector,omitempty"`
	DescriptionSelector string   `yaml:"description_selector,omitempty"`
	DescriptionFormat   string   `yaml:"description_format,omitempty" validate:"omitempty,oneof=text markdown"`
	LocaleConcurrency   int      `yaml:"locale_concurrency,omitempty" validate:"gte=0"`
	Workers             int      `yaml:"workers,omitempty" validate:"gte=0"`
	DiscoveryCap        int      `yaml:"discovery_cap,omitempty" validate:"gte=0"` // 0 = number of record URLs
	Formats             []string `yaml:"formats,omitempty" validate:"dive,oneof=csv xlsx"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	UserAgent               string                `yaml:"user_agent"`
	Delay                   time.Duration         `yaml:"delay"` // Fixed pause before each visit; negative disables it
	Workers                 int                   `yaml:"workers" validate:"gte=0"`
	DiscoveryCap            int                   `yaml:"discovery_cap" validate:"gte=-1"`
	MaxRequests             int                   `yaml:"max_requests" validate:"gte=0"` // Global cap on concurrent HTTP requests
	SemaphoreAcquireTimeout time.Duration         `yaml:"semaphore_acquire_timeout,omitempty"`
	MaxRetries              int                   `yaml:"max_retries,omitempty" validate:"gte=0"`
	InitialRetryDelay       time.Duration         `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay           time.Duration         `yaml:"max_retry_delay,omitempty"`
	MaxPageSizeBytes        int64                 `yaml:"max_page_size_bytes,omitempty" validate:"gte=0"`
	OutputBaseDir           string                `yaml:"output_base_dir"`
	StateDir                string                `yaml:"state_dir,omitempty"` // Empty keeps crawl state in memory
	Resume                  bool                  `yaml:"resume,omitempty"`
	ShutdownGrace           time.Duration         `yaml:"shutdown_grace,omitempty"`
	ProgressInterval        time.Duration         `yaml:"progress_interval,omitempty"`
	HTTPClientSettings      HTTPClientConfig      `yaml:"http_client_settings,omitempty"`
	Sites                   map[string]SiteConfig `yaml:"sites"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"`
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"` // nil = default
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`
	MaxRedirects          int           `yaml:"max_redirects,omitempty"`
}

// LoadConfig reads and decodes a YAML config file. Unknown keys are rejected.
func LoadConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read config: %w", utils.ErrFilesystem, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML config data.
func ParseConfig(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: YAML config: %w", utils.ErrParsing, err)
	}
	return &cfg, nil
}

// GetEffectiveWorkers returns the worker count for the link stage of a site
func GetEffectiveWorkers(siteCfg SiteConfig, appCfg AppConfig) int {
	if siteCfg.Workers > 0 {
		return siteCfg.Workers
	}
	return appCfg.Workers
}

// GetEffectiveRecordWorkers returns the worker count for the record stage of a site
func GetEffectiveRecordWorkers(siteCfg SiteConfig, appCfg AppConfig) int {
	if siteCfg.Records.Workers > 0 {
		return siteCfg.Records.Workers
	}
	return GetEffectiveWorkers(siteCfg, appCfg)
}

// GetEffectiveDiscoveryCap returns the link stage cap; values <= 0 mean unlimited.
func GetEffectiveDiscoveryCap(siteCfg SiteConfig, appCfg AppConfig) int {
	if siteCfg.DiscoveryCap != 0 {
		return siteCfg.DiscoveryCap
	}
	return appCfg.DiscoveryCap
}

// GetEffectiveRecordCap returns the record stage cap for n record URLs
func GetEffectiveRecordCap(siteCfg SiteConfig, n int) int {
	if siteCfg.Records.DiscoveryCap > 0 {
		return siteCfg.Records.DiscoveryCap
	}
	return n
}

// GetEffectiveDelay returns the pre-visit delay; zero means no delay
func GetEffectiveDelay(siteCfg SiteConfig, appCfg AppConfig) time.Duration {
	d := appCfg.Delay
	if siteCfg.Delay != 0 {
		d = siteCfg.Delay
	}
	if d < 0 {
		return 0
	}
	return d
}

// GetEffectiveUserAgent returns the User-Agent header for a site
func GetEffectiveUserAgent(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.UserAgent != "" {
		return siteCfg.UserAgent
	}
	return appCfg.UserAgent
}
