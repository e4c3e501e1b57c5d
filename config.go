package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// ======================= CONFIG =======================

const (
	defaultConfigPath = "config/config.yaml"
	defaultUserAgent  = "Mozilla/5.0 (Linux; Android 6.0; Nexus 5 Build/MRA58N) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Mobile Safari/537.36"
)

type Config struct {
	DownloadBasePath    string        `yaml:"download_base_path"`
	RequestTimeout      int           `yaml:"request_timeout"` // seconds
	RequestRetries      int           `yaml:"request_retries"`
	ConcurrentDownloads int           `yaml:"concurrent_downloads"`
	UserAgent           string        `yaml:"user_agent"`
	Delay               DelayConfig   `yaml:"delay"`
	MinFileSize         int64         `yaml:"min_file_size"`
	VerifyPDF           bool          `yaml:"verify_pdf"`
	DocumentExt         string        `yaml:"document_ext"`
	Log                 LogConfig     `yaml:"log"`
	Markets             MarketsConfig `yaml:"markets"`
}

// DelayConfig is the random pause between two downloads.
type DelayConfig struct {
	MinSeconds float64 `yaml:"min_seconds"`
	MaxSeconds float64 `yaml:"max_seconds"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type MarketsConfig struct {
	CN MarketConfig `yaml:"cn"`
	HK MarketConfig `yaml:"hk"`
	US MarketConfig `yaml:"us"`
}

// MarketConfig holds the endpoints of one exchange. Template markets use
// URLTemplates; search markets use PrefixURL and SearchURL.
type MarketConfig struct {
	Label              string   `yaml:"label"`
	BaseURL            string   `yaml:"base_url"`
	URLTemplates       []string `yaml:"url_templates"`
	PlaceholderMarkers []string `yaml:"placeholder_markers"`
	PrefixURL          string   `yaml:"prefix_url"`
	SearchURL          string   `yaml:"search_url"`
	DefaultYearsBack   int      `yaml:"default_years_back"`
}

func DefaultConfig() Config {
	return Config{
		DownloadBasePath:    "./downloads",
		RequestTimeout:      30,
		RequestRetries:      1,
		ConcurrentDownloads: 1,
		UserAgent:           defaultUserAgent,
		Delay:               DelayConfig{MinSeconds: 5, MaxSeconds: 10},
		MinFileSize:         1024,
		DocumentExt:         "pdf",
		Log:                 LogConfig{Level: "info"},
		Markets: MarketsConfig{
			CN: MarketConfig{
				Label:   "A股年报",
				BaseURL: "https://money.finance.sina.com.cn",
				URLTemplates: []string{
					"https://vip.stock.finance.sina.com.cn/corp/go.php/vCB_Bulletin/stockid/{code}/page_type/ndbg.phtml",
					"https://money.finance.sina.com.cn/corp/view/vCB_Bulletin.php?stockid={code}&type=list&page_type=ndbg",
				},
				PlaceholderMarkers: []string{"暂时没有数据", "暂无数据"},
			},
			HK: MarketConfig{
				Label:            "港股年报",
				BaseURL:          "https://www1.hkexnews.hk",
				PrefixURL:        "https://www1.hkexnews.hk/search/prefix.do",
				SearchURL:        "https://www1.hkexnews.hk/search/titlesearch.xhtml?lang=zh",
				DefaultYearsBack: 5,
			},
			US: MarketConfig{Label: "美股年报"},
		},
	}
}

// LoadConfig reads a YAML (or JSON) document over the defaults, then applies
// .env and environment overrides. The returned Config is always usable; a
// non-nil error means the file was missing or unreadable and defaults were
// used in its place.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	fileErr := cfg.readFile(path)
	if fileErr != nil {
		cfg = DefaultConfig()
	}

	_ = godotenv.Load() // .env is optional
	cfg.applyEnv()
	cfg.normalize()
	return cfg, fileErr
}

func (c *Config) readFile(path string) error {
	if path == "" {
		path = defaultConfigPath
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DownloadBasePath = getEnv("REPORT_CRAWLER_DOWNLOAD_DIR", c.DownloadBasePath)
	c.RequestTimeout = getEnvInt("REPORT_CRAWLER_TIMEOUT", c.RequestTimeout)
	c.Log.Level = getEnv("REPORT_CRAWLER_LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("REPORT_CRAWLER_LOG_FILE", c.Log.File)
	c.VerifyPDF = getEnvBool("REPORT_CRAWLER_VERIFY_PDF", c.VerifyPDF)
}

// normalize puts out-of-range values back to their defaults.
func (c *Config) normalize() {
	def := DefaultConfig()
	if strings.TrimSpace(c.DownloadBasePath) == "" {
		c.DownloadBasePath = def.DownloadBasePath
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.RequestRetries < 0 {
		c.RequestRetries = 0
	}
	if c.ConcurrentDownloads < 1 {
		c.ConcurrentDownloads = 1
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.Delay.MinSeconds < 0 || c.Delay.MaxSeconds < c.Delay.MinSeconds {
		c.Delay = def.Delay
	}
	if c.MinFileSize < 0 {
		c.MinFileSize = def.MinFileSize
	}
	c.DocumentExt = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.DocumentExt)), ".")
	if c.DocumentExt == "" {
		c.DocumentExt = def.DocumentExt
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Markets.CN.Label == "" {
		c.Markets.CN.Label = def.Markets.CN.Label
	}
	if c.Markets.HK.Label == "" {
		c.Markets.HK.Label = def.Markets.HK.Label
	}
	if c.Markets.US.Label == "" {
		c.Markets.US.Label = def.Markets.US.Label
	}
	if c.Markets.HK.DefaultYearsBack <= 0 {
		c.Markets.HK.DefaultYearsBack = def.Markets.HK.DefaultYearsBack
	}
}

// Market returns the settings of m; unknown markets get an empty config.
func (c Config) Market(m Market) MarketConfig {
	switch m {
	case MarketCN:
		return c.Markets.CN
	case MarketHK:
		return c.Markets.HK
	case MarketUS:
		return c.Markets.US
	}
	return MarketConfig{Label: string(m)}
}

// MarketLabels maps each market to its archive directory name.
func (c Config) MarketLabels() map[Market]string {
	return map[Market]string{
		MarketCN: c.Markets.CN.Label,
		MarketHK: c.Markets.HK.Label,
		MarketUS: c.Markets.US.Label,
	}
}

func (c Config) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// BaseDir resolves the archive root: the explicit value when given, the
// configured default otherwise.
func (c Config) BaseDir(explicit string) string {
	dir := strings.TrimSpace(explicit)
	if dir == "" {
		dir = c.DownloadBasePath
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

func isNotExist(err error) bool { return errors.Is(err, os.ErrNotExist) }

// ---- env helpers ----

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
