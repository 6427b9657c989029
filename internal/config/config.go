package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// InputCfg selects what gets enumerated.
type InputCfg struct {
	Roots       []string `mapstructure:"roots"`
	Manifest    string   `mapstructure:"manifest"`
	Exclude     []string `mapstructure:"exclude"`
	MaxFileSize int64    `mapstructure:"max_file_size"`
}

// ScanCfg controls worker/backoff behavior.
type ScanCfg struct {
	Workers    int `mapstructure:"workers"`
	MaxRetries int `mapstructure:"max_retries"`
	BackoffMS  int `mapstructure:"backoff_ms"`
}

// S3Cfg config. Archiving is skipped unless Enabled.
type S3Cfg struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// LoggingCfg controls output formatting and level.
type LoggingCfg struct {
	Level  string `mapstructure:"level"`  // debug|info|warn|error
	Format string `mapstructure:"format"` // json|console
}

// DedupeCfg controls the persistent catalog.
type DedupeCfg struct {
	Enabled       bool   `mapstructure:"enabled"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// Config is the root configuration.
type Config struct {
	Input   InputCfg   `mapstructure:"input"`
	Scan    ScanCfg    `mapstructure:"scan"`
	S3      S3Cfg      `mapstructure:"s3"`
	Logging LoggingCfg `mapstructure:"logging"`
	Dedupe  DedupeCfg  `mapstructure:"dedupe"`
}

// Load reads config from path, which may be empty, and overlays any flags
// in fs that were set on the command line.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("BLOBSEEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("input.exclude", []string{".git"})
	v.SetDefault("input.max_file_size", int64(100<<20))

	v.SetDefault("scan.workers", 4)
	v.SetDefault("scan.max_retries", 5)
	v.SetDefault("scan.backoff_ms", 500)

	v.SetDefault("s3.enabled", false)
	v.SetDefault("s3.prefix", "blobs")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("dedupe.enabled", false)
	v.SetDefault("dedupe.sqlite_path", "./data/blobseen.db")
	v.SetDefault("dedupe.retention_days", 0)

	if fs != nil {
		for flag, key := range map[string]string{
			"root":      "input.roots",
			"manifest":  "input.manifest",
			"workers":   "scan.workers",
			"log-level": "logging.level",
		} {
			if f := fs.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, err
				}
			}
		}
	}

	var c Config
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return c, err
		}
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, nil
}

// BackoffDuration computes a linear backoff.
func BackoffDuration(ms int, attempt int) time.Duration {
	if ms <= 0 {
		ms = 250
	}
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(ms*attempt) * time.Millisecond
}
