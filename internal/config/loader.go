package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: storage.driver is read from
// STAGEDWELL_STORAGE_DRIVER.
const EnvPrefix = "STAGEDWELL"

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"storage-driver": "storage.driver",
	"sqlite-path":    "storage.sqlite.path",
	"postgres-dsn":   "storage.postgres.dsn",
	"blob-driver":    "blob.driver",
	"blob-root":      "blob.fs.root",
	"report-prefix":  "report.prefix",
	"log-level":      "logging.level",
	"log-format":     "logging.format",
	"search-months":  "tracking.rotting_search_months",
}

// Load reads the configuration. Later sources win: defaults, the YAML file
// at path (optional when empty), environment variables, then flags that
// were set on the command line.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if path != "" {
		if err := loadConfigFile(v, path); err != nil {
			return nil, err
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// RegisterFlags adds the flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("storage-driver", "", "host store driver (memory, sqlite, postgres)")
	fs.String("sqlite-path", "", "sqlite database path")
	fs.String("postgres-dsn", "", "postgres connection string")
	fs.String("blob-driver", "", "report output driver (fs, memory, s3)")
	fs.String("blob-root", "", "report output directory for the fs driver")
	fs.String("report-prefix", "", "key prefix of written reports")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("log-format", "", "log format (human, json)")
	fs.Int("search-months", 0, "months of last stage updates scanned by rotting searches")
}

func loadConfigFile(v *viper.Viper, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := v.ReadConfig(strings.NewReader(expandEnv(string(content)))); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	v.SetConfigFile(path)
	return nil
}

var envPattern = regexp.MustCompile(`\$\{(\w+)(:([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:default} placeholders. Unset variables
// without a default are left in place.
func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := envPattern.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(sub[1]); ok {
			return val
		}
		if sub[2] != "" {
			return sub[3]
		}
		return match
	})
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite.path", "stagedwell.db")
	v.SetDefault("storage.postgres.dsn", "postgres://localhost/stagedwell?sslmode=disable")

	v.SetDefault("tracking.rotting_search_months", 12)

	v.SetDefault("blob.driver", "fs")
	v.SetDefault("blob.fs.root", "./blobdata")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.region", "us-east-1")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.path_style", false)
	v.SetDefault("blob.s3.access_key_id", "")
	v.SetDefault("blob.s3.secret_access_key", "")

	v.SetDefault("report.prefix", "reports")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "human")

	v.SetDefault("metrics.namespace", "stagedwell")
}
