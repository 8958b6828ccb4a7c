// Package config loads stagedwell settings from defaults, an optional YAML
// file, STAGEDWELL_ environment variables and command line flags.
package config

import (
	"fmt"

	"stagedwell/internal/tracking"
	"stagedwell/pkg/domain"
)

// Config is the root configuration.
type Config struct {
	Storage  Storage  `mapstructure:"storage"`
	Tracking Tracking `mapstructure:"tracking"`
	Blob     Blob     `mapstructure:"blob"`
	Report   Report   `mapstructure:"report"`
	Logging  Logging  `mapstructure:"logging"`
	Metrics  Metrics  `mapstructure:"metrics"`
}

var _ domain.Settings = Config{}

// Storage selects the host store.
type Storage struct {
	Driver   string   `mapstructure:"driver"`
	SQLite   SQLite   `mapstructure:"sqlite"`
	Postgres Postgres `mapstructure:"postgres"`
}

// SQLite configures the sqlite host.
type SQLite struct {
	Path string `mapstructure:"path"`
}

// Postgres configures the postgres host.
type Postgres struct {
	DSN string `mapstructure:"dsn"`
}

// Tracking holds engine parameters and the declared entity types.
type Tracking struct {
	RottingSearchMonths int                  `mapstructure:"rotting_search_months"`
	Entities            []domain.Declaration `mapstructure:"entities"`
}

// Blob selects the report output store.
type Blob struct {
	Driver string `mapstructure:"driver"`
	FS     FS     `mapstructure:"fs"`
	S3     S3     `mapstructure:"s3"`
}

// FS configures the filesystem blob driver.
type FS struct {
	Root string `mapstructure:"root"`
}

// S3 configures the S3 / MinIO blob driver. Empty credentials fall back to
// the default AWS credential chain.
type S3 struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// Report configures the rotting report job.
type Report struct {
	Prefix string `mapstructure:"prefix"`
}

// Logging configures the process logger.
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Metrics configures prometheus collectors.
type Metrics struct {
	Namespace string `mapstructure:"namespace"`
}

// Int implements domain.Settings.
func (c Config) Int(key string, fallback int) int {
	switch key {
	case tracking.SearchMonthsKey:
		if c.Tracking.RottingSearchMonths > 0 {
			return c.Tracking.RottingSearchMonths
		}
	}
	return fallback
}

// Validate checks driver names and normalizes the entity declarations.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case "fs", "memory", "s3":
	default:
		return fmt.Errorf("blob.driver: unknown driver %q", c.Blob.Driver)
	}
	if c.Blob.Driver == "s3" && c.Blob.S3.Bucket == "" {
		return fmt.Errorf("blob.s3.bucket required for s3 driver")
	}
	if c.Tracking.RottingSearchMonths < 0 {
		return fmt.Errorf("tracking.rotting_search_months must not be negative")
	}
	seen := make(map[domain.EntityType]struct{}, len(c.Tracking.Entities))
	for i, decl := range c.Tracking.Entities {
		normalized, err := decl.Normalize()
		if err != nil {
			return fmt.Errorf("tracking.entities[%d]: %w", i, err)
		}
		if _, dup := seen[normalized.Entity]; dup {
			return fmt.Errorf("tracking.entities[%d]: entity type %s declared twice", i, normalized.Entity)
		}
		seen[normalized.Entity] = struct{}{}
		c.Tracking.Entities[i] = normalized
	}
	return nil
}

// Entity returns the declaration of an entity type.
func (c Config) Entity(entity domain.EntityType) (domain.Declaration, bool) {
	for _, decl := range c.Tracking.Entities {
		if decl.Entity == entity {
			return decl, true
		}
	}
	return domain.Declaration{}, false
}
