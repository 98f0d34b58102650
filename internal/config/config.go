// Package config handles YAML configuration for ownerscan.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/ownerscan/internal/emitter"
	"github.com/yairfalse/ownerscan/internal/filter"
	"github.com/yairfalse/ownerscan/pkg/resource"
)

// DefaultRegions are scanned when no region is configured.
var DefaultRegions = []string{
	"ap-southeast-1",
	"ap-southeast-2",
	"eu-central-1",
	"us-east-1",
	"us-east-2",
	"us-west-1",
	"us-west-2",
}

// Config is the root configuration structure.
type Config struct {
	AWS    AWSConfig    `yaml:"aws"`
	Scan   ScanConfig   `yaml:"scan"`
	Report ReportConfig `yaml:"report"`
	Log    LogConfig    `yaml:"log"`
	OTEL   OTELConfig   `yaml:"otel"`
}

// AWSConfig holds AWS provider settings.
type AWSConfig struct {
	Regions           []string `yaml:"regions"`
	Profile           string   `yaml:"profile"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
}

// ScanConfig selects what a run looks for.
type ScanConfig struct {
	Mode      resource.Mode        `yaml:"mode"`
	Filters   []resource.Predicate `yaml:"filters"`
	OwnerKeys []string             `yaml:"owner_keys"`
}

// ReportConfig holds report destinations.
type ReportConfig struct {
	Path            string `yaml:"path"`
	Format          string `yaml:"format"`
	Print           bool   `yaml:"print"`
	S3URI           string `yaml:"s3_uri"`
	S3Region        string `yaml:"s3_region"`
	Archive         string `yaml:"archive"`
	MetricsTextfile string `yaml:"metrics_textfile"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Insecure    bool          `yaml:"insecure"`
	ServiceName string        `yaml:"service_name"`
	Traces      TracesConfig  `yaml:"traces"`
	Metrics     MetricsConfig `yaml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool     `yaml:"enabled"`
	SampleRate *float64 `yaml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a YAML config file. An empty path yields Default.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if len(cfg.AWS.Regions) == 0 {
		cfg.AWS.Regions = append([]string(nil), DefaultRegions...)
	}
	if cfg.Scan.Mode == "" {
		cfg.Scan.Mode = resource.ModeMissingOwner
	}
	if len(cfg.Scan.OwnerKeys) == 0 {
		cfg.Scan.OwnerKeys = append([]string(nil), filter.DefaultOwnerKeys...)
	}
	if cfg.Report.Format == "" {
		cfg.Report.Format = string(emitter.FormatCSV)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "ownerscan"
	}
	if cfg.OTEL.Traces.SampleRate == nil {
		rate := 1.0
		cfg.OTEL.Traces.SampleRate = &rate
	}
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if len(c.AWS.Regions) == 0 {
		return fmt.Errorf("aws: at least one region required")
	}
	for _, r := range c.AWS.Regions {
		if strings.TrimSpace(r) == "" {
			return fmt.Errorf("aws: empty region name")
		}
	}
	if c.AWS.RequestsPerSecond < 0 {
		return fmt.Errorf("aws: requests_per_second must not be negative (got %v)", c.AWS.RequestsPerSecond)
	}
	if !c.Scan.Mode.Valid() {
		return fmt.Errorf("scan: unknown mode %q (want %s or %s)", c.Scan.Mode, resource.ModeFiltered, resource.ModeMissingOwner)
	}
	for i, p := range c.Scan.Filters {
		if p.Name == "" || len(p.Values) == 0 {
			return fmt.Errorf("scan: filters[%d] needs a name and at least one value", i)
		}
	}
	if _, err := emitter.ParseFormat(c.Report.Format); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if c.Report.S3URI != "" {
		if _, _, err := emitter.ParseS3URI(c.Report.S3URI, emitter.FormatCSV); err != nil {
			return fmt.Errorf("report: %w", err)
		}
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log: format must be console or json (got %q)", c.Log.Format)
	}
	if rate := c.OTEL.Traces.Rate(); rate < 0.0 || rate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", rate)
	}
	return nil
}

// Rate returns the trace sample rate, 1.0 when unset.
func (t TracesConfig) Rate() float64 {
	if t.SampleRate == nil {
		return 1.0
	}
	return *t.SampleRate
}
