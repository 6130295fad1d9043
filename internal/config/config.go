// Package config loads intake settings from defaults, an optional YAML file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// Folders
	InboundFolder   string `yaml:"inboundFolder"`
	FailedFolder    string `yaml:"failedFolder"`
	ProcessedFolder string `yaml:"processedFolder"`
	WorkDir         string `yaml:"workDir"`

	// Upload
	UploadEndpoint    string        `yaml:"uploadEndpoint"`
	UploadTimeout     time.Duration `yaml:"uploadTimeout"`
	OpaqueContentType string        `yaml:"opaqueContentType"`
	OpaqueTypes       []string      `yaml:"opaqueTypes"`

	// Scheduling
	MaxConcurrency int           `yaml:"maxConcurrency"`
	SettleDelay    time.Duration `yaml:"settleDelay"`
	StatsInterval  time.Duration `yaml:"statsInterval"`

	// Logging
	LogFile  string     `yaml:"logFile"`
	LogLevel slog.Level `yaml:"logLevel"`
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() Config {
	return Config{
		UploadTimeout:     5 * time.Minute,
		OpaqueContentType: "application/dicom",
		OpaqueTypes:       []string{"application/dicom"},
		MaxConcurrency:    10,
		SettleDelay:       2 * time.Second,
		StatsInterval:     5 * time.Minute,
		LogLevel:          slog.LevelInfo,
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment variables. Call LoadDotEnv first to pick up
// .env files.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return cfg, err
	}
	cfg.ResolvePaths()
	return cfg, nil
}

// LoadDotEnv loads the given .env files, or ./.env if none are given.
// Variables already present in the environment win. A missing default .env
// is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	setString(&c.InboundFolder, "INTAKE_INBOUND_FOLDER", "TOPROCESS_FOLDER")
	setString(&c.FailedFolder, "INTAKE_FAILED_FOLDER", "FAILED_FOLDER")
	setString(&c.ProcessedFolder, "INTAKE_PROCESSED_FOLDER", "PROCESSED_FOLDER")
	setString(&c.WorkDir, "INTAKE_WORK_DIR")
	setString(&c.UploadEndpoint, "INTAKE_UPLOAD_ENDPOINT", "ORTHANC_ENDPOINT")
	setString(&c.OpaqueContentType, "INTAKE_OPAQUE_CONTENT_TYPE")
	setString(&c.LogFile, "INTAKE_LOG_FILE")

	if v := getEnv("INTAKE_OPAQUE_TYPES"); v != "" {
		c.OpaqueTypes = splitList(v)
	}
	if v := getEnv("INTAKE_LOG_LEVEL"); v != "" {
		c.LogLevel = ParseLogLevel(v)
	}

	if v := getEnv("INTAKE_MAX_CONCURRENCY", "MAX_CONCURRENT_UPLOADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid max concurrency %q: %w", v, err)
		}
		c.MaxConcurrency = n
	}

	for _, d := range []struct {
		dst *time.Duration
		key string
	}{
		{&c.UploadTimeout, "INTAKE_UPLOAD_TIMEOUT"},
		{&c.SettleDelay, "INTAKE_SETTLE_DELAY"},
		{&c.StatsInterval, "INTAKE_STATS_INTERVAL"},
	} {
		v := getEnv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.key, v, err)
		}
		*d.dst = parsed
	}
	return nil
}

// ResolvePaths makes every configured folder absolute.
func (c *Config) ResolvePaths() {
	for _, p := range []*string{&c.InboundFolder, &c.FailedFolder, &c.ProcessedFolder, &c.WorkDir} {
		if *p == "" {
			continue
		}
		if abs, err := filepath.Abs(*p); err == nil {
			*p = abs
		}
	}
}

// Validate reports every problem that would prevent the pipeline from
// starting.
func (c Config) Validate() error {
	var errs []error

	required := []struct {
		name, value string
	}{
		{"inboundFolder", c.InboundFolder},
		{"failedFolder", c.FailedFolder},
		{"processedFolder", c.ProcessedFolder},
		{"uploadEndpoint", c.UploadEndpoint},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.name))
		}
	}

	folders := map[string]string{
		"inboundFolder":   c.InboundFolder,
		"failedFolder":    c.FailedFolder,
		"processedFolder": c.ProcessedFolder,
	}
	seen := make(map[string]string)
	for _, name := range []string{"inboundFolder", "failedFolder", "processedFolder"} {
		dir := folders[name]
		if dir == "" {
			continue
		}
		if other, dup := seen[dir]; dup {
			errs = append(errs, fmt.Errorf("%s and %s must be different folders", other, name))
		}
		seen[dir] = name
	}
	if c.InboundFolder != "" {
		for _, name := range []string{"failedFolder", "processedFolder"} {
			if within(c.InboundFolder, folders[name]) && folders[name] != c.InboundFolder {
				errs = append(errs, fmt.Errorf("%s must not be inside inboundFolder", name))
			}
		}
		if c.WorkDir != "" && within(c.InboundFolder, c.WorkDir) {
			errs = append(errs, errors.New("workDir must not be inside inboundFolder"))
		}
	}

	if c.UploadEndpoint != "" {
		u, err := url.Parse(c.UploadEndpoint)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("uploadEndpoint: %w", err))
		case u.Scheme != "http" && u.Scheme != "https":
			errs = append(errs, fmt.Errorf("uploadEndpoint must be an http or https URL, got %q", c.UploadEndpoint))
		case u.Host == "":
			errs = append(errs, fmt.Errorf("uploadEndpoint has no host: %q", c.UploadEndpoint))
		}
	}

	if c.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("maxConcurrency must be at least 1, got %d", c.MaxConcurrency))
	}
	if c.UploadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("uploadTimeout must be positive, got %s", c.UploadTimeout))
	}
	if c.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("settleDelay must not be negative, got %s", c.SettleDelay))
	}
	if c.StatsInterval < 0 {
		errs = append(errs, fmt.Errorf("statsInterval must not be negative, got %s", c.StatsInterval))
	}
	if c.OpaqueContentType == "" {
		errs = append(errs, errors.New("opaqueContentType must not be empty"))
	}

	return errors.Join(errs...)
}

// EnsureFolders creates the three folders and the work dir if missing.
func (c Config) EnsureFolders() error {
	for _, dir := range []string{c.InboundFolder, c.FailedFolder, c.ProcessedFolder, c.WorkDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create folder %s: %w", dir, err)
		}
	}
	return nil
}

// within reports whether path is parent or below it.
func within(parent, path string) bool {
	if path == "" {
		return false
	}
	rel, err := filepath.Rel(parent, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// getEnv returns the first non-empty variable among keys.
func getEnv(keys ...string) string {
	for _, k := range keys {
		if val := os.Getenv(k); val != "" {
			return val
		}
	}
	return ""
}

func setString(dst *string, keys ...string) {
	if v := getEnv(keys...); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseLogLevel maps a level name to a slog.Level, defaulting to INFO.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
