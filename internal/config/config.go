// Package config loads and holds all redactor configuration.
// Settings are layered: built-in defaults, then a YAML file, then a .env
// file (variables already set in the environment win), then environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"transcript-pii-redactor/internal/logger"
	"transcript-pii-redactor/internal/pii"
)

// DefaultFile is read when no config path is given.
const DefaultFile = "redactor.yaml"

// Detector backends.
const (
	DetectorPresidio = "presidio"
	DetectorOllama   = "ollama"
	DetectorPatterns = "patterns"
)

// Config holds the full redactor configuration.
type Config struct {
	LogLevel         string            `yaml:"log_level"`
	Language         string            `yaml:"language"`
	Entities         []string          `yaml:"entities"`
	Placeholders     map[string]string `yaml:"placeholders"`
	FailurePolicy    string            `yaml:"failure_policy"`
	IdentityStrategy string            `yaml:"identity_strategy"`
	Detector         string            `yaml:"detector"`
	Workers          int               `yaml:"workers"`
	AuditLog         string            `yaml:"audit_log"`

	Presidio PresidioConfig `yaml:"presidio"`
	Ollama   OllamaConfig   `yaml:"ollama"`
	Cache    CacheConfig    `yaml:"cache"`
	API      APIConfig      `yaml:"api"`
}

// PresidioConfig configures the Presidio analyzer backend.
type PresidioConfig struct {
	URL            string        `yaml:"url"`
	Timeout        time.Duration `yaml:"timeout"`
	ScoreThreshold float64       `yaml:"score_threshold"`
}

// OllamaConfig configures the Ollama backend.
type OllamaConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	Model         string        `yaml:"model"`
	Confidence    float64       `yaml:"confidence_threshold"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	Timeout       time.Duration `yaml:"timeout"`
}

// CacheConfig configures the detection cache. An empty Path keeps it in
// memory; Capacity 0 disables eviction.
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Path     string `yaml:"path"`
	Capacity int    `yaml:"capacity"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
	Token       string `yaml:"token"`

	// MaxBodyBytes caps one /redact request body.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

var log = logger.New("CONFIG", "info")

// Load returns config with defaults overridden by the YAML file at path
// (DefaultFile when empty), a .env file and environment variables.
func Load(path string) *Config {
	if path == "" {
		path = DefaultFile
	}
	cfg := defaults()
	loadFile(cfg, path)
	loadDotEnv(".env")
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		LogLevel:         "info",
		Language:         "en",
		FailurePolicy:    "open",
		IdentityStrategy: "any",
		Detector:         DetectorPresidio,
		Workers:          4,
		Presidio: PresidioConfig{
			URL:     "http://localhost:5002",
			Timeout: 30 * time.Second,
		},
		Ollama: OllamaConfig{
			Endpoint:      "http://localhost:11434",
			Model:         "qwen2.5:3b",
			Confidence:    0.7,
			MaxConcurrent: 1,
			Timeout:       60 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:  true,
			Capacity: 10000,
		},
		API: APIConfig{
			BindAddress:  "127.0.0.1",
			Port:         8081,
			MaxBodyBytes: 10 << 20,
		},
	}
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // file is optional
	}
	// Decode into a copy so a malformed file leaves cfg untouched.
	next := *cfg
	if err := yaml.Unmarshal(data, &next); err != nil {
		log.Warnf("config_load", "could not parse %s: %v", path, err)
		return
	}
	*cfg = next
	log.Infof("config_load", "loaded %s", path)
}

func loadDotEnv(path string) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("config_load", "could not parse %s: %v", path, err)
	}
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("REDACT_LANGUAGE"); v != "" {
		cfg.Language = v
	}
	if v := os.Getenv("REDACT_ENTITIES"); v != "" {
		cfg.Entities = splitList(v)
	}
	if v := os.Getenv("FAILURE_POLICY"); v != "" {
		cfg.FailurePolicy = v
	}
	if v := os.Getenv("IDENTITY_STRATEGY"); v != "" {
		cfg.IdentityStrategy = v
	}
	if v := os.Getenv("DETECTOR"); v != "" {
		cfg.Detector = v
	}
	if v := os.Getenv("WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("AUDIT_LOG"); v != "" {
		cfg.AuditLog = v
	}
	if v := os.Getenv("PRESIDIO_URL"); v != "" {
		cfg.Presidio.URL = v
	}
	if v := os.Getenv("PRESIDIO_SCORE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Presidio.ScoreThreshold = f
		}
	}
	if v := os.Getenv("OLLAMA_ENDPOINT"); v != "" {
		cfg.Ollama.Endpoint = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.Ollama.Model = v
	}
	if v := os.Getenv("AI_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Ollama.Confidence = f
		}
	}
	if v := os.Getenv("OLLAMA_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Ollama.MaxConcurrent = n
		}
	}
	if v := os.Getenv("CACHE_ENABLED"); v == "false" {
		cfg.Cache.Enabled = false
	}
	if v := os.Getenv("CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}
	if v := os.Getenv("CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Cache.Capacity = n
		}
	}
	if v := os.Getenv("BIND_ADDRESS"); v != "" {
		cfg.API.BindAddress = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = n
		}
	}
	if v := os.Getenv("API_TOKEN"); v != "" {
		cfg.API.Token = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := pii.ParseFailurePolicy(c.FailurePolicy); err != nil {
		errs = append(errs, err)
	}
	if _, ok := pii.StrategyByName(c.IdentityStrategy); !ok {
		errs = append(errs, fmt.Errorf("unknown identity strategy %q (want any or surname)", c.IdentityStrategy))
	}
	switch c.Detector {
	case DetectorPresidio, DetectorOllama, DetectorPatterns:
	default:
		errs = append(errs, fmt.Errorf("unknown detector %q (want presidio, ollama or patterns)", c.Detector))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	if c.Language == "" {
		errs = append(errs, errors.New("language must not be empty"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api port %d out of range", c.API.Port))
	}
	if c.Cache.Capacity < 0 {
		errs = append(errs, fmt.Errorf("cache capacity must not be negative, got %d", c.Cache.Capacity))
	}
	return errors.Join(errs...)
}

// Policy returns the parsed failure policy. Call Validate first.
func (c *Config) Policy() pii.FailurePolicy {
	p, _ := pii.ParseFailurePolicy(c.FailurePolicy)
	return p
}

// Strategy returns the parsed identity strategy. Call Validate first.
func (c *Config) Strategy() pii.MatchStrategy {
	s, ok := pii.StrategyByName(c.IdentityStrategy)
	if !ok {
		return pii.AnyPart{}
	}
	return s
}

// PlaceholderTable returns the default placeholders with configured
// overrides applied.
func (c *Config) PlaceholderTable() pii.Placeholders {
	out := make(pii.Placeholders, len(pii.DefaultPlaceholders)+len(c.Placeholders))
	for k, v := range pii.DefaultPlaceholders {
		out[k] = v
	}
	for k, v := range c.Placeholders {
		out[k] = v
	}
	return out
}
