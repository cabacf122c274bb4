package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"transcript-pii-redactor/internal/pii"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel: got %s", cfg.LogLevel)
	}
	if cfg.Language != "en" {
		t.Errorf("Language: got %s", cfg.Language)
	}
	if cfg.FailurePolicy != "open" {
		t.Errorf("FailurePolicy: got %s, want open", cfg.FailurePolicy)
	}
	if cfg.IdentityStrategy != "any" {
		t.Errorf("IdentityStrategy: got %s, want any", cfg.IdentityStrategy)
	}
	if cfg.Detector != DetectorPresidio {
		t.Errorf("Detector: got %s", cfg.Detector)
	}
	if cfg.Presidio.URL != "http://localhost:5002" {
		t.Errorf("Presidio.URL: got %s", cfg.Presidio.URL)
	}
	if cfg.Ollama.Endpoint != "http://localhost:11434" {
		t.Errorf("Ollama.Endpoint: got %s", cfg.Ollama.Endpoint)
	}
	if cfg.Ollama.Model != "qwen2.5:3b" {
		t.Errorf("Ollama.Model: got %s", cfg.Ollama.Model)
	}
	if cfg.Ollama.Confidence != 0.7 {
		t.Errorf("Ollama.Confidence: got %f, want 0.7", cfg.Ollama.Confidence)
	}
	if cfg.Ollama.MaxConcurrent != 1 {
		t.Errorf("Ollama.MaxConcurrent: got %d, want 1", cfg.Ollama.MaxConcurrent)
	}
	if !cfg.Cache.Enabled || cfg.Cache.Capacity != 10000 {
		t.Errorf("Cache: got %+v", cfg.Cache)
	}
	if cfg.API.BindAddress != "127.0.0.1" || cfg.API.Port != 8081 {
		t.Errorf("API: got %s:%d", cfg.API.BindAddress, cfg.API.Port)
	}
	if cfg.Entities != nil {
		t.Errorf("Entities should default to nil (all detectable), got %v", cfg.Entities)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadEnv_Detector(t *testing.T) {
	t.Setenv("DETECTOR", "ollama")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.Detector != DetectorOllama {
		t.Errorf("Detector: got %s, want ollama", cfg.Detector)
	}
}

func TestLoadEnv_OllamaEndpoint(t *testing.T) {
	t.Setenv("OLLAMA_ENDPOINT", "http://remote:11434")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.Ollama.Endpoint != "http://remote:11434" {
		t.Errorf("Ollama.Endpoint: got %s", cfg.Ollama.Endpoint)
	}
}

func TestLoadEnv_AIConfidence(t *testing.T) {
	t.Setenv("AI_CONFIDENCE_THRESHOLD", "0.85")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.Ollama.Confidence != 0.85 {
		t.Errorf("Ollama.Confidence: got %f, want 0.85", cfg.Ollama.Confidence)
	}
}

func TestLoadEnv_InvalidNumbersIgnored(t *testing.T) {
	t.Setenv("WORKERS", "lots")
	t.Setenv("OLLAMA_MAX_CONCURRENT", "0")
	t.Setenv("CACHE_CAPACITY", "-5")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.Workers != 4 {
		t.Errorf("Workers: got %d, want 4", cfg.Workers)
	}
	if cfg.Ollama.MaxConcurrent != 1 {
		t.Errorf("Ollama.MaxConcurrent: got %d, want 1", cfg.Ollama.MaxConcurrent)
	}
	if cfg.Cache.Capacity != 10000 {
		t.Errorf("Cache.Capacity: got %d, want 10000", cfg.Cache.Capacity)
	}
}

func TestLoadEnv_Entities(t *testing.T) {
	t.Setenv("REDACT_ENTITIES", "PERSON, EMAIL_ADDRESS,,AGE ")
	cfg := defaults()
	loadEnv(cfg)
	want := []string{"PERSON", "EMAIL_ADDRESS", "AGE"}
	if strings.Join(cfg.Entities, "|") != strings.Join(want, "|") {
		t.Errorf("Entities: got %v, want %v", cfg.Entities, want)
	}
}

func TestLoadEnv_PolicyAndAPI(t *testing.T) {
	t.Setenv("FAILURE_POLICY", "closed")
	t.Setenv("IDENTITY_STRATEGY", "surname")
	t.Setenv("API_PORT", "9091")
	t.Setenv("API_TOKEN", "secret")
	t.Setenv("BIND_ADDRESS", "0.0.0.0")
	t.Setenv("CACHE_ENABLED", "false")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.Policy() != pii.FailClosed {
		t.Errorf("Policy: got %v, want closed", cfg.Policy())
	}
	if _, ok := cfg.Strategy().(pii.Surname); !ok {
		t.Errorf("Strategy: got %T, want pii.Surname", cfg.Strategy())
	}
	if cfg.API.Port != 9091 || cfg.API.Token != "secret" || cfg.API.BindAddress != "0.0.0.0" {
		t.Errorf("API: got %+v", cfg.API)
	}
	if cfg.Cache.Enabled {
		t.Error("Cache.Enabled should be false")
	}
}

func TestLoadFile_ValidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "redactor.yaml")
	data := `
log_level: debug
detector: patterns
failure_policy: closed
entities: [PERSON, AGE]
placeholders:
  EMAIL_ADDRESS: MAIL
presidio:
  url: http://presidio:3000
  timeout: 5s
cache:
  path: /tmp/cache.db
  capacity: 50
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := defaults()
	loadFile(cfg, path)

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel: got %s, want debug", cfg.LogLevel)
	}
	if cfg.Detector != DetectorPatterns {
		t.Errorf("Detector: got %s", cfg.Detector)
	}
	if cfg.FailurePolicy != "closed" {
		t.Errorf("FailurePolicy: got %s", cfg.FailurePolicy)
	}
	if len(cfg.Entities) != 2 {
		t.Errorf("Entities: got %v", cfg.Entities)
	}
	if cfg.Presidio.URL != "http://presidio:3000" || cfg.Presidio.Timeout != 5*time.Second {
		t.Errorf("Presidio: got %+v", cfg.Presidio)
	}
	if cfg.Cache.Path != "/tmp/cache.db" || cfg.Cache.Capacity != 50 {
		t.Errorf("Cache: got %+v", cfg.Cache)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Ollama.Model != "qwen2.5:3b" {
		t.Errorf("Ollama.Model should keep default, got %s", cfg.Ollama.Model)
	}
	if !cfg.Cache.Enabled {
		t.Error("Cache.Enabled should keep default true")
	}

	table := cfg.PlaceholderTable()
	if table.Label("EMAIL_ADDRESS") != "MAIL" {
		t.Errorf("EMAIL_ADDRESS label: got %s, want MAIL", table.Label("EMAIL_ADDRESS"))
	}
	if table.Label(pii.EntityAge) != pii.DefaultPlaceholders.Label(pii.EntityAge) {
		t.Errorf("AGE label should keep default, got %s", table.Label(pii.EntityAge))
	}
}

func TestLoadFile_Missing_IsNoOp(t *testing.T) {
	cfg := defaults()
	loadFile(cfg, filepath.Join(t.TempDir(), "nope.yaml"))
	if cfg.API.Port != 8081 {
		t.Errorf("API.Port should remain 8081 after missing file, got %d", cfg.API.Port)
	}
}

func TestLoadFile_InvalidYAML_PreservesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\nworkers: [not a number"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := defaults()
	loadFile(cfg, path)
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel should remain info after invalid YAML, got %s", cfg.LogLevel)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers should remain 4, got %d", cfg.Workers)
	}
}

func TestLoadDotEnv_EnvironmentWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("DETECTOR=ollama\nOLLAMA_MODEL=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DETECTOR", "patterns")
	// Registered so the value loaded from the file is cleared afterwards.
	t.Setenv("OLLAMA_MODEL", "")
	os.Unsetenv("OLLAMA_MODEL")

	loadDotEnv(path)
	cfg := defaults()
	loadEnv(cfg)

	if cfg.Detector != DetectorPatterns {
		t.Errorf("Detector: got %s, want patterns (environment wins)", cfg.Detector)
	}
	if cfg.Ollama.Model != "from-dotenv" {
		t.Errorf("Ollama.Model: got %s, want from-dotenv", cfg.Ollama.Model)
	}
}

func TestValidate_Errors(t *testing.T) {
	cfg := defaults()
	cfg.FailurePolicy = "sometimes"
	cfg.IdentityStrategy = "phonetic"
	cfg.Detector = "regex"
	cfg.LogLevel = "verbose"
	cfg.Workers = 0
	cfg.API.Port = 70000

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"sometimes", "phonetic", "regex", "verbose", "workers", "70000"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
}

func TestLoad_ReturnsNonNil(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg := Load("")
	if cfg == nil {
		t.Fatal("Load returned nil")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Load with no file should validate: %v", err)
	}
}
