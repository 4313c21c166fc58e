package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// Model provider configuration (OpenAI-compatible protocol).
	// All providers (openai, deepseek, openrouter, siliconflow, ollama) use the same config.
	LLMProvider string // Provider identifier
	LLMAPIKey   string // API key for the provider
	LLMBaseURL  string // Base URL (optional, has default per provider)
	LLMTimeout  int    // LLM request timeout in seconds (default: 120)

	// Title generation uses a cheap model; falls back to the main provider when unset.
	TitleModel string

	// Object storage (S3/MinIO) for managed file attachments.
	ObjectEndpoint  string
	ObjectAccessKey string
	ObjectSecretKey string
	ObjectBucket    string
	ObjectUseSSL    bool

	// Session token signing secret.
	Secret string

	Mode    string
	Addr    string
	Data    string
	Driver  string
	DSN     string
	Version string
	Port    int

	// TurnTimeout is the wall-clock budget for one generation turn, in seconds.
	TurnTimeout int
}

// Provider default base URLs, applied when LLM_BASE_URL is not explicitly set.
var llmProviderDefaults = map[string]string{
	"openai":      "https://api.openai.com/v1",
	"deepseek":    "https://api.deepseek.com",
	"openrouter":  "https://openrouter.ai/api/v1",
	"siliconflow": "https://api.siliconflow.cn/v1",
	"ollama":      "http://localhost:11434",
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsLLMEnabled returns true if a model provider API key is configured.
func (p *Profile) IsLLMEnabled() bool {
	return p.LLMAPIKey != ""
}

// IsObjectStoreEnabled returns true if managed object storage is configured.
func (p *Profile) IsObjectStoreEnabled() bool {
	return p.ObjectEndpoint != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("CHATLOOM_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("CHATLOOM_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("CHATLOOM_LLM_BASE_URL", "")
	p.LLMTimeout = getEnvOrDefaultInt("CHATLOOM_LLM_TIMEOUT_SECONDS", 120)
	p.TitleModel = getEnvOrDefault("CHATLOOM_TITLE_MODEL", "")

	if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
		// Unknown providers keep their explicit base URL; anything else is a config mistake.
		p.LLMProvider = "openai"
	}
	if p.LLMBaseURL == "" {
		p.LLMBaseURL = llmProviderDefaults[p.LLMProvider]
	}

	p.ObjectEndpoint = getEnvOrDefault("CHATLOOM_OBJECT_ENDPOINT", "")
	p.ObjectAccessKey = getEnvOrDefault("CHATLOOM_OBJECT_ACCESS_KEY", "")
	p.ObjectSecretKey = getEnvOrDefault("CHATLOOM_OBJECT_SECRET_KEY", "")
	p.ObjectBucket = getEnvOrDefault("CHATLOOM_OBJECT_BUCKET", "chatloom")
	p.ObjectUseSSL = getEnvOrDefault("CHATLOOM_OBJECT_USE_SSL", "false") == "true"

	p.Secret = getEnvOrDefault("CHATLOOM_SECRET", "")
	p.TurnTimeout = getEnvOrDefaultInt("CHATLOOM_TURN_TIMEOUT_SECONDS", 300)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies.
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "chatloom")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					return errors.Wrapf(err, "failed to create data directory %s", p.Data)
				}
			}
		} else {
			p.Data = "/var/opt/chatloom"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("chatloom_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn is required for postgres driver")
	}

	if p.Secret == "" {
		if p.Mode == "prod" {
			return errors.New("secret is required in prod mode")
		}
		p.Secret = "chatloom-dev-secret"
	}

	if p.TurnTimeout <= 0 {
		p.TurnTimeout = 300
	}

	return nil
}
