package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends selectable with SCHEDULER_STORAGE.
const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Narrators selectable with SCHEDULER_NARRATOR.
const (
	NarratorTemplate  = "template"
	NarratorAnthropic = "anthropic"
	NarratorOpenAI    = "openai"
)

// Log formats selectable with SCHEDULER_LOG_FORMAT.
const (
	LogFormatAuto = "auto"
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config captures environment driven configuration values for the scheduler service.
type Config struct {
	HTTPPort    int
	Storage     string
	SQLiteDSN   string
	DatabaseURL string
	PolicyFile  string

	LogLevel  slog.Level
	LogFormat string

	EventBuffer int
	LockTimeout time.Duration
	SessionTTL  time.Duration

	Narrator        string
	NarratorModel   string
	NarratorTimeout time.Duration
	AnthropicAPIKey string
	OpenAIAPIKey    string
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	return Config{
		HTTPPort:        8080,
		Storage:         StorageSQLite,
		SQLiteDSN:       "file:scheduler.db",
		LogLevel:        slog.LevelInfo,
		LogFormat:       LogFormatAuto,
		EventBuffer:     64,
		LockTimeout:     2 * time.Second,
		SessionTTL:      30 * time.Minute,
		Narrator:        NarratorTemplate,
		NarratorTimeout: 3 * time.Second,
	}
}

// Load parses configuration values from the current process environment.
//
// The loader applies sensible defaults for optional fields while validating
// required values and reporting localized error messages for missing entries.
func Load() (Config, error) {
	cfg := Default()

	missing := make([]string, 0, 2)
	invalid := make([]string, 0, 4)

	positiveInt := func(key string, target *int) {
		value := strings.TrimSpace(os.Getenv(key))
		if value == "" {
			return
		}
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			invalid = append(invalid, key)
			return
		}
		*target = n
	}
	positiveDuration := func(key string, target *time.Duration) {
		value := strings.TrimSpace(os.Getenv(key))
		if value == "" {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			invalid = append(invalid, key)
			return
		}
		*target = d
	}
	oneOf := func(key string, target *string, allowed ...string) {
		value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
		if value == "" {
			return
		}
		for _, candidate := range allowed {
			if value == candidate {
				*target = value
				return
			}
		}
		invalid = append(invalid, key)
	}

	positiveInt("SCHEDULER_HTTP_PORT", &cfg.HTTPPort)
	oneOf("SCHEDULER_STORAGE", &cfg.Storage, StorageSQLite, StoragePostgres, StorageMemory)

	if dsn := strings.TrimSpace(os.Getenv("SCHEDULER_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("SCHEDULER_DATABASE_URL"))
	if cfg.Storage == StoragePostgres && cfg.DatabaseURL == "" {
		missing = append(missing, "SCHEDULER_DATABASE_URL")
	}
	cfg.PolicyFile = strings.TrimSpace(os.Getenv("SCHEDULER_POLICY_FILE"))

	if levelValue := strings.TrimSpace(os.Getenv("SCHEDULER_LOG_LEVEL")); levelValue != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(levelValue)); err != nil {
			invalid = append(invalid, "SCHEDULER_LOG_LEVEL")
		}
	}
	oneOf("SCHEDULER_LOG_FORMAT", &cfg.LogFormat, LogFormatAuto, LogFormatJSON, LogFormatText)

	positiveInt("SCHEDULER_EVENT_BUFFER", &cfg.EventBuffer)
	positiveDuration("SCHEDULER_LOCK_TIMEOUT", &cfg.LockTimeout)
	positiveDuration("SCHEDULER_SESSION_TTL", &cfg.SessionTTL)

	oneOf("SCHEDULER_NARRATOR", &cfg.Narrator, NarratorTemplate, NarratorAnthropic, NarratorOpenAI)
	cfg.NarratorModel = strings.TrimSpace(os.Getenv("SCHEDULER_NARRATOR_MODEL"))
	positiveDuration("SCHEDULER_NARRATOR_TIMEOUT", &cfg.NarratorTimeout)

	cfg.AnthropicAPIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	cfg.OpenAIAPIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	switch {
	case cfg.Narrator == NarratorAnthropic && cfg.AnthropicAPIKey == "":
		missing = append(missing, "ANTHROPIC_API_KEY")
	case cfg.Narrator == NarratorOpenAI && cfg.OpenAIAPIKey == "":
		missing = append(missing, "OPENAI_API_KEY")
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("必須の環境変数が設定されていません: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}
