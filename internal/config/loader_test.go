package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

var schedulerEnv = []string{
	"SCHEDULER_HTTP_PORT",
	"SCHEDULER_STORAGE",
	"SCHEDULER_SQLITE_DSN",
	"SCHEDULER_DATABASE_URL",
	"SCHEDULER_POLICY_FILE",
	"SCHEDULER_LOG_LEVEL",
	"SCHEDULER_LOG_FORMAT",
	"SCHEDULER_EVENT_BUFFER",
	"SCHEDULER_LOCK_TIMEOUT",
	"SCHEDULER_SESSION_TTL",
	"SCHEDULER_NARRATOR",
	"SCHEDULER_NARRATOR_MODEL",
	"SCHEDULER_NARRATOR_TIMEOUT",
	"ANTHROPIC_API_KEY",
	"OPENAI_API_KEY",
}

// clearEnv registers the variables with t.Setenv so they are restored, then unsets them.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range schedulerEnv {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("failed to unset %s: %v", key, err)
		}
	}
}

func TestLoader_ParseEnvironment(t *testing.T) {

	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		clearEnv(t)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.HTTPPort != 8080 {
			t.Fatalf("expected default HTTP port 8080, got %d", cfg.HTTPPort)
		}
		if cfg.Storage != StorageSQLite {
			t.Fatalf("expected sqlite storage, got %q", cfg.Storage)
		}
		if cfg.SQLiteDSN != "file:scheduler.db" {
			t.Fatalf("unexpected default DSN: %q", cfg.SQLiteDSN)
		}
		if cfg.EventBuffer != 64 {
			t.Fatalf("expected event buffer 64, got %d", cfg.EventBuffer)
		}
		if cfg.LockTimeout != 2*time.Second {
			t.Fatalf("expected lock timeout 2s, got %s", cfg.LockTimeout)
		}
		if cfg.Narrator != NarratorTemplate {
			t.Fatalf("expected template narrator, got %q", cfg.Narrator)
		}
		if cfg.LogLevel != slog.LevelInfo || cfg.LogFormat != LogFormatAuto {
			t.Fatalf("unexpected log settings: %s %s", cfg.LogLevel, cfg.LogFormat)
		}
	})

	t.Run("errors when postgres has no database url", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SCHEDULER_STORAGE", "postgres")

		_, err := Load()
		if err == nil {
			t.Fatalf("expected error when required values are missing")
		}
		expected := "必須の環境変数が設定されていません: SCHEDULER_DATABASE_URL"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})

	t.Run("errors when the chosen narrator has no key", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SCHEDULER_NARRATOR", "anthropic")

		_, err := Load()
		expected := "必須の環境変数が設定されていません: ANTHROPIC_API_KEY"
		if err == nil || err.Error() != expected {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("reports every invalid value", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SCHEDULER_HTTP_PORT", "eighty")
		t.Setenv("SCHEDULER_STORAGE", "mongodb")
		t.Setenv("SCHEDULER_LOCK_TIMEOUT", "-1s")
		t.Setenv("SCHEDULER_LOG_LEVEL", "loud")

		_, err := Load()
		expected := "環境変数の値が不正です: SCHEDULER_HTTP_PORT, SCHEDULER_STORAGE, SCHEDULER_LOG_LEVEL, SCHEDULER_LOCK_TIMEOUT"
		if err == nil || err.Error() != expected {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("parses duration and numeric fields", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SCHEDULER_HTTP_PORT", "9090")
		t.Setenv("SCHEDULER_STORAGE", "Postgres")
		t.Setenv("SCHEDULER_DATABASE_URL", "postgres://scheduler@localhost/scheduler")
		t.Setenv("SCHEDULER_SESSION_TTL", "1h")
		t.Setenv("SCHEDULER_EVENT_BUFFER", "16")
		t.Setenv("SCHEDULER_LOG_LEVEL", "debug")
		t.Setenv("SCHEDULER_LOG_FORMAT", "json")
		t.Setenv("SCHEDULER_NARRATOR", "openai")
		t.Setenv("SCHEDULER_NARRATOR_TIMEOUT", "500ms")
		t.Setenv("OPENAI_API_KEY", "sk-test")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.HTTPPort != 9090 {
			t.Fatalf("expected HTTP port 9090, got %d", cfg.HTTPPort)
		}
		if cfg.Storage != StoragePostgres {
			t.Fatalf("expected postgres storage, got %q", cfg.Storage)
		}
		if cfg.SessionTTL != time.Hour {
			t.Fatalf("expected session TTL 1h, got %s", cfg.SessionTTL)
		}
		if cfg.EventBuffer != 16 {
			t.Fatalf("expected event buffer 16, got %d", cfg.EventBuffer)
		}
		if cfg.LogLevel != slog.LevelDebug || cfg.LogFormat != LogFormatJSON {
			t.Fatalf("unexpected log settings: %s %s", cfg.LogLevel, cfg.LogFormat)
		}
		if cfg.NarratorTimeout != 500*time.Millisecond || cfg.OpenAIAPIKey != "sk-test" {
			t.Fatalf("unexpected narrator settings: %+v", cfg)
		}
	})
}
