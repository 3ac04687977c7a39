package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/negotiation-scheduler/internal/negotiation"
	"github.com/example/negotiation-scheduler/internal/persistence/sqlite"
)

// isolateEnv blanks every variable the config loader reads.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SCHEDULER_HTTP_PORT", "SCHEDULER_STORAGE", "SCHEDULER_SQLITE_DSN", "SCHEDULER_DATABASE_URL",
		"SCHEDULER_POLICY_FILE", "SCHEDULER_LOG_LEVEL", "SCHEDULER_LOG_FORMAT", "SCHEDULER_EVENT_BUFFER",
		"SCHEDULER_LOCK_TIMEOUT", "SCHEDULER_SESSION_TTL", "SCHEDULER_NARRATOR", "SCHEDULER_NARRATOR_MODEL",
		"SCHEDULER_NARRATOR_TIMEOUT", "ANTHROPIC_API_KEY", "OPENAI_API_KEY",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("SCHEDULER_LOG_LEVEL", "error")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func seededDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cli.db")
	out, err := execute(t, "seed", "--sqlite-dsn", path, "--day", "2025-10-21")
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 3 participants")
	return path
}

func designReview(path string, extra ...string) []string {
	args := []string{
		"--sqlite-dsn", path,
		"--title", "Design review",
		"--date", "2025-10-21",
		"--time", "09:00",
		"--duration", "30",
		"--participants", "alice,bob",
	}
	return append(args, extra...)
}

func TestNegotiateAndScheduleCommands(t *testing.T) {
	isolateEnv(t)
	path := seededDatabase(t)

	out, err := execute(t, append([]string{"negotiate"}, designReview(path, "-o", "json")...)...)
	require.NoError(t, err)

	var result negotiation.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.NotEmpty(t, result.SessionID)
	require.NotEmpty(t, result.Candidates)
	assert.True(t, result.Success)
	// Alice is in focus time at 09:00, so the requested slot cannot be offered first.
	assert.False(t, result.DirectlyBookable)
	assert.Equal(t, []string{"alice", "bob"}, result.Participants)

	out, err = execute(t, append([]string{"schedule"}, designReview(path, "--session", result.SessionID, "--slot", "0", "-o", "json")...)...)
	require.NoError(t, err)

	var scheduled negotiation.ScheduleResult
	require.NoError(t, json.Unmarshal([]byte(out), &scheduled))
	assert.Equal(t, negotiation.OutcomeScheduled, scheduled.Outcome)
	require.NotNil(t, scheduled.Meeting)
	assert.True(t, scheduled.Meeting.Start.Equal(result.Candidates[0].Start))

	out, err = execute(t, append([]string{"schedule"}, designReview(path, "--session", result.SessionID, "--slot", "0", "-o", "json")...)...)
	require.NoError(t, err)

	var replayed negotiation.ScheduleResult
	require.NoError(t, json.Unmarshal([]byte(out), &replayed))
	assert.Equal(t, negotiation.OutcomeAlreadyScheduled, replayed.Outcome)
	require.NotNil(t, replayed.Meeting)
	assert.Equal(t, scheduled.Meeting.ID, replayed.Meeting.ID)

	store, err := sqlite.Open(context.Background(), sqlite.TestConfig(path))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	// Each command resumes the session's sequence where the last one stopped.
	recorded, err := store.ListEvents(context.Background(), result.SessionID)
	require.NoError(t, err)
	require.NotEmpty(t, recorded)
	for i, record := range recorded {
		assert.Equal(t, uint64(i+1), record.Sequence)
	}
	assert.Equal(t, "RESULT", recorded[len(recorded)-1].Kind)
}

func TestNegotiateTableOutput(t *testing.T) {
	isolateEnv(t)
	path := seededDatabase(t)

	out, err := execute(t, append([]string{"negotiate"}, designReview(path, "--output", "table")...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Design review")
	assert.Contains(t, out, "EXPLANATION")
	assert.Contains(t, out, "session ")
}

func TestNegotiateRejectsInvalidRequest(t *testing.T) {
	isolateEnv(t)

	_, err := execute(t, "negotiate", "--storage", "memory",
		"--title", "Design review", "--date", "2025/10/21", "--time", "9am")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preferred_date: must use YYYY-MM-DD format")
	assert.Contains(t, err.Error(), "preferred_time: must use HH:MM format")
}

func TestScheduleRequiresSlot(t *testing.T) {
	isolateEnv(t)

	_, err := execute(t, "schedule", "--storage", "memory",
		"--title", "Design review", "--date", "2025-10-21", "--time", "09:00")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slot")
}

func TestGlobalFlagsOverrideEnvironment(t *testing.T) {
	isolateEnv(t)
	t.Setenv("SCHEDULER_STORAGE", "memory")

	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "memory storage is up to date\n", out)

	path := filepath.Join(t.TempDir(), "migrate.db")
	out, err = execute(t, "migrate", "--storage", "sqlite", "--sqlite-dsn", path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite storage is up to date\n", out)

	_, err = execute(t, "migrate", "--storage", "postgres")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCHEDULER_DATABASE_URL")

	_, err = execute(t, "migrate", "--storage", "cassandra")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--storage")

	_, err = execute(t, "migrate", "--log-level", "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--log-level")
}

func TestResolveOutput(t *testing.T) {
	var buf bytes.Buffer

	format, err := resolveOutput("auto", &buf)
	require.NoError(t, err)
	assert.Equal(t, outputJSON, format)

	format, err = resolveOutput("TABLE", &buf)
	require.NoError(t, err)
	assert.Equal(t, outputTable, format)

	_, err = resolveOutput("yaml", &buf)
	assert.Error(t, err)
}

func TestDescribeError(t *testing.T) {
	err := describeError(&negotiation.ValidationError{FieldErrors: map[string]string{
		"title":            "title is required",
		"duration_minutes": "duration must be positive",
	}})
	assert.EqualError(t, err, "invalid request: duration_minutes: duration must be positive; title: title is required")
}
