package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RecordsConfig(t *testing.T) {
	t.Setenv("RECORDS_BASE_URL", "http://records.test:9000/")
	t.Setenv("RECORDS_SWEEP_PAGE_SIZE", "250")
	t.Setenv("QUERY_DEBOUNCE", "150ms")

	cfg, err := Load()
	require.NoError(t, err)

	// Trailing slash is trimmed so paths can be appended
	assert.Equal(t, "http://records.test:9000", cfg.Records.BaseURL)
	assert.Equal(t, 250, cfg.Records.SweepPageSize)
	assert.Equal(t, 150*time.Millisecond, cfg.Query.Debounce)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Query.PageSize)
	assert.Equal(t, 300*time.Millisecond, cfg.Query.Debounce)
	assert.Equal(t, 5, cfg.Query.PageWindow)
	assert.Equal(t, "/api/patients", cfg.Records.PatientsPath)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.RedisAddr())
}

func TestLoad_RejectsInvalidPageSize(t *testing.T) {
	t.Setenv("QUERY_PAGE_SIZE", "0")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "QUERY_PAGE_SIZE")
}

func TestRecordsPath(t *testing.T) {
	cfg := RecordsConfig{
		PatientsPath:     "/p",
		AppointmentsPath: "/a",
		AssignmentsPath:  "/o",
	}

	path, ok := cfg.RecordsPath("assignments")
	assert.True(t, ok)
	assert.Equal(t, "/o", path)

	_, ok = cfg.RecordsPath("invoices")
	assert.False(t, ok)
}

func TestLoad_AllowedOrigins(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://ops.example.org, https://admin.example.org,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://ops.example.org", "https://admin.example.org"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.Server.SSEHeartbeat)
}

func TestEndpoints_SkipsBlankPaths(t *testing.T) {
	cfg := RecordsConfig{PatientsPath: "/p", AppointmentsPath: ""}

	assert.Equal(t, map[string]string{"patients": "/p"}, cfg.Endpoints())
}
