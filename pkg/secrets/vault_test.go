package secrets_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/clinicopsdashboard/pkg/retry"
	"github.com/zatekoja/clinicopsdashboard/pkg/secrets"
)

func vaultConfig(addr string) secrets.VaultConfig {
	return secrets.VaultConfig{
		Enabled:   true,
		Addr:      addr,
		Token:     "root",
		Mount:     "secret",
		Path:      "clinicops/dashboard",
		KVVersion: 2,
		Timeout:   time.Second,
		Retry:     retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2},
	}
}

func TestApplyVaultSecrets_Disabled(t *testing.T) {
	result, err := secrets.ApplyVaultSecrets(context.Background(), secrets.VaultConfig{})

	require.NoError(t, err)
	assert.False(t, result.Enabled)
	assert.Zero(t, result.Loaded)
}

func TestApplyVaultSecrets_Incomplete(t *testing.T) {
	_, err := secrets.ApplyVaultSecrets(context.Background(), secrets.VaultConfig{Enabled: true, Addr: "http://vault"})

	assert.ErrorContains(t, err, "incomplete")
}

func TestApplyVaultSecrets_KVv2(t *testing.T) {
	// Arrange
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/secret/data/clinicops/dashboard", r.URL.Path)
		assert.Equal(t, "root", r.Header.Get("X-Vault-Token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"data":{"RECORDS_API_TOKEN":"s3cret","REDIS_DB":2,"REDIS_ENABLED":true,"REDIS_PASSWORD":"keep"}}}`))
	}))
	defer server.Close()
	t.Setenv("RECORDS_API_TOKEN", "")
	t.Setenv("REDIS_DB", "")
	t.Setenv("REDIS_ENABLED", "")
	t.Setenv("REDIS_PASSWORD", "local")

	// Act
	result, err := secrets.ApplyVaultSecrets(context.Background(), vaultConfig(server.URL))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 3, result.Loaded)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, "s3cret", os.Getenv("RECORDS_API_TOKEN"))
	assert.Equal(t, "2", os.Getenv("REDIS_DB"))
	assert.Equal(t, "true", os.Getenv("REDIS_ENABLED"))
	assert.Equal(t, "local", os.Getenv("REDIS_PASSWORD"))
}

func TestApplyVaultSecrets_KVv1Overwrite(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/kv/clinicops/dashboard", r.URL.Path)
		assert.Equal(t, "clinic", r.Header.Get("X-Vault-Namespace"))
		_, _ = w.Write([]byte(`{"data":{"REDIS_PASSWORD":"from-vault"}}`))
	}))
	defer server.Close()
	t.Setenv("REDIS_PASSWORD", "local")

	cfg := vaultConfig(server.URL)
	cfg.Mount = "/kv/"
	cfg.KVVersion = 1
	cfg.Namespace = "clinic"
	cfg.Overwrite = true

	result, err := secrets.ApplyVaultSecrets(context.Background(), cfg)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Loaded)
	assert.Equal(t, "from-vault", os.Getenv("REDIS_PASSWORD"))
}

func TestApplyVaultSecrets_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"data":{"RECORDS_API_TOKEN":"later"}}}`))
	}))
	defer server.Close()
	t.Setenv("RECORDS_API_TOKEN", "")

	_, err := secrets.ApplyVaultSecrets(context.Background(), vaultConfig(server.URL))

	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "later", os.Getenv("RECORDS_API_TOKEN"))
}

func TestApplyVaultSecrets_ForbiddenIsFinal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "permission denied", http.StatusForbidden)
	}))
	defer server.Close()

	_, err := secrets.ApplyVaultSecrets(context.Background(), vaultConfig(server.URL))

	assert.ErrorContains(t, err, "403")
	assert.Equal(t, int32(1), calls.Load())
}

func TestApplyVaultSecrets_MalformedIsFinal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"data":{"metadata":{}}}`))
	}))
	defer server.Close()

	_, err := secrets.ApplyVaultSecrets(context.Background(), vaultConfig(server.URL))

	assert.ErrorContains(t, err, "malformed")
	assert.Equal(t, int32(1), calls.Load())
}

func TestLoadVaultConfigFromEnv(t *testing.T) {
	t.Setenv("VAULT_ENABLED", "TRUE")
	t.Setenv("VAULT_ADDR", "http://vault:8200")
	t.Setenv("VAULT_PATH", "from-env")
	t.Setenv("VAULT_MOUNT", "")
	t.Setenv("VAULT_KV_VERSION", "1")
	t.Setenv("VAULT_TIMEOUT_MS", "250")

	cfg := secrets.LoadVaultConfigFromEnv("override")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "override", cfg.Path)
	assert.Equal(t, "secret", cfg.Mount)
	assert.Equal(t, 1, cfg.KVVersion)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
}
