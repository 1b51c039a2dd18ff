package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupsync/internal/reconcile/models"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, models.PolicyProjectLevel, cfg.Policy())
	assert.Equal(t, "ldap_group", cfg.GroupAttributeName)
	assert.True(t, cfg.SignalsEnabled)
	assert.True(t, cfg.RemoveOnProjectArchive)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GROUPSYNC_SCOPING_POLICY", "allocation")
	t.Setenv("GROUPSYNC_BACKEND", "redis")
	t.Setenv("GROUPSYNC_SIGNALS_ENABLED", "false")
	t.Setenv("GROUPSYNC_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("GROUPSYNC_RETRY_MAX_ATTEMPTS", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, models.PolicyAllocationLevel, cfg.Policy())
	assert.Equal(t, BackendRedis, cfg.Backend)
	assert.False(t, cfg.SignalsEnabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5, cfg.RetryMaxAttempts)
}

func TestValidation(t *testing.T) {
	t.Run("unknown policy", func(t *testing.T) {
		t.Setenv("GROUPSYNC_SCOPING_POLICY", "cluster")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("GROUPSYNC_BACKEND", "ldap")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("grouper backend needs connection settings", func(t *testing.T) {
		t.Setenv("GROUPSYNC_BACKEND", "grouper")
		_, err := Load()
		require.Error(t, err)

		t.Setenv("GROUPSYNC_GROUPER_BASE_URL", "https://grouper.example.edu")
		t.Setenv("GROUPSYNC_GROUPER_SUBJECT", "groupsync-svc")
		t.Setenv("GROUPSYNC_GROUPER_SIGNING_KEY_PATH", "/etc/groupsync/key.pem")
		_, err = Load()
		require.NoError(t, err)
	})

	t.Run("retry attempts below one", func(t *testing.T) {
		t.Setenv("GROUPSYNC_RETRY_MAX_ATTEMPTS", "0")
		_, err := Load()
		require.Error(t, err)
	})
}
