package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("POLICY_LEAD_CREATOR_ROLES", "")
	t.Setenv("INGEST_MIN_PHONE_DIGITS", "")
	t.Setenv("APP_ENV", "")
	t.Setenv("AUTH_JWT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Policy.LeaderSeesUnassigned)
	assert.Equal(t, []string{"admin"}, cfg.Policy.LeadCreatorRoles)
	assert.Equal(t, 10, cfg.Ingest.MinPhoneDigits)
	assert.Equal(t, 30*time.Second, cfg.Dashboard.CacheTTL())
	assert.Equal(t, "leads.events", cfg.Events.Exchange)
	assert.Equal(t, "dev-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 15*time.Second, cfg.Notification.SendTimeout())
	assert.Equal(t, 5*time.Second, cfg.Events.DialTimeout())
}

func TestLoadRequiresJWTSecretOutsideDevelopment(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")
	for _, env := range []string{"production", "staging"} {
		t.Setenv("APP_ENV", env)
		_, err := Load()
		assert.ErrorContains(t, err, "AUTH_JWT_SECRET", env)
	}

	t.Setenv("APP_ENV", "production")
	t.Setenv("AUTH_JWT_SECRET", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)

	t.Setenv("APP_ENV", "Test")
	t.Setenv("AUTH_JWT_SECRET", "")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "dev-secret", cfg.Auth.JWTSecret)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POLICY_LEADER_SEES_UNASSIGNED", "false")
	t.Setenv("POLICY_LEAD_CREATOR_ROLES", " Admin, leader ,")
	t.Setenv("INGEST_MAX_ROWS", "not-a-number")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("APP_ENV", "test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Policy.LeaderSeesUnassigned)
	assert.Equal(t, []string{"admin", "leader"}, cfg.Policy.LeadCreatorRoles)
	assert.Equal(t, 5000, cfg.Ingest.MaxRows)
	assert.Equal(t, "0.0.0.0:9090", cfg.App.Addr())
}

func TestLoadRejectsBadRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "x")
	t.Setenv("APP_ENV", "test")

	_, err := Load()
	assert.Error(t, err)
}
