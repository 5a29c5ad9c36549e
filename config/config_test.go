package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8192, cfg.JWT.MaxTokenBytes)
	assert.Equal(t, 60, cfg.JWT.ClockSkewSeconds)
	assert.Equal(t, 24, cfg.JWT.MaxAgeHours)
	assert.Equal(t, 100, cfg.Events.RateLimitPerSecond)
	assert.Equal(t, "app.current_tenant", cfg.Tenant.SessionVariable)
	assert.Equal(t, time.Minute, cfg.ClockSkew())
	assert.Equal(t, 24*time.Hour, cfg.MaxTokenAge())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("EAF_JWT_ISSUER", "https://keycloak.example.com/realms/eaf")
	t.Setenv("EAF_JWT_MAX_TOKEN_BYTES", "4096")
	t.Setenv("EAF_EVENTS_RATE_LIMIT_PER_SECOND", "25")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "https://keycloak.example.com/realms/eaf", cfg.JWT.Issuer)
	assert.Equal(t, 4096, cfg.JWT.MaxTokenBytes)
	assert.Equal(t, 25, cfg.Events.RateLimitPerSecond)
}
