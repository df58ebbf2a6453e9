package forgeauth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("FORGEAUTH_CLIENT_ID", "env-id")
	t.Setenv("FORGEAUTH_CLIENT_SECRET", "env-secret")
	t.Setenv("FORGEAUTH_TOKEN_URL", "https://auth.example.com/token")

	cfg, err := LoadConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "env-id", cfg.ClientID)
	assert.Equal(t, "env-secret", cfg.ClientSecret)
	assert.Equal(t, "https://auth.example.com/token", cfg.TokenURL)
}

func TestLoadConfigEmptyEnvironment(t *testing.T) {
	t.Setenv("FORGEAUTH_CLIENT_ID", "")
	t.Setenv("FORGEAUTH_CLIENT_SECRET", "")
	t.Setenv("FORGEAUTH_TOKEN_URL", "")

	// Nothing is required at load time; missing credentials surface when the
	// first acquisition is attempted.
	cfg, err := LoadConfig(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cfg.ClientID)
	assert.Empty(t, cfg.ClientSecret)
	assert.Empty(t, cfg.TokenURL)
}
