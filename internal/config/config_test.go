package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv("DUNGEON_CONFIG", "")
	t.Setenv("DUNGEON_REST_PORT", "")
	t.Setenv("DUNGEON_STORAGE", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8088, cfg.Server.GetRESTPort())
	assert.Equal(t, BackendMemory, cfg.Storage.GetBackend())
	assert.Equal(t, "First", cfg.Dungeon.GetStartTemplate())
	assert.True(t, cfg.Dungeon.GetSeedTemplates())
	assert.False(t, cfg.Cache.GetEnabled())
	assert.Equal(t, 10*time.Minute, cfg.Cache.GetTTL())
}

func TestEnvFallback(t *testing.T) {
	t.Setenv("DUNGEON_REST_PORT", "9090")
	t.Setenv("DUNGEON_STORAGE", "badger")
	t.Setenv("DUNGEON_CACHE", "true")
	t.Setenv("DUNGEON_JWT_SECRET", "c2VjcmV0")

	cfg := &Config{}
	assert.Equal(t, 9090, cfg.Server.GetRESTPort())
	assert.Equal(t, BackendBadger, cfg.Storage.GetBackend())
	assert.True(t, cfg.Cache.GetEnabled())

	key, err := cfg.Auth.GetJWTSecret()
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), key)

	t.Setenv("DUNGEON_JWT_SECRET", "%%%")
	_, err = cfg.Auth.GetJWTSecret()
	assert.Error(t, err)
}

func TestLoadFileOverridesEnv(t *testing.T) {
	t.Setenv("DUNGEON_REST_PORT", "9090")
	path := filepath.Join(t.TempDir(), "dungeon.yaml")
	data := []byte(`
server:
  rest_port: 7000
storage:
  backend: mongo
  mongo_database: test
  use_transactions: true
dungeon:
  start_template: Hub
  seed_templates: false
  seed: 7
  link_retries: 5
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.GetRESTPort())
	assert.Equal(t, BackendMongo, cfg.Storage.GetBackend())
	assert.Equal(t, "test", cfg.Storage.GetMongoDatabase())
	assert.True(t, cfg.Storage.GetUseTransactions())
	assert.Equal(t, "Hub", cfg.Dungeon.GetStartTemplate())
	assert.False(t, cfg.Dungeon.GetSeedTemplates())
	assert.Equal(t, int64(7), cfg.Dungeon.GetSeed())
	assert.Equal(t, 5, cfg.Dungeon.GetLinkRetries())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
