package internal_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-rps-arena/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearConfigEnv 避免執行環境的變數影響測試
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PORT", "DATABASE_URL", "REDIS_ADDR", "NATS_URL", "FRONTEND_URL"} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestLoadConfig_Defaults 配置檔不存在時使用預設值
func TestLoadConfig_Defaults(t *testing.T) {
	clearConfigEnv(t)

	config, err := internal.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 5000, config.Server.Port)
	assert.Equal(t, 4*time.Second, config.Game.RoundTimeout)
	assert.Equal(t, 2*time.Second, config.Game.Intermission)
	assert.Equal(t, time.Hour, config.Game.RoomTTL)
	assert.Equal(t, 10*time.Minute, config.Game.SweepInterval)
	assert.Equal(t, "info", config.Log.Level)
	assert.False(t, config.PostgresEnabled())
	assert.Empty(t, config.Redis.Addr)
	assert.Empty(t, config.NATS.URL)

	assert.Equal(t, internal.DefaultManagerConfig(), config.ManagerConfig())
	assert.Equal(t, internal.DefaultGameConfig(), config.GameConfig())
}

// TestLoadConfig_File 測試讀取 YAML 配置
func TestLoadConfig_File(t *testing.T) {
	clearConfigEnv(t)

	path := writeConfig(t, `
server:
  port: 8080
  allowed_origins:
    - https://rps.example.com
postgres:
  host: db
  user: rps
  password: secret
  dbname: arena
redis:
  addr: redis:6379
game:
  round_timeout: 3s
  intermission: 1500ms
  room_ttl: 30m
log:
  level: debug
  format: json
`)

	config, err := internal.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, []string{"https://rps.example.com"}, config.Server.AllowedOrigins)
	assert.Equal(t, 15*time.Second, config.Server.ReadTimeout, "unset keys keep defaults")
	assert.True(t, config.PostgresEnabled())
	assert.Equal(t, "postgres://rps:secret@db:5432/arena?sslmode=disable", config.PostgresDSN())
	assert.Equal(t, "redis:6379", config.Redis.Addr)
	assert.Equal(t, 3*time.Second, config.GameConfig().RoundTimeout)
	assert.Equal(t, 1500*time.Millisecond, config.GameConfig().Intermission)
	assert.Equal(t, 30*time.Minute, config.ManagerConfig().RoomTTL)
	assert.Equal(t, "json", config.Log.Format)
}

// TestLoadConfig_Env 環境變數優先於配置檔
func TestLoadConfig_Env(t *testing.T) {
	clearConfigEnv(t)

	path := writeConfig(t, `
server:
  port: 8080
  allowed_origins:
    - https://rps.example.com
`)

	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://u:p@remote:5432/rps")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("NATS_URL", "nats://bus:4222")
	t.Setenv("FRONTEND_URL", "https://a.example.com, https://b.example.com,")

	config, err := internal.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, config.Server.Port)
	assert.True(t, config.PostgresEnabled())
	assert.Equal(t, "postgres://u:p@remote:5432/rps", config.PostgresDSN())
	assert.Equal(t, "cache:6379", config.Redis.Addr)
	assert.Equal(t, "nats://bus:4222", config.NATS.URL)
	assert.Equal(t, []string{
		"https://rps.example.com",
		"https://a.example.com",
		"https://b.example.com",
	}, config.Server.AllowedOrigins)
}

// TestLoadConfig_Errors 測試無效配置
func TestLoadConfig_Errors(t *testing.T) {
	t.Run("invalid yaml", func(t *testing.T) {
		clearConfigEnv(t)
		path := writeConfig(t, "server: [unclosed")

		_, err := internal.LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("invalid duration", func(t *testing.T) {
		clearConfigEnv(t)
		path := writeConfig(t, "game:\n  round_timeout: soon\n")

		_, err := internal.LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("invalid PORT", func(t *testing.T) {
		clearConfigEnv(t)
		t.Setenv("PORT", "eighty")

		_, err := internal.LoadConfig("")
		assert.ErrorContains(t, err, "PORT")
	})
}
