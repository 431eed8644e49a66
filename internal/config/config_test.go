package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "brokergate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
environment: production
log_level: warn
server:
  addr: ":9090"
  shutdown_timeout: 20s
market:
  session_cache_ttl: 45s
  timezone: Asia/Seoul
providers:
  kis:
    environment: production
    timeout: 5s
    retry_attempts: 2
    credentials:
      app_key: key
      app_secret: secret
    endpoints:
      rest: https://openapi.koreainvestment.com:9443
      stream: ws://ops.koreainvestment.com:21000
feed:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
  topic: regulatory-updates
  group_id: brokergate
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 20*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 45*time.Second, cfg.Market.SessionCacheTTL)

	require.Contains(t, cfg.Providers, "kis")
	kis := cfg.Providers["kis"]
	assert.Equal(t, 5*time.Second, kis.Timeout)
	assert.Equal(t, 2, kis.RetryAttempts)
	assert.Equal(t, "key", kis.Credentials["app_key"])

	require.NotNil(t, cfg.Feed)
	assert.Equal(t, "regulatory-updates", cfg.Feed.Topic)
}

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err) // explicit path must exist

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "Asia/Seoul", cfg.Market.Timezone)
	assert.Nil(t, cfg.Feed)
}

func TestLoad_RejectsBadEnvironment(t *testing.T) {
	path := writeConfig(t, `
environment: staging
log_level: info
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoad_RejectsBrokenProvider(t *testing.T) {
	path := writeConfig(t, `
environment: development
log_level: info
providers:
  kis:
    environment: production
    endpoints:
      rest: https://example.com
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `provider config "kis"`)
}

func TestLoad_RejectsBadTimezone(t *testing.T) {
	path := writeConfig(t, `
environment: development
log_level: info
market:
  timezone: Mars/Olympus
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timezone")
}

func TestLoad_RejectsPartialFeed(t *testing.T) {
	path := writeConfig(t, `
environment: development
log_level: info
feed:
  topic: regulatory-updates
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed")
}
