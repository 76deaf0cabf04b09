package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("NATS_SUBJECT", "")
	t.Setenv("MAX_MESSAGES", "")
	t.Setenv("STORE_DRIVER", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 8081, cfg.RPCPort)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, 15, cfg.MaxMessages)
	assert.Equal(t, 2000, cfg.MaxTextLength)
	assert.Equal(t, 3, cfg.MaxPairingAttempts)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, "agentmatch.feed.completed", cfg.NATSSubject)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentmatch.toml")
	content := `
http_port = 9000
store_driver = "bolt"
bolt_path = "/tmp/x.bolt"
max_messages = 30
nats_url = "nats://broker:4222"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MAX_MESSAGES", "")
	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("NATS_URL", "")
	t.Setenv("NATS_SUBJECT", "feed.test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.HTTPPort, "env overrides file")
	assert.Equal(t, "bolt", cfg.StoreDriver)
	assert.Equal(t, "/tmp/x.bolt", cfg.BoltPath)
	assert.Equal(t, 30, cfg.MaxMessages)
	assert.Equal(t, "nats://broker:4222", cfg.NATSURL)
	assert.Equal(t, "feed.test", cfg.NATSSubject)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORE_DRIVER", "postgres")

	_, err := Load()
	assert.Error(t, err)
}

func TestGetEnvIntIgnoresGarbage(t *testing.T) {
	t.Setenv("AGENTMATCH_TEST_INT", "abc")
	assert.Equal(t, 7, getEnvInt("AGENTMATCH_TEST_INT", 7))
}
