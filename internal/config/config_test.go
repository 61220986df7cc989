package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	c := DefaultConfig()
	c.HTTPListen = "127.0.0.1:8080"
	return c
}

func TestDefaultConfigNeedsListener(t *testing.T) {
	assert.Error(t, DefaultConfig().Validate())
	assert.NoError(t, validConfig().Validate())
}

func TestLoadFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxytunnel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
proxy: http://proxy.example:3128
listen: 127.0.0.1:1143
target: imap.example.com:143
negotiationTimeout: 3s
replyLimit: 8192
logging:
  level: debug
`), 0o600))

	c := DefaultConfig()
	require.NoError(t, LoadFromFile(path, c))
	require.NoError(t, c.Validate())

	assert.Equal(t, "http://proxy.example:3128", c.Proxy)
	assert.Equal(t, "127.0.0.1:1143", c.Listen)
	assert.Equal(t, "imap.example.com:143", c.Target)
	assert.Equal(t, 3*time.Second, c.NegotiationTimeout)
	assert.Equal(t, 8192, c.ReplyLimit)
	assert.Equal(t, "debug", c.Logging.Level)

	// Unset keys keep their defaults.
	assert.Equal(t, 10*time.Second, c.DialTimeout)
	assert.Equal(t, 64*1024, c.QueueCapacity)
}

func TestLoadFromFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxytunnel.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"httpListen": ":8080", "queueCapacity": 1024}`), 0o600))

	c := DefaultConfig()
	require.NoError(t, LoadFromFile(path, c))
	assert.Equal(t, ":8080", c.HTTPListen)
	assert.Equal(t, 1024, c.QueueCapacity)
}

func TestLoadFromFileErrors(t *testing.T) {
	dir := t.TempDir()

	assert.Error(t, LoadFromFile(filepath.Join(dir, "missing.yaml"), DefaultConfig()))

	txt := filepath.Join(dir, "proxytunnel.txt")
	require.NoError(t, os.WriteFile(txt, []byte("proxy: direct://"), 0o600))
	assert.Error(t, LoadFromFile(txt, DefaultConfig()))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("replyLimit: [1, 2]"), 0o600))
	assert.Error(t, LoadFromFile(bad, DefaultConfig()))
}

func clearProxyEnv(t *testing.T) {
	for _, name := range []string{"HTTP_PROXY", "http_proxy", "ALL_PROXY", "all_proxy", "PROXYTUNNEL_PROXY"} {
		t.Setenv(name, "")
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearProxyEnv(t)
	t.Setenv("http_proxy", "proxy.example:8080")
	t.Setenv("ALL_PROXY", "http://other.example:3128")
	t.Setenv("PROXYTUNNEL_LISTEN", "127.0.0.1:1143")
	t.Setenv("PROXYTUNNEL_TARGET", "imap.example.com:imap2")
	t.Setenv("PROXYTUNNEL_DIAL_TIMEOUT", "2s")
	t.Setenv("PROXYTUNNEL_QUEUE_CAPACITY", "4096")

	c := DefaultConfig()
	require.NoError(t, LoadFromEnv(c))
	require.NoError(t, c.Validate())

	assert.Equal(t, "http://proxy.example:8080", c.Proxy)
	assert.Equal(t, "127.0.0.1:1143", c.Listen)
	assert.Equal(t, "imap.example.com:imap2", c.Target)
	assert.Equal(t, 2*time.Second, c.DialTimeout)
	assert.Equal(t, 4096, c.QueueCapacity)
}

func TestLoadFromEnvOverride(t *testing.T) {
	clearProxyEnv(t)
	t.Setenv("HTTP_PROXY", "http://proxy.example:8080")
	t.Setenv("PROXYTUNNEL_PROXY", "direct://")

	c := DefaultConfig()
	require.NoError(t, LoadFromEnv(c))
	assert.Equal(t, "direct://", c.Proxy)
}

func TestLoadFromEnvInvalid(t *testing.T) {
	clearProxyEnv(t)
	t.Setenv("PROXYTUNNEL_NEGOTIATION_TIMEOUT", "soon")
	t.Setenv("PROXYTUNNEL_REPLY_LIMIT", "big")

	c := DefaultConfig()
	err := LoadFromEnv(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROXYTUNNEL_NEGOTIATION_TIMEOUT")
	assert.Contains(t, err.Error(), "PROXYTUNNEL_REPLY_LIMIT")
	assert.Equal(t, 4096, c.ReplyLimit)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"socks proxy", func(c *Config) { c.Proxy = "socks5://proxy.example:1080" }},
		{"bare proxy", func(c *Config) { c.Proxy = "proxy.example:3128" }},
		{"listen without target", func(c *Config) { c.Listen = "127.0.0.1:1143" }},
		{"target without listen", func(c *Config) { c.Target = "imap.example.com:143" }},
		{"negative dial timeout", func(c *Config) { c.DialTimeout = -time.Second }},
		{"zero reply limit", func(c *Config) { c.ReplyLimit = 0 }},
		{"zero queue capacity", func(c *Config) { c.QueueCapacity = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.modify(c)
			assert.Error(t, c.Validate())
		})
	}
}
