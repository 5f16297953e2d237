package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		backend:      backendMemory,
		bind:         "127.0.0.1",
		commandBurst: 5,
		commandRate:  1,
		pollInterval: 5 * time.Second,
		port:         8080,
		roomTimeout:  time.Hour,
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validConfig().validate())

	cases := map[string]func(*Config){
		"tls cert without key": func(c *Config) { c.tlsCert = "cert.pem" },
		"port too low":         func(c *Config) { c.port = 0 },
		"port too high":        func(c *Config) { c.port = 70000 },
		"zero poll interval":   func(c *Config) { c.pollInterval = 0 },
		"zero command rate":    func(c *Config) { c.commandRate = 0 },
		"zero command burst":   func(c *Config) { c.commandBurst = 0 },
		"unknown backend":      func(c *Config) { c.backend = "etcd" },
		"sqlite without path":  func(c *Config) { c.backend = backendSQLite },
		"firestore no project": func(c *Config) { c.backend = backendFirestore },
		"postgres without url": func(c *Config) { c.backend = backendPostgres },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func TestConfigScheme(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "http", cfg.scheme())

	cfg.tlsCert, cfg.tlsKey = "cert.pem", "key.pem"
	assert.Equal(t, "https", cfg.scheme())
}

func TestFlagDefaults(t *testing.T) {
	cfg := &Config{}
	_ = newCmd(cfg)

	assert.Equal(t, backendMemory, cfg.backend)
	assert.Equal(t, 8080, cfg.port)
	assert.Equal(t, 60*time.Minute, cfg.roomTimeout)
	assert.Equal(t, 5*time.Second, cfg.pollInterval)
	assert.Equal(t, "rooms", cfg.firestoreCollection)
	assert.NoError(t, cfg.validate())
}

func TestFlagsFromEnvironment(t *testing.T) {
	t.Setenv("SANTABOX_BACKEND", "sqlite")
	t.Setenv("SANTABOX_SQLITE_PATH", "/tmp/rooms.db")
	t.Setenv("SANTABOX_POLL_INTERVAL", "30s")
	t.Setenv("SANTABOX_PORT", "9090")

	cfg := &Config{}
	_ = newCmd(cfg)

	assert.Equal(t, backendSQLite, cfg.backend)
	assert.Equal(t, "/tmp/rooms.db", cfg.sqlitePath)
	assert.Equal(t, 30*time.Second, cfg.pollInterval)
	assert.Equal(t, 9090, cfg.port)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("SANTABOX_PORT", "9090")

	cfg := &Config{}
	cmd := newCmd(cfg)
	require.NoError(t, cmd.ParseFlags([]string{"--port", "7070", "--backend", "broker"}))

	assert.Equal(t, 7070, cfg.port)
	assert.Equal(t, backendBroker, cfg.backend)
}
