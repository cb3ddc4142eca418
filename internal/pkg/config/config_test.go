package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	assert.NilError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	assert.NilError(t, err)
	assert.Equal(t, cfg.Server.Port, "8080")
	assert.Equal(t, cfg.Solver.Tolerance, 1e-9)
	assert.Equal(t, cfg.Solver.Timeout.Duration, 30*time.Second)
	assert.Equal(t, cfg.Solver.MaxConcurrent, 4)
	assert.Equal(t, cfg.SQL.Driver, "mysql")
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `{
		"Server": {"Port": "9000", "AllowedOrigins": ["http://localhost:3000"]},
		"Solver": {"Tolerance": 1e-7, "Timeout": "5s"},
		"SQL": {"Enabled": true, "Driver": "postgres", "Server": "db", "Port": 5432, "Database": "grid"}
	}`)

	cfg, err := Load(path)
	assert.NilError(t, err)
	assert.Equal(t, cfg.Server.Port, "9000")
	assert.DeepEqual(t, cfg.Server.AllowedOrigins, []string{"http://localhost:3000"})
	assert.Equal(t, cfg.Solver.Tolerance, 1e-7)
	assert.Equal(t, cfg.Solver.Timeout.Duration, 5*time.Second)
	assert.Equal(t, cfg.SQL.Driver, "postgres")
	assert.Equal(t, cfg.SQL.Port, 5432)
	// untouched sections keep their defaults
	assert.Equal(t, cfg.Mongo.Collection, "solve_runs")
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{"Server": {"Port": "9000"}}`)
	t.Setenv("CGC_PORT", "9100")
	t.Setenv("CGC_DEBUG", "true")
	t.Setenv("CGC_SOLVER_TIMEOUT", "250ms")
	t.Setenv("CGC_ALLOWED_ORIGINS", "http://a,http://b")
	t.Setenv("CGC_MQTT_QOS", "1")
	t.Setenv("CGC_SOLVER_MAX_CONCURRENT", "2")

	cfg, err := Load(path)
	assert.NilError(t, err)
	assert.Equal(t, cfg.Server.Port, "9100")
	assert.Assert(t, cfg.Debug)
	assert.Equal(t, cfg.Solver.Timeout.Duration, 250*time.Millisecond)
	assert.DeepEqual(t, cfg.Server.AllowedOrigins, []string{"http://a", "http://b"})
	assert.Equal(t, cfg.MQTT.QoS, byte(1))
	assert.Equal(t, cfg.Solver.MaxConcurrent, 2)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.NilError(t, cfg.Validate())

	cfg.SQL.Enabled = true
	cfg.SQL.Driver = "sqlite"
	assert.ErrorContains(t, cfg.Validate(), `unknown sql driver "sqlite"`)

	cfg = Default()
	cfg.Solver.Tolerance = 0
	assert.ErrorContains(t, cfg.Validate(), "tolerance")

	cfg = Default()
	cfg.Solver.MaxConcurrent = 0
	assert.ErrorContains(t, cfg.Validate(), "max concurrent")

	cfg = Default()
	cfg.NATS.Enabled = true
	cfg.NATS.URL = ""
	assert.ErrorContains(t, cfg.Validate(), "nats")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Assert(t, os.IsNotExist(err))
}

func TestWebhookSettings(t *testing.T) {
	t.Setenv("CGC_WEBHOOK_ENABLED", "true")
	t.Setenv("CGC_WEBHOOK_URL", "http://hooks.local")

	cfg, err := Load("")
	assert.NilError(t, err)
	assert.Assert(t, cfg.Webhook.Enabled)
	assert.Equal(t, cfg.Webhook.URL, "http://hooks.local")
	assert.Equal(t, cfg.Webhook.Timeout.Duration, 5*time.Second)

	cfg.Webhook.URL = ""
	assert.ErrorContains(t, cfg.Validate(), "webhook")
}

func TestExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "..", "examples", "config.example.json"))
	assert.NilError(t, err)
	assert.Equal(t, cfg.SQL.Driver, "postgres")
	assert.Equal(t, cfg.MQTT.QoS, byte(1))
	assert.Equal(t, cfg.Webhook.Timeout.Duration, 5*time.Second)
}
