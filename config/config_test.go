package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const minimalConfig = `{
	"service": {"name": "modelmon", "project": "proj"},
	"tsdb": {"dataPath": "/tmp/tsdb", "engine": {"type": "badger"}},
	"api": {"port": 8080}
}`

func TestLoadConfigMinimal(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, "proj", cfg.Service.Project)
	assert.Equal(t, "badger", cfg.TSDB.Engine.Type)
	require.NotNil(t, cfg.TSDB.Engine.BadgerConfig)
	assert.Nil(t, cfg.TSDB.Engine.FrostDBConfig)
}

func TestEngineConfigDispatch(t *testing.T) {
	var ec EngineConfig
	require.NoError(t, json.Unmarshal([]byte(`{"type": "frostdb", "batchSize": 500, "walEnabled": true}`), &ec))
	assert.Equal(t, "frostdb", ec.Type)
	require.NotNil(t, ec.FrostDBConfig)
	assert.Equal(t, 500, ec.FrostDBConfig.BatchSize)
	assert.True(t, ec.FrostDBConfig.WALEnabled)
	assert.Nil(t, ec.BadgerConfig)

	require.NoError(t, json.Unmarshal([]byte(`{"type": "prometheus", "retentionPeriod": "30d"}`), &ec))
	require.NotNil(t, ec.PrometheusConfig)
	assert.Equal(t, "30d", ec.PrometheusConfig.RetentionPeriod)
}

func TestEngineConfigMarshalRoundTrip(t *testing.T) {
	original := &EngineConfig{
		Type:          "frostdb",
		FrostDBConfig: &FrostDBConfig{BatchSize: 250, FlushInterval: "1m"},
	}

	raw, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded EngineConfig
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, original.Type, decoded.Type)
	require.NotNil(t, decoded.FrostDBConfig)
	assert.Equal(t, 250, decoded.FrostDBConfig.BatchSize)
	assert.Equal(t, "1m", decoded.FrostDBConfig.FlushInterval)
}

func TestValidateConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing service name", `{
			"service": {"project": "p"},
			"tsdb": {"dataPath": "/tmp", "engine": {"type": "badger"}},
			"api": {"port": 8080}
		}`},
		{"missing project", `{
			"service": {"name": "n"},
			"tsdb": {"dataPath": "/tmp", "engine": {"type": "badger"}},
			"api": {"port": 8080}
		}`},
		{"unknown engine", `{
			"service": {"name": "n", "project": "p"},
			"tsdb": {"dataPath": "/tmp", "engine": {"type": "influx"}},
			"api": {"port": 8080}
		}`},
		{"missing engine", `{
			"service": {"name": "n", "project": "p"},
			"tsdb": {"dataPath": "/tmp"},
			"api": {"port": 8080}
		}`},
		{"bad port", `{
			"service": {"name": "n", "project": "p"},
			"tsdb": {"dataPath": "/tmp", "engine": {"type": "badger"}},
			"api": {"port": 123456}
		}`},
		{"registry driver without dsn", `{
			"service": {"name": "n", "project": "p"},
			"tsdb": {"dataPath": "/tmp", "engine": {"type": "badger"}},
			"registry": {"driver": "sqlite"},
			"api": {"port": 8080}
		}`},
		{"bad alert condition", `{
			"service": {"name": "n", "project": "p"},
			"tsdb": {"dataPath": "/tmp", "engine": {"type": "badger"}},
			"api": {"port": 8080},
			"alerts": {"rules": [{"name": "r", "table": "metrics", "condition": "sideways"}]}
		}`},
		{"email enabled without server", `{
			"service": {"name": "n", "project": "p"},
			"tsdb": {"dataPath": "/tmp", "engine": {"type": "badger"}},
			"api": {"port": 8080},
			"alerts": {"email": {"enabled": true}}
		}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("30d")
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, d)

	d, err = ParseDuration("90m")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)

	_, err = ParseDuration("soon")
	assert.Error(t, err)
}
