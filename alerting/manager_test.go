package alerting

import (
	"context"
	"testing"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelmon/config"
	"modelmon/monitoring"
	"modelmon/tsdb"
)

func openConnector(t *testing.T) tsdb.Connector {
	t.Helper()
	conn, err := tsdb.Open(config.TSDBConfig{
		DataPath: t.TempDir(),
		Engine:   &config.EngineConfig{Type: "badger"},
	}, "proj", kitlog.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestParseRules(t *testing.T) {
	conn := openConnector(t)

	m, err := NewManager(config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "drift", Table: "app_results", Window: "10m", Threshold: 0.7, Condition: "above", Severity: "critical"},
	}}, conn, kitlog.NewNopLogger())
	require.NoError(t, err)
	require.Len(t, m.rules, 1)
	assert.Equal(t, 10*time.Minute, m.rules[0].window)

	_, err = NewManager(config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "bad", Table: "no_such_table", Condition: "above"},
	}}, conn, kitlog.NewNopLogger())
	assert.Error(t, err)

	_, err = NewManager(config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "bad", Table: "metrics", Condition: "sideways"},
	}}, conn, kitlog.NewNopLogger())
	assert.Error(t, err)

	_, err = NewManager(config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "bad", Table: "metrics", Window: "whenever", Condition: "above"},
	}}, conn, kitlog.NewNopLogger())
	assert.Error(t, err)
}

func TestEvaluateRule(t *testing.T) {
	conn := openConnector(t)

	event := monitoring.AppEvent{
		EndpointID:  "ep-1",
		Application: "drift-app",
		Name:        "kl-divergence",
		Timestamp:   time.Now().UTC(),
		Value:       0.9,
	}
	require.NoError(t, conn.WriteApplicationEvent(context.Background(), event, monitoring.WriterEventResult))

	m, err := NewManager(config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "drift-high", Table: "app_results", Window: "1h", Threshold: 0.7, Condition: "above", Severity: "critical"},
		{Name: "drift-low", Table: "app_results", Window: "1h", Threshold: 0.95, Condition: "above", Severity: "warning"},
		{Name: "drift-floor", Table: "app_results", Window: "1h", Threshold: 0.95, Condition: "below", Severity: "info"},
	}}, conn, kitlog.NewNopLogger())
	require.NoError(t, err)

	triggered, details, err := m.evaluateRule(m.rules[0])
	require.NoError(t, err)
	assert.True(t, triggered)
	assert.Contains(t, details, "above threshold")

	triggered, _, err = m.evaluateRule(m.rules[1])
	require.NoError(t, err)
	assert.False(t, triggered)

	triggered, _, err = m.evaluateRule(m.rules[2])
	require.NoError(t, err)
	assert.True(t, triggered)
}

func TestEvaluateRuleEmptyWindow(t *testing.T) {
	conn := openConnector(t)

	m, err := NewManager(config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "quiet", Table: "metrics", Window: "5m", Threshold: 1, Condition: "above", Severity: "info"},
	}}, conn, kitlog.NewNopLogger())
	require.NoError(t, err)

	triggered, _, err := m.evaluateRule(m.rules[0])
	require.NoError(t, err)
	assert.False(t, triggered)
}

func TestFiringEdge(t *testing.T) {
	conn := openConnector(t)

	event := monitoring.AppEvent{
		EndpointID:  "ep-1",
		Application: "drift-app",
		Name:        "kl-divergence",
		Timestamp:   time.Now().UTC(),
		Value:       0.9,
	}
	require.NoError(t, conn.WriteApplicationEvent(context.Background(), event, monitoring.WriterEventResult))

	m, err := NewManager(config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "drift-high", Table: "app_results", Window: "1h", Threshold: 0.7, Condition: "above", Severity: "critical"},
	}}, conn, kitlog.NewNopLogger())
	require.NoError(t, err)

	// First evaluation fires the rule; a second evaluation while still
	// triggered stays active without re-firing.
	m.evaluateRules()
	assert.True(t, m.rules[0].active)
	firstFired := m.rules[0].lastFired

	m.evaluateRules()
	assert.True(t, m.rules[0].active)
	assert.Equal(t, firstFired, m.rules[0].lastFired)
}
