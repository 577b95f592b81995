package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricFullNameRoundTrip(t *testing.T) {
	m := Metric{Project: "proj", App: "drift-app", Type: MetricTypeResult, Name: "kl-divergence"}
	assert.Equal(t, "proj.drift-app.result.kl-divergence", m.FullName())

	parsed, err := ParseFullName(m.FullName())
	require.NoError(t, err)
	assert.Equal(t, m, parsed)
}

func TestParseFullNameRejectsMalformed(t *testing.T) {
	for _, fqn := range []string{"", "a.b.c", "a.b.c.d.e", "proj.app.bogus.name"} {
		_, err := ParseFullName(fqn)
		assert.Error(t, err, "fqn %q", fqn)
	}
}

func TestInvocationsMetric(t *testing.T) {
	m := InvocationsMetric("proj")
	assert.Equal(t, InfraApp, m.App)
	assert.Equal(t, InvocationsName, m.Name)
	assert.Equal(t, MetricTypeMetric, m.Type)
}

func TestMetricDataVariants(t *testing.T) {
	descriptor := Metric{Project: "p", App: "a", Type: MetricTypeMetric, Name: "n"}

	var data MetricData = MetricValues{Descriptor: descriptor}
	assert.True(t, data.HasData())
	assert.Equal(t, descriptor, data.Metric())

	data = ResultValues{Descriptor: descriptor}
	assert.True(t, data.HasData())

	data = NoData{Descriptor: descriptor}
	assert.False(t, data.HasData())
	assert.Equal(t, descriptor, data.Metric())
}

func TestAppEventValidate(t *testing.T) {
	event := AppEvent{EndpointID: "ep", Application: "app", Name: "metric"}
	assert.NoError(t, event.Validate())

	assert.Error(t, (&AppEvent{Application: "app", Name: "m"}).Validate())
	assert.Error(t, (&AppEvent{EndpointID: "ep", Name: "m"}).Validate())
	assert.Error(t, (&AppEvent{EndpointID: "ep", Application: "app"}).Validate())
}

func TestRollingWindow(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	w := NewRollingWindow(5 * time.Minute)

	assert.Equal(t, 0.0, w.Average(base))
	assert.Equal(t, 0.0, w.Rate(base))

	w.Observe(base, 100)
	w.Observe(base.Add(time.Minute), 200)
	w.Observe(base.Add(2*time.Minute), 300)

	now := base.Add(2 * time.Minute)
	assert.Equal(t, 200.0, w.Average(now))
	assert.Equal(t, 3, w.Count(now))
	assert.InDelta(t, 3.0/300.0, w.Rate(now), 1e-9)

	// The first two observations age out of the window.
	later := base.Add(6*time.Minute + time.Second)
	assert.Equal(t, 1, w.Count(later))
	assert.Equal(t, 300.0, w.Average(later))

	// Everything ages out eventually.
	assert.Equal(t, 0, w.Count(base.Add(time.Hour)))
}

func TestTableValid(t *testing.T) {
	for _, table := range Tables() {
		assert.True(t, table.Valid())
	}
	assert.False(t, Table("bogus").Valid())
}
