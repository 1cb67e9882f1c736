package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Matches.Inc()
	m.MessagesRelayed.WithLabelValues("text").Add(2)
	m.ActiveRooms.Set(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Matches))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesRelayed.WithLabelValues("text")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActiveRooms))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["chatmatch_matches_total"])
	assert.True(t, names["chatmatch_active_rooms"])
}

func TestNewTwiceOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
