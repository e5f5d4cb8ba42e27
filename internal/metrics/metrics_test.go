package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegisterDefaultIdempotent(t *testing.T) {
	RegisterDefault()
	RegisterDefault()

	before := testutil.ToFloat64(InboundEvents.WithLabelValues("location-update", "ok"))
	InboundEvents.WithLabelValues("location-update", "ok").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(InboundEvents.WithLabelValues("location-update", "ok")))

	mfs, err := Registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	require.True(t, names["guardwatch_inbound_events_total"])
	require.True(t, names["go_goroutines"])
}
