package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/browserguard/log"
)

func TestRegister(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := Register(reg)

	m.Ticks.Inc()
	m.Ticks.Inc()
	m.WindowDecisions.WithLabelValues("maximized").Inc()
	m.CommandFailures.WithLabelValues("timeout").Inc()
	m.BrowserUp.Set(1)

	assert.InDelta(t, 2, testutil.ToFloat64(m.Ticks), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.WindowDecisions.WithLabelValues("maximized")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.BrowserUp), 0)

	n, err := testutil.GatherAndCount(reg,
		"browserguard_ticks_total",
		"browserguard_window_decisions_total",
		"browserguard_command_failures_total",
		"browserguard_browser_up",
	)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestRegisterNil(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		a := Register(nil)
		b := Register(nil)
		a.Recoveries.Inc()
		b.Recoveries.Inc()
	})
}

func TestServe(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := Register(reg)
	m.TabsOpened.Inc()

	l, err := Listen("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, l, reg, log.NewNullLogger()) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/metrics") //nolint:noctx
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	assert.Contains(t, string(body), "browserguard_tabs_opened_total 1")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
