package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prudhvinik1/offlinesync/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func TestManualSource_NotifiesOnlyOnChange(t *testing.T) {
	src := NewManualSource(false)

	var got []bool
	stop := src.Watch(func(online bool) { got = append(got, online) })

	src.SetOnline(false)
	src.SetOnline(true)
	src.SetOnline(true)
	src.SetOnline(false)
	assert.Equal(t, []bool{true, false}, got)

	stop()
	src.SetOnline(true)
	assert.Len(t, got, 2, "stopped watcher is not called")
	assert.True(t, src.IsOnline())
}

func TestMonitor_DebouncesOnline(t *testing.T) {
	src := NewManualSource(false)
	clk := clock.NewManual(epoch)
	m := NewMonitor(src, clk, 2*time.Second, nil)
	m.Start()
	defer m.Stop()

	var got []bool
	m.Subscribe(func(online bool) { got = append(got, online) })

	src.SetOnline(true)
	assert.Empty(t, got, "online is held back for the debounce window")
	assert.True(t, m.IsOnline(), "state itself is not debounced")

	clk.Advance(2 * time.Second)
	assert.Equal(t, []bool{true}, got)
}

func TestMonitor_FlapCancelsPendingOnline(t *testing.T) {
	src := NewManualSource(false)
	clk := clock.NewManual(epoch)
	m := NewMonitor(src, clk, 2*time.Second, nil)
	m.Start()
	defer m.Stop()

	var got []bool
	m.Subscribe(func(online bool) { got = append(got, online) })

	src.SetOnline(true)
	clk.Advance(time.Second)
	src.SetOnline(false)
	clk.Advance(5 * time.Second)

	assert.Equal(t, []bool{false}, got, "offline is immediate and the online notice never fires")
}

func TestMonitor_ZeroDebounceNotifiesImmediately(t *testing.T) {
	src := NewManualSource(false)
	m := NewMonitor(src, clock.NewManual(epoch), 0, nil)
	m.Start()
	defer m.Stop()

	var got []bool
	m.Subscribe(func(online bool) { got = append(got, online) })

	src.SetOnline(true)
	assert.Equal(t, []bool{true}, got)
}

func TestMonitor_StopDetaches(t *testing.T) {
	src := NewManualSource(true)
	m := NewMonitor(src, clock.NewManual(epoch), 0, nil)
	m.Start()

	var got []bool
	m.Subscribe(func(online bool) { got = append(got, online) })
	m.Stop()

	src.SetOnline(false)
	assert.Empty(t, got)
}

func TestHTTPProbe_TracksServerHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	probe := NewHTTPProbe(srv.URL, time.Hour, time.Second, nil)
	var got []bool
	probe.Watch(func(online bool) { got = append(got, online) })

	ctx := context.Background()
	assert.False(t, probe.IsOnline(), "offline until the first probe")

	require.True(t, probe.Probe(ctx))
	healthy.Store(false)
	require.False(t, probe.Probe(ctx))
	assert.Equal(t, []bool{true, false}, got)
}

func TestHTTPProbe_UnreachableIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	probe := NewHTTPProbe(url, time.Hour, 200*time.Millisecond, nil)
	assert.False(t, probe.Probe(context.Background()))
}
