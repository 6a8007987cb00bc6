package metrics

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRound(3)
		m.ObserveStability("stable")
		m.ObserveUpload("completed", time.Second)
		m.SetCacheEntries(2)
	})
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRound(2)
	m.ObserveRound(3)
	m.ObserveStability("stable")
	m.ObserveStability("stable")
	m.ObserveStability("vanished")
	m.ObserveUpload("completed", 200*time.Millisecond)
	m.ObserveUpload("hash_cached", time.Second)
	m.SetCacheEntries(4)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.rounds))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.filesDiscovered))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.stabilityChecks.WithLabelValues("stable")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.stabilityChecks.WithLabelValues("vanished")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.uploads.WithLabelValues("completed")))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.cacheEntries))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["ptto115_rounds_total"])
	assert.True(t, names["ptto115_uploads_total"])
	assert.True(t, names["ptto115_upload_duration_seconds"])
	assert.True(t, names["ptto115_hash_cache_entries"])
}

func TestNewWithoutRegistry(t *testing.T) {
	m := New(nil)
	m.ObserveRound(1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.rounds))
}

func TestServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveRound(7)

	// grab a free port
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, reg, zerolog.Nop()) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		body = string(data)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	assert.Contains(t, body, "ptto115_files_discovered_total 7")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
