package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveOperation("READ", "OK", time.Millisecond)

	srv, err := NewServer("127.0.0.1:0", reg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + srv.Addr() + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, body, "nfs4client_node_operations_total")

	cancel()
	assert.NoError(t, <-done)
	assert.NoError(t, srv.Stop(context.Background()))
}
