package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/zonewatch/zonewatch/internal/api/middleware"
)

func TestMetrics_RecordsDurationByRoute(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := middleware.NewMetrics(mp.Meter("test"))
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(m.Middleware())
	r.Get("/v1/tracking", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	for i := 0; i < 3; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/tracking", http.NoBody))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	var found bool
	for _, metric := range rm.ScopeMetrics[0].Metrics {
		if metric.Name != "http.server.request.duration" {
			continue
		}
		found = true
		hist, ok := metric.Data.(metricdata.Histogram[float64])
		require.True(t, ok)
		require.Len(t, hist.DataPoints, 1)
		assert.Equal(t, uint64(3), hist.DataPoints[0].Count)
		route, ok := hist.DataPoints[0].Attributes.Value("http.route")
		require.True(t, ok)
		assert.Equal(t, "/v1/tracking", route.AsString())
	}
	assert.True(t, found)
}
