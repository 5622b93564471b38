package prometheus

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	h := New("quote_api", reg)

	r := gin.New()
	r.Use(h.Middleware())
	r.GET("/quotes/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/metrics", h.Handler())

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/quotes/"+id, nil))
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	counts := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil {
				counts[mf.GetName()] += m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, float64(2), counts["quote_api_http_requests_total"])
	assert.Equal(t, float64(2), counts["quote_api_http_errors_total"])

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `quote_api_http_requests_total{method="GET",path="/quotes/:id",status="404"} 2`)
}
