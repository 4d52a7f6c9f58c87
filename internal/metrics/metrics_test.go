package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{204, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{422, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, statusBucket(tc.code))
	}
}

func TestMiddleware_CountsByRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/sub-orders/:id/eligibility", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/sub-orders/:id/eligibility", "2xx"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sub-orders/sub_1/eligibility", nil))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sub-orders/sub_2/eligibility", nil))

	// Both requests land on the route pattern, not the raw paths.
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/sub-orders/:id/eligibility", "2xx"))
	assert.Equal(t, before+2, after)
}

func TestReleaseCounters(t *testing.T) {
	beforeReleased := testutil.ToFloat64(ReleasesTotal.WithLabelValues("released"))
	beforeAmount := testutil.ToFloat64(ReleasedAmount)

	ReleasesTotal.WithLabelValues("released").Inc()
	ReleasedAmount.Add(10200)

	assert.Equal(t, beforeReleased+1, testutil.ToFloat64(ReleasesTotal.WithLabelValues("released")))
	assert.Equal(t, beforeAmount+10200, testutil.ToFloat64(ReleasedAmount))
}

func TestHandler_ServesExposition(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	SweepChecked.Set(3)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "escrowd_sweep_pending_checked 3")
}
