package escrow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellora/escrowd/internal/authz"
)

// newHandlerRouter mounts the escrow routes with a fixed admin identity, the
// way the admin middleware would after authenticating the bearer secret.
func newHandlerRouter(f *fixture, admin *authz.Admin) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	group := r.Group("/")
	group.Use(func(c *gin.Context) {
		if admin != nil {
			c.Set("authAdmin", admin)
		}
		c.Next()
	})
	NewHandler(f.orch).RegisterRoutes(group)
	return r
}

func TestHandler_Release(t *testing.T) {
	f := newFixture(t)
	router := newHandlerRouter(f, testAdmin)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sub-orders/sub_1/release", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Released bool          `json:"released"`
		Result   ReleaseResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Released)
	assert.Equal(t, "sub_1", body.Result.SubOrderID)
	assert.EqualValues(t, 10200, body.Result.TotalReleased)
}

func TestHandler_Release_WithNotes(t *testing.T) {
	f := newFixture(t)
	router := newHandlerRouter(f, testAdmin)

	body := strings.NewReader(`{"notes":"goodwill release"}`)
	req := httptest.NewRequest(http.MethodPost, "/sub-orders/sub_1/release", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	o, err := f.orders.FindOrderContainingSubOrder(context.Background(), "sub_1")
	require.NoError(t, err)
	require.NotNil(t, o.SubOrder("sub_1").Settlement)
	assert.Equal(t, "goodwill release", o.SubOrder("sub_1").Settlement.Notes)
}

func TestHandler_Release_MalformedBody(t *testing.T) {
	f := newFixture(t)
	router := newHandlerRouter(f, testAdmin)

	body := strings.NewReader(`{"notes": 12`)
	req := httptest.NewRequest(http.MethodPost, "/sub-orders/sub_1/release", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request")
}

func TestHandler_Release_NotEligible(t *testing.T) {
	f := newFixture(t)
	router := newHandlerRouter(f, testAdmin)

	// First release succeeds, the repeat is a 422 with reasons.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sub-orders/sub_1/release", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sub-orders/sub_1/release", nil))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body struct {
		Error   string   `json:"error"`
		Reasons []string `json:"reasons"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_eligible", body.Error)
	assert.Contains(t, body.Reasons, ReasonAlreadyReleased)
}

func TestHandler_Release_Forbidden(t *testing.T) {
	f := newFixture(t)
	router := newHandlerRouter(f, &authz.Admin{ID: "adm_2", Permissions: []string{authz.PermViewWallets}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sub-orders/sub_1/release", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "forbidden")
}

func TestHandler_Release_NotFound(t *testing.T) {
	f := newFixture(t)
	router := newHandlerRouter(f, testAdmin)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sub-orders/sub_missing/release", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestHandler_CheckEligibility(t *testing.T) {
	f := newFixture(t)
	router := newHandlerRouter(f, testAdmin)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sub-orders/sub_1/eligibility", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Eligible bool     `json:"eligible"`
		Reasons  []string `json:"reasons"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Eligible)
	assert.Empty(t, body.Reasons)

	// Eligibility is a read-only preview; nothing was released.
	fr, err := f.releases.GetBySubOrder(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.NotEqual(t, "released", string(fr.Status))
}
