package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestAdmin_Has(t *testing.T) {
	a := &Admin{ID: "adm_1", Permissions: []string{PermReleaseEscrow}}
	assert.True(t, a.Has(PermReleaseEscrow))
	assert.False(t, a.Has(PermReverseFunds))

	root := &Admin{ID: "adm_2", Permissions: []string{"*"}}
	assert.True(t, root.Has(PermReleaseEscrow))
	assert.True(t, root.Has("anything:at_all"))
}

func TestStaticAuthorizer(t *testing.T) {
	auth := StaticAuthorizer{}

	assert.ErrorIs(t, auth.Authorize(nil, PermReleaseEscrow), ErrUnauthorized)

	a := &Admin{ID: "adm_1", Permissions: []string{PermReleaseEscrow, PermViewWallets}}
	assert.NoError(t, auth.Authorize(a, PermReleaseEscrow))
	assert.NoError(t, auth.Authorize(a, PermReleaseEscrow, PermViewWallets))
	assert.ErrorIs(t, auth.Authorize(a, PermReverseFunds), ErrUnauthorized)
	assert.ErrorIs(t, auth.Authorize(a, PermReleaseEscrow, PermReverseFunds), ErrUnauthorized)
}

func newAuthRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(secret))
	r.GET("/whoami", func(c *gin.Context) {
		admin := FromGin(c)
		if admin == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no admin in context"})
			return
		}
		c.JSON(http.StatusOK, admin)
	})
	return r
}

func TestMiddleware_ValidToken(t *testing.T) {
	router := newAuthRouter("s3cret")

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	req.Header.Set("X-Admin-ID", "adm_42")
	req.Header.Set("X-Admin-Email", "ops@example.com")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "adm_42")
	assert.Contains(t, rec.Body.String(), "ops@example.com")
}

func TestMiddleware_InvalidToken(t *testing.T) {
	router := newAuthRouter("s3cret")

	for _, header := range []string{"", "Bearer wrong", "Basic s3cret"} {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestMiddleware_NoSecretConfigured(t *testing.T) {
	router := newAuthRouter("")

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer anything")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "admin_disabled")
}

func TestMiddleware_DefaultAdminID(t *testing.T) {
	router := newAuthRouter("s3cret")

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer s3cret")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"admin"`)
}
