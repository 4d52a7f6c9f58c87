// Package authz identifies platform admins and checks their permissions.
//
// The escrow service sits behind the platform's admin console; callers
// present a bearer secret and the permissions they were granted there.
// This package only decides yes/no — account management lives upstream.
package authz

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var ErrUnauthorized = errors.New("not authorized for this operation")

// Permissions used by the escrow service.
const (
	PermReleaseEscrow = "escrow:release"
	PermReverseFunds  = "escrow:reverse"
	PermViewWallets   = "wallets:read"
)

// Admin is an authenticated platform administrator.
type Admin struct {
	ID          string   `json:"id"`
	Email       string   `json:"email,omitempty"`
	Permissions []string `json:"permissions"`
}

// Has reports whether the admin holds the given permission. The wildcard
// grant "*" matches everything.
func (a *Admin) Has(perm string) bool {
	for _, p := range a.Permissions {
		if p == perm || p == "*" {
			return true
		}
	}
	return false
}

// Authorizer checks admin permissions.
type Authorizer interface {
	Authorize(admin *Admin, perms ...string) error
}

// StaticAuthorizer grants any authenticated admin the permissions they
// carry. Fails closed: a nil admin is always unauthorized.
type StaticAuthorizer struct{}

func (StaticAuthorizer) Authorize(admin *Admin, perms ...string) error {
	if admin == nil {
		return ErrUnauthorized
	}
	for _, p := range perms {
		if !admin.Has(p) {
			return ErrUnauthorized
		}
	}
	return nil
}

const adminContextKey = "authAdmin"

// Middleware authenticates admin requests with a shared bearer secret and
// attaches the Admin to the gin context. Admin identity comes from the
// X-Admin-ID header set by the upstream console.
func Middleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":   "admin_disabled",
				"message": "Admin API is not configured",
			})
			return
		}

		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid admin credentials",
			})
			return
		}

		adminID := c.GetHeader("X-Admin-ID")
		if adminID == "" {
			adminID = "admin"
		}
		c.Set(adminContextKey, &Admin{
			ID:          adminID,
			Email:       c.GetHeader("X-Admin-Email"),
			Permissions: []string{"*"},
		})
		c.Next()
	}
}

// FromGin returns the authenticated admin from the gin context, or nil.
func FromGin(c *gin.Context) *Admin {
	if v, ok := c.Get(adminContextKey); ok {
		if a, ok := v.(*Admin); ok {
			return a
		}
	}
	return nil
}
