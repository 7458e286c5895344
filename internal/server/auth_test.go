package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthHandler(t *testing.T) {
	t.Run("should allow everything when disabled", func(t *testing.T) {
		auth := NewAuthHandler("")

		assert.False(t, auth.Enabled())
		assert.True(t, auth.Authorize(httptest.NewRequest("GET", "/", nil)))
	})

	t.Run("should accept a bearer token", func(t *testing.T) {
		auth := NewAuthHandler("s3cret")
		req := httptest.NewRequest("POST", "/v1/orchestrate", nil)
		req.Header.Set("Authorization", "Bearer s3cret")

		assert.True(t, auth.Authorize(req))
	})

	t.Run("should accept the token header and query parameter", func(t *testing.T) {
		auth := NewAuthHandler("s3cret")

		req := httptest.NewRequest("GET", "/v1/events", nil)
		req.Header.Set(TokenHeader, "s3cret")
		assert.True(t, auth.Authorize(req))

		assert.True(t, auth.Authorize(httptest.NewRequest("GET", "/v1/events?token=s3cret", nil)))
	})

	t.Run("should reject wrong or missing tokens", func(t *testing.T) {
		auth := NewAuthHandler("s3cret")

		req := httptest.NewRequest("POST", "/", nil)
		req.Header.Set("Authorization", "Bearer nope")
		assert.False(t, auth.Authorize(req))

		assert.False(t, auth.Authorize(httptest.NewRequest("POST", "/", nil)))
		assert.False(t, auth.Authorize(httptest.NewRequest("GET", "/?token=s3cre", nil)))
	})
}
