package middleware

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"facilitator/internal/config"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimit_BlocksAfterMax(t *testing.T) {
	cfg := &config.RateLimitConfig{
		Enabled:        true,
		WindowSeconds:  60,
		MaxRequests:    5,
		AuthFailureMax: 5,
		ReclaimMax:     3,
	}

	rlm := NewRateLimitMiddleware(cfg)

	app := fiber.New()
	app.Use(rlm.Middleware())
	app.Get("/v1/verify", func(c fiber.Ctx) error {
		return c.SendStatus(200)
	})

	// First 5 requests should succeed
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/v1/verify", nil)
		req.Header.Set("X-Forwarded-For", "192.168.1.1")

		resp, err := app.Test(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, 200, resp.StatusCode, "Request %d should succeed", i+1)
	}

	// 6th request should be rate limited
	req := httptest.NewRequest("GET", "/v1/verify", nil)
	req.Header.Set("X-Forwarded-For", "192.168.1.1")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 429, resp.StatusCode)
}

func TestRateLimit_HealthExempt(t *testing.T) {
	cfg := &config.RateLimitConfig{
		Enabled:        true,
		WindowSeconds:  60,
		MaxRequests:    2, // Very low limit
		AuthFailureMax: 5,
		ReclaimMax:     3,
	}

	rlm := NewRateLimitMiddleware(cfg)

	app := fiber.New()
	app.Use(rlm.Middleware())
	app.Get("/health", func(c fiber.Ctx) error {
		return c.SendStatus(200)
	})
	app.Get("/health/live", func(c fiber.Ctx) error {
		return c.SendStatus(200)
	})
	app.Get("/health/ready", func(c fiber.Ctx) error {
		return c.SendStatus(200)
	})

	// Health endpoints should never be rate limited
	for i := 0; i < 100; i++ {
		paths := []string{"/health", "/health/live", "/health/ready"}
		for _, path := range paths {
			req := httptest.NewRequest("GET", path, nil)
			req.Header.Set("X-Forwarded-For", "192.168.1.1")

			resp, err := app.Test(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, 200, resp.StatusCode, "Health endpoint %s should not be rate limited", path)
		}
	}
}

func TestRateLimit_AuthLimiterSkipsSuccess(t *testing.T) {
	cfg := &config.RateLimitConfig{
		Enabled:        true,
		WindowSeconds:  60,
		MaxRequests:    100,
		AuthFailureMax: 2,
		ReclaimMax:     10,
	}

	rlm := NewRateLimitMiddleware(cfg)

	app := fiber.New()
	app.Use(rlm.AuthLimiter())
	app.Post("/v1/verify", func(c fiber.Ctx) error {
		return c.SendStatus(200)
	})

	// Successful requests don't count against the auth-failure bucket.
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("POST", "/v1/verify", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1")

		resp, err := app.Test(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, 200, resp.StatusCode)
	}
}

func TestRateLimit_AuthLimiterBlocksFailures(t *testing.T) {
	cfg := &config.RateLimitConfig{
		Enabled:        true,
		WindowSeconds:  60,
		MaxRequests:    100,
		AuthFailureMax: 2,
		ReclaimMax:     10,
	}

	rlm := NewRateLimitMiddleware(cfg)

	app := fiber.New()
	app.Use(rlm.AuthLimiter())
	app.Post("/v1/verify", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusUnauthorized).SendString("nope")
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/v1/verify", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1")

		resp, err := app.Test(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, 401, resp.StatusCode)
	}

	req := httptest.NewRequest("POST", "/v1/verify", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 429, resp.StatusCode)
}

func TestRateLimit_ReclaimLimiterKeysByPayer(t *testing.T) {
	cfg := &config.RateLimitConfig{
		Enabled:        true,
		WindowSeconds:  60,
		MaxRequests:    100,
		AuthFailureMax: 100,
		ReclaimMax:     2,
	}

	rlm := NewRateLimitMiddleware(cfg)

	app := fiber.New()
	app.Use(func(c fiber.Ctx) error {
		c.Locals("payer_address", c.Get("X-Payer"))
		return c.Next()
	})
	app.Use(rlm.ReclaimLimiter())
	app.Post("/payer/sessions/reclaim-all", func(c fiber.Ctx) error {
		return c.SendStatus(200)
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/payer/sessions/reclaim-all", nil)
		req.Header.Set("X-Payer", "0xaaa")
		resp, err := app.Test(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, 200, resp.StatusCode)
	}

	req := httptest.NewRequest("POST", "/payer/sessions/reclaim-all", nil)
	req.Header.Set("X-Payer", "0xaaa")
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 429, resp.StatusCode)

	// A different payer has an independent bucket.
	req = httptest.NewRequest("POST", "/payer/sessions/reclaim-all", nil)
	req.Header.Set("X-Payer", "0xbbb")
	resp, err = app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode, "Different payer should have independent limit")
}

func TestRateLimit_RetryAfterHeader(t *testing.T) {
	cfg := &config.RateLimitConfig{
		Enabled:        true,
		WindowSeconds:  60,
		MaxRequests:    1,
		AuthFailureMax: 5,
		ReclaimMax:     3,
	}

	rlm := NewRateLimitMiddleware(cfg)

	app := fiber.New()
	app.Use(rlm.Middleware())
	app.Get("/v1/verify", func(c fiber.Ctx) error {
		return c.SendStatus(200)
	})

	req := httptest.NewRequest("GET", "/v1/verify", nil)
	req.Header.Set("X-Forwarded-For", "192.168.1.1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()

	req = httptest.NewRequest("GET", "/v1/verify", nil)
	req.Header.Set("X-Forwarded-For", "192.168.1.1")
	resp, err = app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 429, resp.StatusCode)

	retryAfter := resp.Header.Get("Retry-After")
	assert.NotEmpty(t, retryAfter)
}

func TestRateLimit_PerIP(t *testing.T) {
	cfg := &config.RateLimitConfig{
		Enabled:        true,
		WindowSeconds:  60,
		MaxRequests:    2,
		AuthFailureMax: 5,
		ReclaimMax:     3,
	}

	rlm := NewRateLimitMiddleware(cfg)

	app := fiber.New(fiber.Config{
		ProxyHeader: "X-Forwarded-For",
	})
	app.Use(rlm.Middleware())
	app.Get("/v1/verify", func(c fiber.Ctx) error {
		return c.SendStatus(200)
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/v1/verify", nil)
		req.Header.Set("X-Forwarded-For", "192.168.1.1")

		resp, err := app.Test(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, 200, resp.StatusCode)
	}

	req := httptest.NewRequest("GET", "/v1/verify", nil)
	req.Header.Set("X-Forwarded-For", "192.168.1.1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 429, resp.StatusCode)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/v1/verify", nil)
		req.Header.Set("X-Forwarded-For", "192.168.1.2")

		resp, err := app.Test(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, 200, resp.StatusCode, "Different IP should have independent limit")
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	cfg := &config.RateLimitConfig{
		Enabled:        false,
		WindowSeconds:  60,
		MaxRequests:    1,
		AuthFailureMax: 1,
		ReclaimMax:     1,
	}

	rlm := NewRateLimitMiddleware(cfg)

	app := fiber.New()
	app.Use(rlm.Middleware())
	app.Get("/v1/verify", func(c fiber.Ctx) error {
		return c.SendStatus(200)
	})

	for i := 0; i < 100; i++ {
		req := httptest.NewRequest("GET", "/v1/verify", nil)
		req.Header.Set("X-Forwarded-For", "192.168.1.1")

		resp, err := app.Test(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, 200, resp.StatusCode)
	}
}

func TestRateLimit_ResponseBody(t *testing.T) {
	cfg := &config.RateLimitConfig{
		Enabled:        true,
		WindowSeconds:  60,
		MaxRequests:    1,
		AuthFailureMax: 5,
		ReclaimMax:     3,
	}

	rlm := NewRateLimitMiddleware(cfg)

	app := fiber.New()
	app.Use(rlm.Middleware())
	app.Get("/v1/verify", func(c fiber.Ctx) error {
		return c.SendStatus(200)
	})

	req := httptest.NewRequest("GET", "/v1/verify", nil)
	req.Header.Set("X-Forwarded-For", "192.168.1.1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()

	req = httptest.NewRequest("GET", "/v1/verify", nil)
	req.Header.Set("X-Forwarded-For", "192.168.1.1")
	resp, err = app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 429, resp.StatusCode)

	var body map[string]interface{}
	err = json.NewDecoder(resp.Body).Decode(&body)
	require.NoError(t, err)

	assert.Contains(t, body, "error")
	assert.Contains(t, body, "message")
	assert.Contains(t, body, "retry_after")
}

func TestIsHealthEndpoint(t *testing.T) {
	testCases := []struct {
		path     string
		expected bool
	}{
		{"/health", true},
		{"/health/", true},
		{"/health/live", true},
		{"/health/ready", true},
		{"/healthcheck", true}, // Prefix match
		{"/api/health", false},
		{"/v1/health", false},
		{"/", false},
		{"/v1/verify", false},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			result := isHealthEndpoint(tc.path)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestRateLimit_WindowExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping time-based test in short mode")
	}

	cfg := &config.RateLimitConfig{
		Enabled:        true,
		WindowSeconds:  1, // 1 second window
		MaxRequests:    2,
		AuthFailureMax: 5,
		ReclaimMax:     3,
	}

	rlm := NewRateLimitMiddleware(cfg)

	app := fiber.New()
	app.Use(rlm.Middleware())
	app.Get("/v1/verify", func(c fiber.Ctx) error {
		return c.SendStatus(200)
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/v1/verify", nil)
		req.Header.Set("X-Forwarded-For", "192.168.1.1")

		resp, err := app.Test(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, 200, resp.StatusCode)
	}

	req := httptest.NewRequest("GET", "/v1/verify", nil)
	req.Header.Set("X-Forwarded-For", "192.168.1.1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 429, resp.StatusCode)

	time.Sleep(1100 * time.Millisecond)

	req = httptest.NewRequest("GET", "/v1/verify", nil)
	req.Header.Set("X-Forwarded-For", "192.168.1.1")
	resp, err = app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}
