package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/arbor-run/trust-core/internal/config"
	"github.com/arbor-run/trust-core/internal/infrastructure/auth"
)

func TestAuthHandler_Login(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse-battery-staple"), bcrypt.DefaultCost)
	require.NoError(t, err)

	jwtService, err := auth.NewJWTService("development-only-secret-change-me-in-prod!!", time.Hour)
	require.NoError(t, err)

	admin := config.AdminConfig{Username: "admin", PasswordHash: string(hash)}
	handler := NewAuthHandler(jwtService, admin)

	app := fiber.New()
	app.Post("/login", handler.Login)

	t.Run("wrong password rejected", func(t *testing.T) {
		body := bytes.NewBufferString(`{"username":"admin","password":"wrong"}`)
		req := httptest.NewRequest(http.MethodPost, "/login", body)
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("correct password issues a token", func(t *testing.T) {
		body := bytes.NewBufferString(`{"username":"admin","password":"correct-horse-battery-staple"}`)
		req := httptest.NewRequest(http.MethodPost, "/login", body)
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})

	t.Run("login disabled when no password hash configured", func(t *testing.T) {
		disabled := NewAuthHandler(jwtService, config.AdminConfig{Username: "admin"})
		disabledApp := fiber.New()
		disabledApp.Post("/login", disabled.Login)

		body := bytes.NewBufferString(`{"username":"admin","password":"anything"}`)
		req := httptest.NewRequest(http.MethodPost, "/login", body)
		req.Header.Set("Content-Type", "application/json")
		resp, err := disabledApp.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})
}
