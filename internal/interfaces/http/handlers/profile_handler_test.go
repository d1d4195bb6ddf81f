package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-run/trust-core/internal/profilestore"
	"github.com/arbor-run/trust-core/internal/scoring"
	"github.com/arbor-run/trust-core/internal/tier"
)

func newTestApp(handler *ProfileHandler) *fiber.App {
	app := fiber.New()
	app.Get("/profiles/:agent_id", handler.Get)
	app.Get("/profiles/", handler.List)
	return app
}

func TestProfileHandler_Get_CreatesUntrustedProfile(t *testing.T) {
	store := profilestore.New(scoring.NewDefaultCalculator(), tier.NewDefaultResolver())
	app := newTestApp(NewProfileHandler(store))

	req := httptest.NewRequest(http.MethodGet, "/profiles/agent-1", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestProfileHandler_EmptyAgentIDRoutesToList(t *testing.T) {
	store := profilestore.New(scoring.NewDefaultCalculator(), tier.NewDefaultResolver())
	app := newTestApp(NewProfileHandler(store))

	req := httptest.NewRequest(http.MethodGet, "/profiles/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode) // hits List, not Get
}
