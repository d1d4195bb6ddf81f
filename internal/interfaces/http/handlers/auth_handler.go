package handlers

import (
	"github.com/gofiber/fiber/v3"
	"golang.org/x/crypto/bcrypt"

	"github.com/arbor-run/trust-core/internal/config"
	"github.com/arbor-run/trust-core/internal/infrastructure/auth"
)

// AuthHandler issues admin session tokens. Distinct from the agent-facing
// Ed25519 scheme — this is the human-operator login in front of the admin
// surface (spec §6 admin override paths).
type AuthHandler struct {
	jwtService *auth.JWTService
	admin      config.AdminConfig
}

// NewAuthHandler builds an AuthHandler.
func NewAuthHandler(jwtService *auth.JWTService, admin config.AdminConfig) *AuthHandler {
	return &AuthHandler{jwtService: jwtService, admin: admin}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login checks a username/bcrypt-hashed password pair and, on success,
// mints an admin JWT. ADMIN_PASSWORD_HASH must be set; an unset hash
// disables login entirely, forcing admin tokens to be minted out of band.
func (h *AuthHandler) Login(c fiber.Ctx) error {
	var req loginRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}

	if h.admin.PasswordHash == "" || req.Username != h.admin.Username {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_credentials"})
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.admin.PasswordHash), []byte(req.Password)); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_credentials"})
	}

	token, err := h.jwtService.GenerateToken(req.Username, "operator")
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "token_issuance_failed"})
	}

	return c.JSON(fiber.Map{"token": token, "token_type": "Bearer"})
}
