package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arbor-run/trust-core/internal/domain"
)

// Ed25519AgentAuth validates an Ed25519-signed request from an agent SDK
// (spec §6 IdentityVerifier collaborator), grounded on the teacher's
// Ed25519AgentMiddleware header contract:
//   - X-Agent-ID: the claiming agent's id
//   - X-Signature: base64 Ed25519 signature over METHOD\nPATH\nTIMESTAMP\n[BODY]
//   - X-Timestamp: unix seconds the request was signed at
//   - X-Public-Key: base64 public key, used for verification only while no
//     key is registered for the agent
//
// Requests missing any of these headers pass through unauthenticated;
// handlers that require an authenticated agent check c.Locals("agent_id").
func Ed25519AgentAuth(verifier domain.IdentityVerifier) fiber.Handler {
	return func(c fiber.Ctx) error {
		agentID := c.Get("X-Agent-ID")
		signatureB64 := c.Get("X-Signature")
		timestampStr := c.Get("X-Timestamp")
		publicKeyB64 := c.Get("X-Public-Key")

		if agentID == "" || signatureB64 == "" || timestampStr == "" || publicKeyB64 == "" {
			return c.Next()
		}

		timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_timestamp_format"})
		}

		result, err := verifier.VerifyRequest(c.Context(), &domain.SignedRequest{
			AgentID:       agentID,
			Method:        c.Method(),
			Path:          c.Path(),
			TimestampUnix: timestamp,
			Body:          c.Body(),
			PublicKeyB64:  publicKeyB64,
			SignatureB64:  signatureB64,
		})
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
		}

		c.Locals("agent_id", result.AgentID)
		c.Locals("authenticated_via", "ed25519")
		c.Locals("auth_time", time.Now())
		return c.Next()
	}
}
