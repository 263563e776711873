package middleware

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/echovoice/echovoice/app/models"
	"github.com/echovoice/echovoice/app/repository"
	"github.com/echovoice/echovoice/internal/pkg/token"
	"github.com/echovoice/echovoice/internal/pkg/usercontext"
)

// JWTAuthMiddleware authenticates requests carrying a Bearer access token and
// loads the caller into the request context.
func JWTAuthMiddleware(tokens *token.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := extractBearerToken(c)
		if raw == "" {
			return unauthorized(c, "Missing access token")
		}

		claims, err := tokens.VerifyAccess(raw)
		if err != nil {
			return unauthorized(c, "Invalid or expired access token")
		}

		repo := repository.GetGlobalFactory().GetUserRepository()
		user, err := repo.GetByID(claims.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return unauthorized(c, "Unknown user")
			}
			log.Printf("jwt middleware: user lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "User lookup failed"})
		}

		if !user.IsVerified {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Please verify your email first"})
		}

		usercontext.SetUserContext(c, usercontext.UserContext{
			UserID:             user.ID,
			Email:              user.Email,
			IsLoggedIn:         true,
			SubscriptionStatus: user.SubscriptionStatus,
		})
		return c.Next()
	}
}

// RequireActiveSubscription gates vendor-backed endpoints behind an active
// subscription. Must run after JWTAuthMiddleware.
func RequireActiveSubscription(c *fiber.Ctx) error {
	ctx := usercontext.GetUserContext(c)
	if !ctx.IsLoggedIn {
		return unauthorized(c, "Missing access token")
	}
	if ctx.SubscriptionStatus != models.SUB_STATUS_ACTIVE {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Active subscription required"})
	}
	return c.Next()
}

func extractBearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": msg})
}
