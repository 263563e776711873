package controllers

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/echovoice/echovoice/app/repository"
	"github.com/echovoice/echovoice/internal/pkg/usercontext"
)

// HandleGetMe returns the authenticated user's account and subscription
// snapshot.
func HandleGetMe(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	repo := repository.GetGlobalFactory().GetUserRepository()
	account, err := repo.GetByID(userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errJSON(c, fiber.StatusNotFound, "not_found", "User not found")
		}
		return errJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load user")
	}

	voiceCount, err := repository.GetGlobalFactory().GetVoiceRepository().CountByUser(userCtx.UserID)
	if err != nil {
		return errJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load voice assets")
	}

	return c.JSON(fiber.Map{
		"id":            account.ID,
		"email":         account.Email,
		"auth_provider": account.AuthProvider,
		"is_verified":   account.IsVerified,
		"created_at":    account.CreatedAt.UTC().Format(time.RFC3339),
		"last_login_at": formatTimePtr(account.LastLoginAt),
		"subscription": fiber.Map{
			"status":     account.SubscriptionStatus,
			"plan_id":    account.SubscriptionPlanID,
			"start_date": formatTimePtr(account.SubscriptionStartDate),
			"end_date":   formatTimePtr(account.SubscriptionEndDate),
			"auto_renew": account.AutoRenew,
			"method":     account.PaymentMethod,
		},
		"balances": fiber.Map{
			"characters":   account.CharacterBalance,
			"voice_slots":  account.VoiceBalance,
			"voices_owned": voiceCount,
		},
	})
}

type updateMeRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6,max=72"`
}

// HandleUpdateMe changes the caller's password. Requires the current password
// to match.
func HandleUpdateMe(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req updateMeRequest
	if err := c.BodyParser(&req); err != nil {
		return errJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return errJSON(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	user, err := repo.GetByID(userCtx.UserID)
	if err != nil {
		return errJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load user")
	}

	if !user.CheckPassword(req.CurrentPassword) {
		return errJSON(c, fiber.StatusForbidden, "forbidden", "Current password is incorrect")
	}
	if err := user.SetPassword(req.NewPassword); err != nil {
		return errJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Password update failed")
	}
	if err := repo.Update(user); err != nil {
		log.Printf("update me: save failed for user %d: %v", user.ID, err)
		return errJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Password update failed")
	}

	return c.JSON(fiber.Map{"message": "Password updated"})
}

// HandleDeleteMe soft deletes the caller's account.
func HandleDeleteMe(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	repo := repository.GetGlobalFactory().GetUserRepository()
	if err := repo.Delete(userCtx.UserID); err != nil {
		log.Printf("delete me: failed for user %d: %v", userCtx.UserID, err)
		return errJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Account deletion failed")
	}
	return c.JSON(fiber.Map{"message": "Account deleted"})
}

// HandleGetLedger returns the caller's payment and subscription history,
// newest first.
func HandleGetLedger(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}

	entries, err := getBillingService().Ledger(userCtx.UserID, limit)
	if err != nil {
		log.Printf("ledger: list failed for user %d: %v", userCtx.UserID, err)
		return errJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load history")
	}
	return c.JSON(fiber.Map{"entries": entries})
}
