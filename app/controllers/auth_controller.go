package controllers

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/echovoice/echovoice/app/models"
	"github.com/echovoice/echovoice/app/repository"
	"github.com/echovoice/echovoice/internal/pkg/cache"
	"github.com/echovoice/echovoice/internal/pkg/mail"
	tokenpkg "github.com/echovoice/echovoice/internal/pkg/token"
)

const denylistPrefix = "jwt_denylist:"

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=200"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// HandleAuthRegister creates a local account and dispatches the verification
// email.
func HandleAuthRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return errJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return errJSON(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	repo := repository.GetGlobalFactory().GetUserRepository()

	if _, err := repo.GetByEmail(email); err == nil {
		return errJSON(c, fiber.StatusConflict, "conflict", "Email already registered")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("register: email lookup failed: %v", err)
		return errJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Registration failed")
	}

	user, err := models.CreateUser(email, req.Password)
	if err != nil {
		return errJSON(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}
	if err := user.GenerateVerificationToken(); err != nil {
		log.Printf("register: token generation failed: %v", err)
		return errJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Registration failed")
	}
	if err := repo.Create(user); err != nil {
		log.Printf("register: user create failed: %v", err)
		return errJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Registration failed")
	}

	mail.SendVerificationEmail(user.Email, user.VerificationToken)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":          user.ID,
		"email":       user.Email,
		"is_verified": user.IsVerified,
		"message":     "Registration successful, please check your inbox to verify your email",
	})
}

// HandleAuthVerifyEmail flips is_verified when the emailed token matches and
// has not expired.
func HandleAuthVerifyEmail(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		return errJSON(c, fiber.StatusBadRequest, "bad_request", "Missing verification token")
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	user, err := repo.GetByVerificationToken(token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errJSON(c, fiber.StatusNotFound, "not_found", "Invalid verification token")
		}
		log.Printf("verify email: lookup failed: %v", err)
		return errJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Verification failed")
	}

	if !user.IsVerificationTokenValid(token) {
		return errJSON(c, fiber.StatusGone, "token_expired", "Verification token has expired, please register again")
	}

	user.ClearVerificationToken()
	if err := repo.Update(user); err != nil {
		log.Printf("verify email: update failed: %v", err)
		return errJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Verification failed")
	}

	return c.JSON(fiber.Map{"message": "Email verified, you can now log in"})
}

// HandleAuthLogin checks credentials and returns an access/refresh token pair.
func HandleAuthLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return errJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return errJSON(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	user, err := repo.GetByEmail(req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errJSON(c, fiber.StatusUnauthorized, "unauthorized", "Invalid email or password")
		}
		log.Printf("login: lookup failed: %v", err)
		return errJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Login failed")
	}

	if !user.CheckPassword(req.Password) {
		return errJSON(c, fiber.StatusUnauthorized, "unauthorized", "Invalid email or password")
	}
	if !user.IsVerified {
		return errJSON(c, fiber.StatusForbidden, "forbidden", "Please verify your email first")
	}

	pair, err := Tokens().IssuePair(user.ID, user.Email)
	if err != nil {
		log.Printf("login: token issue failed: %v", err)
		return errJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Login failed")
	}

	now := time.Now()
	user.LastLoginAt = &now
	if err := repo.Update(user); err != nil {
		log.Printf("login: last login update failed for user %d: %v", user.ID, err)
	}

	return c.JSON(pair)
}

// HandleAuthRefresh rotates a refresh token into a fresh pair. The used
// refresh token is denylisted so it cannot be replayed.
func HandleAuthRefresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return errJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return errJSON(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	claims, err := Tokens().VerifyRefresh(req.RefreshToken)
	if err != nil {
		return errJSON(c, fiber.StatusUnauthorized, "unauthorized", "Invalid or expired refresh token")
	}
	if isDenylisted(claims.ID) {
		return errJSON(c, fiber.StatusUnauthorized, "unauthorized", "Refresh token has been revoked")
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	user, err := repo.GetByID(claims.UserID)
	if err != nil {
		return errJSON(c, fiber.StatusUnauthorized, "unauthorized", "Unknown user")
	}

	denylist(claims.ID, claims.ExpiresAt.Time)

	pair, err := Tokens().IssuePair(user.ID, user.Email)
	if err != nil {
		log.Printf("refresh: token issue failed: %v", err)
		return errJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Refresh failed")
	}
	return c.JSON(pair)
}

// HandleAuthLogout revokes the presented refresh token.
func HandleAuthLogout(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return errJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}

	claims, err := Tokens().VerifyRefresh(req.RefreshToken)
	if err != nil {
		// Already invalid, nothing to revoke.
		return c.JSON(fiber.Map{"message": "Logged out"})
	}
	denylist(claims.ID, claims.ExpiresAt.Time)

	return c.JSON(fiber.Map{"message": "Logged out"})
}

// denylist marks a refresh token id as revoked until its natural expiry.
func denylist(jti string, expiresAt time.Time) {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return
	}
	if err := cache.Set(denylistPrefix+jti, "1", ttl); err != nil {
		log.Printf("token denylist write failed for %s: %v", jti, err)
	}
}

func isDenylisted(jti string) bool {
	if jti == "" {
		return false
	}
	_, err := cache.Get(denylistPrefix + jti)
	return err == nil
}

// issuePairFor is shared with the OAuth callback.
func issuePairFor(user *models.User) (*tokenpkg.Pair, error) {
	return Tokens().IssuePair(user.ID, user.Email)
}
