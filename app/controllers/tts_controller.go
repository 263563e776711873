package controllers

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/echovoice/echovoice/app/repository"
	"github.com/echovoice/echovoice/internal/pkg/tts"
	"github.com/echovoice/echovoice/internal/pkg/usercontext"
)

// HandleTTSGenerate validates a synthesis request, checks the caller may use
// the requested voice and streams the vendor audio back.
func HandleTTSGenerate(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req tts.SynthesisRequest
	if err := c.BodyParser(&req); err != nil {
		return errJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return errJSON(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	format := req.Format()
	if _, ok := tts.MediaTypeForFormat(format); !ok {
		return errJSON(c, fiber.StatusUnprocessableEntity, "unsupported_format",
			fmt.Sprintf("Unsupported audio format. Supported formats: %s", strings.Join(tts.SupportedFormats(), ", ")))
	}

	voiceID := req.VoiceSetting.VoiceID
	if !tts.IsSystemVoice(voiceID) {
		_, err := repository.GetGlobalFactory().GetVoiceRepository().GetByUserAndExternalID(userCtx.UserID, voiceID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errJSON(c, fiber.StatusUnprocessableEntity, "unknown_voice",
					fmt.Sprintf("Can't use voice id %q", voiceID))
			}
			return errJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Voice lookup failed")
		}
	}

	result, err := getTTSClient().Synthesize(c.Context(), &req)
	if err != nil {
		return vendorError(c, "tts generate", err)
	}

	c.Set(fiber.HeaderContentType, result.MediaType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=tts_audio.%s", format))
	return c.SendStream(result.Body)
}

// vendorError maps Minimax client failures to response codes.
func vendorError(c *fiber.Ctx, op string, err error) error {
	if errors.Is(err, tts.ErrInsufficientCredits) {
		return errJSON(c, fiber.StatusBadGateway, "vendor_credits", "Insufficient vendor credits")
	}
	var apiErr *tts.APIError
	if errors.As(err, &apiErr) {
		log.Printf("%s: vendor error %d: %s", op, apiErr.StatusCode, apiErr.Body)
		return errJSON(c, fiber.StatusBadGateway, "vendor_error", "Speech vendor rejected the request")
	}
	log.Printf("%s failed: %v", op, err)
	return errJSON(c, fiber.StatusGatewayTimeout, "vendor_unavailable", "Speech vendor unavailable")
}
