package controllers

import (
	"bytes"
	"errors"
	"log"
	"sync"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/echovoice/echovoice/app/models"
	"github.com/echovoice/echovoice/app/repository"
	"github.com/echovoice/echovoice/internal/pkg/tts"
	"github.com/echovoice/echovoice/internal/pkg/usercontext"
	"github.com/echovoice/echovoice/internal/pkg/voicearchive"
)

var (
	archiveOnce sync.Once
	archive     *voicearchive.Archive
)

// getVoiceArchive returns the S3 sample archive, or nil when disabled.
func getVoiceArchive() *voicearchive.Archive {
	archiveOnce.Do(func() {
		cfg, err := voicearchive.LoadConfig()
		if err != nil {
			log.Printf("voice archive config invalid: %v", err)
			return
		}
		if !cfg.IsEnabled() {
			return
		}
		archive, err = voicearchive.NewArchive(cfg)
		if err != nil {
			log.Printf("voice archive init failed: %v", err)
			archive = nil
		}
	})
	return archive
}

// HandleVoiceUpload forwards a voice sample to the vendor file store and
// archives a copy.
func HandleVoiceUpload(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return errJSON(c, fiber.StatusBadRequest, "bad_request", "Missing file field")
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if !tts.IsAllowedSampleType(contentType) {
		return errJSON(c, fiber.StatusUnsupportedMediaType, "unsupported_media_type", "Unsupported file type. Allowed: MP3, M4A, WAV")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return errJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to read upload")
	}
	defer file.Close()

	var sample bytes.Buffer
	if _, err := sample.ReadFrom(file); err != nil {
		return errJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to read upload")
	}

	purpose := c.FormValue("purpose", "voice_clone")

	var objectKey string
	if a := getVoiceArchive(); a != nil {
		objectKey, err = a.StoreSample(c.Context(), userCtx.UserID, fileHeader.Filename, contentType, bytes.NewReader(sample.Bytes()))
		if err != nil {
			// Archive is best-effort; the vendor copy is what cloning needs.
			log.Printf("voice sample archive failed for user %d: %v", userCtx.UserID, err)
			objectKey = ""
		}
	}

	uploaded, err := getTTSClient().UploadFile(c.Context(), fileHeader.Filename, contentType, bytes.NewReader(sample.Bytes()), purpose)
	if err != nil {
		return vendorError(c, "voice upload", err)
	}

	return c.JSON(fiber.Map{
		"file_id":           uploaded.FileID,
		"filename":          uploaded.Filename,
		"bytes":             uploaded.Bytes,
		"created_at":        uploaded.CreatedAt,
		"archived":          objectKey != "",
		"sample_object_key": objectKey,
	})
}

// cloneVoiceRequest carries the vendor clone parameters plus the archive key
// returned by the upload step, so the asset row keeps a pointer to its sample.
type cloneVoiceRequest struct {
	tts.CloneRequest
	SampleObjectKey string `json:"sample_object_key" validate:"omitempty,max=255"`
}

// HandleVoiceClone clones a voice from an uploaded sample and records
// ownership.
func HandleVoiceClone(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req cloneVoiceRequest
	if err := c.BodyParser(&req); err != nil {
		return errJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return errJSON(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}
	if !tts.IsValidVoiceID(req.VoiceID) {
		return errJSON(c, fiber.StatusUnprocessableEntity, "invalid_voice_id", "Voice id must start with a letter and contain at least 8 alphanumeric characters")
	}

	voices := repository.GetGlobalFactory().GetVoiceRepository()
	if _, err := voices.GetByExternalID(req.VoiceID); err == nil {
		return errJSON(c, fiber.StatusConflict, "conflict", "Voice id already exists")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return errJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Voice lookup failed")
	}

	cloned, err := getTTSClient().CloneVoice(c.Context(), &req.CloneRequest)
	if err != nil {
		return vendorError(c, "voice clone", err)
	}

	if err := voices.Create(&models.VoiceAsset{
		UserID:          userCtx.UserID,
		ExternalVoiceID: req.VoiceID,
		Kind:            models.VoiceKindClone,
		SampleObjectKey: req.SampleObjectKey,
	}); err != nil {
		log.Printf("voice clone: asset create failed for user %d: %v", userCtx.UserID, err)
		return errJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to record voice")
	}

	return c.JSON(fiber.Map{
		"voice_id":        cloned.VoiceID,
		"input_sensitive": cloned.InputSensitive,
		"preview_audio":   cloned.PreviewAudio,
	})
}

// HandleVoiceDesign creates a voice from a text prompt and records ownership.
func HandleVoiceDesign(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req tts.DesignRequest
	if err := c.BodyParser(&req); err != nil {
		return errJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return errJSON(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	designed, err := getTTSClient().DesignVoice(c.Context(), &req)
	if err != nil {
		return vendorError(c, "voice design", err)
	}

	if err := repository.GetGlobalFactory().GetVoiceRepository().Create(&models.VoiceAsset{
		UserID:          userCtx.UserID,
		ExternalVoiceID: designed.VoiceID,
		Kind:            models.VoiceKindDesign,
	}); err != nil {
		log.Printf("voice design: asset create failed for user %d: %v", userCtx.UserID, err)
		return errJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to record voice")
	}

	return c.JSON(fiber.Map{
		"voice_id":      designed.VoiceID,
		"preview_audio": designed.PreviewAudio,
	})
}

// HandleVoiceCloneList lists the caller's cloned voices.
func HandleVoiceCloneList(c *fiber.Ctx) error {
	return listVoices(c, models.VoiceKindClone)
}

// HandleVoiceDesignList lists the caller's designed voices.
func HandleVoiceDesignList(c *fiber.Ctx) error {
	return listVoices(c, models.VoiceKindDesign)
}

func listVoices(c *fiber.Ctx, kind string) error {
	userCtx := usercontext.GetUserContext(c)

	assets, err := repository.GetGlobalFactory().GetVoiceRepository().ListByUser(userCtx.UserID, kind)
	if err != nil {
		return errJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load voices")
	}
	return c.JSON(fiber.Map{"voices": assets})
}
