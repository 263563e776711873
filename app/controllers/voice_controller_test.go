package controllers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echovoice/echovoice/app/models"
	"github.com/echovoice/echovoice/internal/pkg/tts"
)

// installTestTTSClient points the package singleton at a stub vendor. The
// server must stay up for the lifetime of the test process since the
// singleton cannot be replaced.
func installTestTTSClient(t *testing.T) {
	t.Helper()
	ttsOnce.Do(func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/v1/voice_clone":
				w.Write([]byte(`{"input_sensitive":false,"preview_audio":"https://cdn/clone.mp3"}`))
			case "/v1/t2a_v2":
				w.Write([]byte("audio"))
			default:
				http.NotFound(w, r)
			}
		}))
		ttsClient = &tts.MinimaxClient{
			GroupID:    "grp1",
			APIKey:     "key1",
			BaseURL:    srv.URL,
			HTTPClient: &http.Client{Timeout: 5 * time.Second},
		}
	})
}

func TestVoiceCloneStoresSampleObjectKey(t *testing.T) {
	db := setupTestEnv(t)
	installTestTTSClient(t)

	user := createTestUser(t, db, "clone-key@example.com", func(u *models.User) {
		u.SubscriptionStatus = models.SUB_STATUS_ACTIVE
	})

	app := fiber.New()
	app.Post("/api/v1/voice/clone", asUser(user), HandleVoiceClone)

	body := `{
		"file_id": "file123",
		"voice_id": "myClonedVoice1",
		"sample_object_key": "samples/1/abc123.wav"
	}`
	req := httptest.NewRequest("POST", "/api/v1/voice/clone", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var asset models.VoiceAsset
	require.NoError(t, db.Where("external_voice_id = ?", "myClonedVoice1").First(&asset).Error)
	assert.Equal(t, user.ID, asset.UserID)
	assert.Equal(t, models.VoiceKindClone, asset.Kind)
	assert.Equal(t, "samples/1/abc123.wav", asset.SampleObjectKey)
}

func TestVoiceCloneWithoutSampleKeyLeavesFieldEmpty(t *testing.T) {
	db := setupTestEnv(t)
	installTestTTSClient(t)

	user := createTestUser(t, db, "clone-nokey@example.com", func(u *models.User) {
		u.SubscriptionStatus = models.SUB_STATUS_ACTIVE
	})

	app := fiber.New()
	app.Post("/api/v1/voice/clone", asUser(user), HandleVoiceClone)

	body := `{"file_id": "file456", "voice_id": "myClonedVoice2"}`
	req := httptest.NewRequest("POST", "/api/v1/voice/clone", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var asset models.VoiceAsset
	require.NoError(t, db.Where("external_voice_id = ?", "myClonedVoice2").First(&asset).Error)
	assert.Equal(t, "", asset.SampleObjectKey)
}
