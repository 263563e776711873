package tts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server) *MinimaxClient {
	return &MinimaxClient{
		GroupID:    "grp1",
		APIKey:     "key1",
		BaseURL:    srv.URL,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func TestSynthesizeStreamsAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/t2a_v2", r.URL.Path)
		assert.Equal(t, "grp1", r.URL.Query().Get("GroupId"))
		assert.Equal(t, "Bearer key1", r.Header.Get("Authorization"))

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "hello world", payload["text"])

		w.Write([]byte("binary-audio-bytes"))
	}))
	defer srv.Close()

	client := newTestClient(srv)
	result, err := client.Synthesize(context.Background(), &SynthesisRequest{
		Text:         "hello world",
		VoiceSetting: VoiceSetting{VoiceID: "Wise_Woman"},
		AudioSetting: AudioSetting{Format: "flac"},
	})
	require.NoError(t, err)
	defer result.Body.Close()

	assert.Equal(t, "audio/flac", result.MediaType)
	audio, err := io.ReadAll(result.Body)
	require.NoError(t, err)
	assert.Equal(t, "binary-audio-bytes", string(audio))
}

func TestSynthesizeDefaultsToMP3(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	result, err := newTestClient(srv).Synthesize(context.Background(), &SynthesisRequest{
		Text:         "hi",
		VoiceSetting: VoiceSetting{VoiceID: "Abbess"},
	})
	require.NoError(t, err)
	result.Body.Close()
	assert.Equal(t, "audio/mpeg", result.MediaType)
}

func TestSynthesizeRejectsUnknownFormat(t *testing.T) {
	client := &MinimaxClient{HTTPClient: http.DefaultClient}
	_, err := client.Synthesize(context.Background(), &SynthesisRequest{
		Text:         "hi",
		VoiceSetting: VoiceSetting{VoiceID: "Abbess"},
		AudioSetting: AudioSetting{Format: "ogg"},
	})
	require.Error(t, err)
}

func TestInsufficientCredits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Synthesize(context.Background(), &SynthesisRequest{
		Text:         "hi",
		VoiceSetting: VoiceSetting{VoiceID: "Abbess"},
	})
	require.ErrorIs(t, err, ErrInsufficientCredits)
}

func TestVendorErrorCarriesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"upstream down"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Synthesize(context.Background(), &SynthesisRequest{
		Text:         "hi",
		VoiceSetting: VoiceSetting{VoiceID: "Abbess"},
	})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "upstream down")
}

func TestDesignVoiceThenActivates(t *testing.T) {
	var designCalls, activateCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/voice_design":
			designCalls++
			var payload map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "a deep calm narrator voice for audiobooks", payload["prompt"])
			json.NewEncoder(w).Encode(map[string]string{
				"voice_id":    "designedVoice1",
				"trial_audio": "https://cdn/preview.mp3",
			})
		case "/v1/t2a_v2":
			activateCalls++
			var payload map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			voice := payload["voice_setting"].(map[string]interface{})
			assert.Equal(t, "designedVoice1", voice["voice_id"])
			w.Write([]byte("audio"))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	voice, err := newTestClient(srv).DesignVoice(context.Background(), &DesignRequest{
		Prompt:      "a deep calm narrator voice for audiobooks",
		PreviewText: "Once upon a time",
	})
	require.NoError(t, err)
	assert.Equal(t, "designedVoice1", voice.VoiceID)
	assert.Equal(t, "https://cdn/preview.mp3", voice.PreviewAudio)
	assert.Equal(t, 1, designCalls)
	assert.Equal(t, 1, activateCalls)
}

func TestCloneVoiceThenActivates(t *testing.T) {
	var cloneCalls, activateCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/voice_clone":
			cloneCalls++
			var payload map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "file123", payload["file_id"])
			assert.Equal(t, "myClonedVoice1", payload["voice_id"])
			json.NewEncoder(w).Encode(map[string]interface{}{
				"input_sensitive": true,
				"preview_audio":   "https://cdn/clone.mp3",
			})
		case "/v1/t2a_v2":
			activateCalls++
			w.Write([]byte("audio"))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	voice, err := newTestClient(srv).CloneVoice(context.Background(), &CloneRequest{
		FileID:  "file123",
		VoiceID: "myClonedVoice1",
	})
	require.NoError(t, err)
	assert.Equal(t, "myClonedVoice1", voice.VoiceID)
	assert.True(t, voice.InputSensitive)
	assert.Equal(t, 1, cloneCalls)
	assert.Equal(t, 1, activateCalls)
}

func TestUploadFileMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/files/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "voice_clone", r.FormValue("purpose"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "sample.wav", header.Filename)
		assert.Equal(t, "audio/wav", header.Header.Get("Content-Type"))
		content, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "fake-wav-data", string(content))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"file": map[string]interface{}{
				"file_id":    "file123",
				"filename":   "sample.wav",
				"bytes":      13,
				"created_at": 1700000000,
			},
		})
	}))
	defer srv.Close()

	uploaded, err := newTestClient(srv).UploadFile(context.Background(), "sample.wav", "audio/wav", strings.NewReader("fake-wav-data"), "")
	require.NoError(t, err)
	assert.Equal(t, "file123", uploaded.FileID)
	assert.Equal(t, int64(13), uploaded.Bytes)
}

func TestSystemVoiceCatalogue(t *testing.T) {
	assert.Len(t, SystemVoices(), 17)
	assert.True(t, IsSystemVoice("Wise_Woman"))
	assert.True(t, IsSystemVoice("Exuberant_Girl"))
	assert.False(t, IsSystemVoice("wise_woman"))
	assert.False(t, IsSystemVoice(""))
}

func TestVoiceIDPattern(t *testing.T) {
	assert.True(t, IsValidVoiceID("myVoice01"))
	assert.True(t, IsValidVoiceID("Abcdefgh"))
	assert.False(t, IsValidVoiceID("1startsWithDigit"))
	assert.False(t, IsValidVoiceID("short1"))
	assert.False(t, IsValidVoiceID("has-dash-x"))
}

func TestMediaTypeForFormat(t *testing.T) {
	mt, ok := MediaTypeForFormat("pcm")
	assert.True(t, ok)
	assert.Equal(t, "audio/x-wav", mt)

	_, ok = MediaTypeForFormat("ogg")
	assert.False(t, ok)
}
