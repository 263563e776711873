package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/echovoice/echovoice/internal/pkg/env"
)

const defaultMinimaxBaseURL = "https://api.minimax.io"

// ErrInsufficientCredits signals the vendor rejected the call because the
// account ran out of vendor-side credits.
var ErrInsufficientCredits = errors.New("tts: insufficient vendor credits")

// APIError carries a non-2xx vendor response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tts: vendor returned status %d: %s", e.StatusCode, e.Body)
}

// MinimaxClient talks to the Minimax speech API.
type MinimaxClient struct {
	GroupID string
	APIKey  string
	BaseURL string

	HTTPClient *http.Client
}

func NewMinimaxClientFromEnv() *MinimaxClient {
	return &MinimaxClient{
		GroupID: strings.TrimSpace(env.GetEnv("MINIMAX_GROUP_ID", "")),
		APIKey:  strings.TrimSpace(env.GetEnv("MINIMAX_API_KEY", "")),
		BaseURL: strings.TrimRight(env.GetEnv("MINIMAX_API_BASE_URL", defaultMinimaxBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SynthesisResult holds the raw audio stream returned by the vendor. The
// caller owns Body and must close it.
type SynthesisResult struct {
	Body      io.ReadCloser
	MediaType string
}

// Synthesize forwards a t2a request and returns the vendor response body as a
// stream so large audio never needs full buffering.
func (c *MinimaxClient) Synthesize(ctx context.Context, req *SynthesisRequest) (*SynthesisResult, error) {
	mediaType, ok := MediaTypeForFormat(req.Format())
	if !ok {
		return nil, fmt.Errorf("tts: unsupported audio format %q", req.Format())
	}

	resp, err := c.postJSONRaw(ctx, c.groupURL("/v1/t2a_v2"), req)
	if err != nil {
		return nil, err
	}
	return &SynthesisResult{Body: resp.Body, MediaType: mediaType}, nil
}

// DesignVoice creates a voice from a prompt, then runs a short synthesis
// against it so the vendor marks the voice active.
func (c *MinimaxClient) DesignVoice(ctx context.Context, req *DesignRequest) (*DesignedVoice, error) {
	var out struct {
		VoiceID    string `json:"voice_id"`
		TrialAudio string `json:"trial_audio"`
	}
	if err := c.postJSON(ctx, c.BaseURL+"/v1/voice_design", req, &out); err != nil {
		return nil, err
	}
	if out.VoiceID == "" {
		return nil, errors.New("tts: voice design response missing voice_id")
	}

	if err := c.activateVoice(ctx, out.VoiceID, req.Prompt); err != nil {
		return nil, err
	}
	return &DesignedVoice{VoiceID: out.VoiceID, PreviewAudio: out.TrialAudio}, nil
}

// CloneVoice clones a voice from a previously uploaded sample file and
// activates it.
func (c *MinimaxClient) CloneVoice(ctx context.Context, req *CloneRequest) (*ClonedVoice, error) {
	var out struct {
		InputSensitive bool   `json:"input_sensitive"`
		PreviewAudio   string `json:"preview_audio"`
	}
	if err := c.postJSON(ctx, c.groupURL("/v1/voice_clone"), req, &out); err != nil {
		return nil, err
	}

	if err := c.activateVoice(ctx, req.VoiceID, "Voice activation"); err != nil {
		return nil, err
	}
	return &ClonedVoice{
		VoiceID:        req.VoiceID,
		InputSensitive: out.InputSensitive,
		PreviewAudio:   out.PreviewAudio,
	}, nil
}

// UploadFile sends a voice sample to the vendor file store and returns the
// file id used by CloneVoice.
func (c *MinimaxClient) UploadFile(ctx context.Context, filename, contentType string, sample io.Reader, purpose string) (*UploadedFile, error) {
	if purpose == "" {
		purpose = "voice_clone"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, sample); err != nil {
		return nil, err
	}
	if err := writer.WriteField("purpose", purpose); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.groupURL("/v1/files/upload"), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		File UploadedFile `json:"file"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("tts: decoding upload response: %w", err)
	}
	if out.File.FileID == "" {
		return nil, errors.New("tts: upload response missing file id")
	}
	return &out.File, nil
}

// activateVoice issues a minimal synthesis call against a freshly created
// voice. The vendor keeps new voices dormant until first use.
func (c *MinimaxClient) activateVoice(ctx context.Context, voiceID, text string) error {
	payload := map[string]interface{}{
		"text": text,
		"voice_setting": map[string]string{
			"voice_id": voiceID,
		},
		"audio_setting": map[string]string{
			"format": "mp3",
		},
	}
	resp, err := c.postJSONRaw(ctx, c.groupURL("/v1/t2a_v2"), payload)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *MinimaxClient) groupURL(path string) string {
	return c.BaseURL + path + "?GroupId=" + url.QueryEscape(c.GroupID)
}

func (c *MinimaxClient) postJSON(ctx context.Context, rawURL string, payload, out interface{}) error {
	resp, err := c.postJSONRaw(ctx, rawURL, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("tts: decoding vendor response: %w", err)
	}
	return nil
}

func (c *MinimaxClient) postJSONRaw(ctx context.Context, rawURL string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *MinimaxClient) do(req *http.Request) (*http.Response, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusPaymentRequired {
			io.Copy(io.Discard, resp.Body)
			return nil, ErrInsufficientCredits
		}
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return resp, nil
}
