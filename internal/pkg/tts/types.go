package tts

import "regexp"

// voiceIDPattern is the id shape the vendor accepts for cloned voices.
var voiceIDPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9]{7,}$`)

// IsValidVoiceID reports whether id is an acceptable clone voice id.
func IsValidVoiceID(id string) bool {
	return voiceIDPattern.MatchString(id)
}

// systemVoices is the fixed catalogue of vendor-provided voice ids every
// subscriber may use without owning a clone or design.
var systemVoices = []string{
	"Wise_Woman", "Friendly_Person", "Inspirational_girl", "Deep_Voice_Man",
	"Calm_Woman", "Casual_Guy", "Lively_Girl", "Patient_Man", "Young_Knight",
	"Determined_Man", "Lovely_Girl", "Decent_Boy", "Imposing_Manner",
	"Elegant_Man", "Abbess", "Sweet_Girl_2", "Exuberant_Girl",
}

// supportedFormats maps audio formats we accept to the media type we answer
// with when streaming synthesized audio back.
var supportedFormats = map[string]string{
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"flac": "audio/flac",
	"pcm":  "audio/x-wav",
}

// allowedSampleTypes are the upload content types accepted for voice samples.
var allowedSampleTypes = map[string]bool{
	"audio/mpeg": true,
	"audio/m4a":  true,
	"audio/wav":  true,
}

// SystemVoices returns a copy of the built-in voice id list.
func SystemVoices() []string {
	out := make([]string, len(systemVoices))
	copy(out, systemVoices)
	return out
}

// IsSystemVoice reports whether id is one of the built-in vendor voices.
func IsSystemVoice(id string) bool {
	for _, v := range systemVoices {
		if v == id {
			return true
		}
	}
	return false
}

// MediaTypeForFormat returns the response media type for an audio format and
// whether the format is supported at all.
func MediaTypeForFormat(format string) (string, bool) {
	mt, ok := supportedFormats[format]
	return mt, ok
}

// SupportedFormats lists the accepted audio formats.
func SupportedFormats() []string {
	out := make([]string, 0, len(supportedFormats))
	for f := range supportedFormats {
		out = append(out, f)
	}
	return out
}

// IsAllowedSampleType reports whether a voice sample upload content type is
// accepted.
func IsAllowedSampleType(contentType string) bool {
	return allowedSampleTypes[contentType]
}

// VoiceSetting selects and shapes the voice used for synthesis.
type VoiceSetting struct {
	Speed                float64 `json:"speed,omitempty" validate:"omitempty,gte=0.5,lte=2"`
	Volume               float64 `json:"vol,omitempty" validate:"omitempty,gt=0,lte=10"`
	Pitch                int     `json:"pitch,omitempty" validate:"omitempty,gte=-12,lte=12"`
	VoiceID              string  `json:"voice_id" validate:"required"`
	Emotion              string  `json:"emotion,omitempty" validate:"omitempty,oneof=happy sad angry fearful disgusted surprised neutral"`
	EnglishNormalization bool    `json:"english_normalization,omitempty"`
}

// AudioSetting shapes the synthesized output stream.
type AudioSetting struct {
	SampleRate int    `json:"sample_rate,omitempty" validate:"omitempty,oneof=8000 16000 22050 24000 32000 44100"`
	Bitrate    int    `json:"bitrate,omitempty" validate:"omitempty,oneof=32000 64000 128000 256000"`
	Format     string `json:"format,omitempty" validate:"omitempty,oneof=mp3 pcm flac wav"`
	Channel    int    `json:"channel,omitempty" validate:"omitempty,oneof=1 2"`
}

// TimberWeight mixes a system voice into the output at a given weight.
type TimberWeight struct {
	VoiceID string `json:"voice_id" validate:"required"`
	Weight  int    `json:"weight" validate:"required,gte=1,lte=100"`
}

// PronunciationDict carries text/symbol replacement rules.
type PronunciationDict struct {
	Replacements []string `json:"tone,omitempty"`
}

// SynthesisRequest is the payload forwarded to the vendor t2a endpoint.
type SynthesisRequest struct {
	Text              string             `json:"text" validate:"required,max=5000"`
	Model             string             `json:"model,omitempty" validate:"omitempty,oneof=speech-02-hd speech-02-turbo speech-01-hd speech-01-turbo"`
	VoiceSetting      VoiceSetting       `json:"voice_setting" validate:"required"`
	AudioSetting      AudioSetting       `json:"audio_setting,omitempty"`
	PronunciationDict *PronunciationDict `json:"pronunciation_dict,omitempty"`
	TimberWeights     []TimberWeight     `json:"timber_weights,omitempty" validate:"omitempty,dive"`
	Stream            bool               `json:"stream,omitempty"`
	LanguageBoost     string             `json:"language_boost,omitempty"`
	SubtitleEnable    bool               `json:"subtitle_enable,omitempty"`
	OutputFormat      string             `json:"output_format,omitempty" validate:"omitempty,oneof=url hex"`
}

// Format returns the effective audio format of the request.
func (r *SynthesisRequest) Format() string {
	if r.AudioSetting.Format == "" {
		return "mp3"
	}
	return r.AudioSetting.Format
}

// DesignRequest describes a voice to generate from a text prompt.
type DesignRequest struct {
	Prompt      string `json:"prompt" validate:"required,min=10,max=1000"`
	PreviewText string `json:"preview_text" validate:"required,max=500"`
}

// DesignedVoice is the result of a voice design call.
type DesignedVoice struct {
	VoiceID      string `json:"voice_id"`
	PreviewAudio string `json:"preview_audio"`
}

// CloneRequest describes a voice clone built from an uploaded sample.
type CloneRequest struct {
	FileID                  string  `json:"file_id" validate:"required"`
	VoiceID                 string  `json:"voice_id" validate:"required,min=8"`
	NeedNoiseReduction      bool    `json:"need_noise_reduction,omitempty"`
	Text                    string  `json:"text,omitempty" validate:"omitempty,max=2000"`
	Model                   string  `json:"model,omitempty" validate:"omitempty,oneof=speech-02-hd speech-02-turbo speech-01-hd speech-01-turbo"`
	Accuracy                float64 `json:"accuracy,omitempty" validate:"omitempty,gte=0,lte=1"`
	NeedVolumeNormalization bool    `json:"need_volumn_normalization,omitempty"`
}

// ClonedVoice is the result of a voice clone call.
type ClonedVoice struct {
	VoiceID        string `json:"voice_id"`
	InputSensitive bool   `json:"input_sensitive"`
	PreviewAudio   string `json:"preview_audio,omitempty"`
}

// UploadedFile is the vendor's record of an uploaded voice sample.
type UploadedFile struct {
	FileID    string `json:"file_id"`
	Filename  string `json:"filename"`
	Bytes     int64  `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
}
