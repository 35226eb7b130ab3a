package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/smg1208/audio-crawler/pkg/config"
	"github.com/smg1208/audio-crawler/pkg/request"
	"github.com/smg1208/audio-crawler/pkg/tts"
)

// Name is the registry name of the provider.
const Name = "azure-speech"

const outputFormat = "audio-24khz-160kbitrate-mono-mp3"

// Provider implements tts.Provider for Azure Speech.
type Provider struct {
	key        string
	region     string
	voiceID    string
	speechRate string
	client     *request.Client
	baseURL    string
}

// NewProvider creates a new Azure Speech TTS provider.
func NewProvider(cfg config.AzureSpeechConfig, speechRate string, client *request.Client) *Provider {
	return &Provider{
		key:        cfg.Key,
		region:     cfg.Region,
		voiceID:    cfg.VoiceID,
		speechRate: speechRate,
		client:     client,
		baseURL:    fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices", cfg.Region),
	}
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return Name }

// Capabilities implements tts.Provider.
func (p *Provider) Capabilities() tts.Capabilities {
	return tts.Capabilities{MaxBytes: 4000, Concurrency: 10}
}

// IsAvailable reports whether a key and region are configured.
func (p *Provider) IsAvailable() bool {
	return p.key != "" && p.region != ""
}

// DefaultVoice is used when Synthesize receives no voice.
func (p *Provider) DefaultVoice() string { return p.voiceID }

// Synthesize generates mp3 speech from text using Azure Speech.
func (p *Provider) Synthesize(ctx context.Context, text, voiceID string) (*tts.Audio, error) {
	if !p.IsAvailable() {
		return nil, tts.Unavailable(Name, "AZURE_SPEECH_KEY and AZURE_SPEECH_REGION are required")
	}
	vid := p.voiceID
	if voiceID != "" {
		vid = voiceID
	}
	if vid == "" {
		return nil, tts.NewFatalError(Name, 0, "no voice ID configured")
	}

	ssml := buildSSML(vid, p.speechRate, text)
	headers := map[string]string{
		"Ocp-Apim-Subscription-Key": p.key,
		"Content-Type":              "application/ssml+xml",
		"X-Microsoft-OutputFormat":  outputFormat,
	}

	data, err := p.client.Post(ctx, Name, p.baseURL+"/v1", []byte(ssml), headers)
	if err != nil {
		tts.Log(Name, ssml, request.StatusCode(err), err)
		return nil, request.Classify(Name, err)
	}
	tts.Log(Name, ssml, http.StatusOK, nil)

	if len(data) == 0 {
		return nil, tts.Failed(Name, http.StatusOK, "empty audio response", nil)
	}
	return &tts.Audio{Data: data, Format: "mp3"}, nil
}

type voiceEntry struct {
	ShortName   string `json:"ShortName"`
	DisplayName string `json:"DisplayName"`
	Locale      string `json:"Locale"`
	VoiceType   string `json:"VoiceType"`
}

// Voices lists the voices of the configured region.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	if !p.IsAvailable() {
		return nil, tts.Unavailable(Name, "AZURE_SPEECH_KEY and AZURE_SPEECH_REGION are required")
	}
	data, err := p.client.Get(ctx, Name, p.baseURL+"/voices/list", map[string]string{
		"Ocp-Apim-Subscription-Key": p.key,
	})
	if err != nil {
		return nil, request.Classify(Name, err)
	}

	var entries []voiceEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode voice list: %w", err)
	}
	voices := make([]tts.Voice, 0, len(entries))
	for _, e := range entries {
		voices = append(voices, tts.Voice{
			ID:       e.ShortName,
			Name:     e.DisplayName,
			Language: e.Locale,
			IsNeural: strings.EqualFold(e.VoiceType, "Neural"),
		})
	}
	return voices, nil
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"\"", "&quot;",
	"'", "&apos;",
)

func buildSSML(vid, speechRate, text string) string {
	body := xmlEscaper.Replace(text)
	if speechRate != "" {
		body = fmt.Sprintf("<prosody rate='%s'>%s</prosody>", xmlEscaper.Replace(speechRate), body)
	}
	return fmt.Sprintf(
		`<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xmlns:mstts='https://www.w3.org/2001/mstts' xml:lang='%s'><voice name='%s'>%s</voice></speak>`,
		voiceLanguage(vid), vid, body,
	)
}

// voiceLanguage returns the locale prefix of a voice name.
func voiceLanguage(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) < 3 {
		return "en-US"
	}
	return parts[0] + "-" + parts[1]
}
