package fishaudio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/smg1208/audio-crawler/pkg/config"
	"github.com/smg1208/audio-crawler/pkg/request"
	"github.com/smg1208/audio-crawler/pkg/tts"
)

// Name is the registry name of the provider.
const Name = "fish-audio"

const apiURL = "https://api.fish.audio/v1/tts"

// Provider implements tts.Provider for Fish Audio.
type Provider struct {
	apiKey  string
	voiceID string // Default voice ID (reference_id)
	modelID string // Model ID (e.g. "s1")
	client  *request.Client
	url     string
}

// NewProvider creates a new Fish Audio TTS provider.
func NewProvider(cfg config.FishAudioConfig, client *request.Client) *Provider {
	return &Provider{
		apiKey:  cfg.Key,
		voiceID: cfg.VoiceID,
		modelID: cfg.Model,
		client:  client,
		url:     apiURL,
	}
}

// requestBody represents the JSON payload for Fish Audio TTS.
type requestBody struct {
	Text        string `json:"text"`
	ReferenceID string `json:"reference_id"`
	ModelID     string `json:"model,omitempty"`
	Format      string `json:"format"`
	Mp3Bitrate  int    `json:"mp3_bitrate,omitempty"`
	Latency     string `json:"latency,omitempty"`
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return Name }

// Capabilities implements tts.Provider.
func (p *Provider) Capabilities() tts.Capabilities {
	return tts.Capabilities{MaxBytes: 4000, Concurrency: 5}
}

// IsAvailable reports whether an API key is configured.
func (p *Provider) IsAvailable() bool { return p.apiKey != "" }

// DefaultVoice is used when Synthesize receives no voice.
func (p *Provider) DefaultVoice() string { return p.voiceID }

// Synthesize generates mp3 speech from text using Fish Audio.
func (p *Provider) Synthesize(ctx context.Context, text, voiceID string) (*tts.Audio, error) {
	if !p.IsAvailable() {
		return nil, tts.Unavailable(Name, "FISH_AUDIO_API_KEY is not set")
	}
	vid := p.voiceID
	if voiceID != "" {
		vid = voiceID
	}
	if vid == "" {
		return nil, tts.NewFatalError(Name, 0, "no voice ID configured")
	}

	jsonData, err := json.Marshal(requestBody{
		Text:        text,
		ReferenceID: vid,
		ModelID:     p.modelID,
		Format:      "mp3",
		Mp3Bitrate:  128,
		Latency:     "normal",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	headers := map[string]string{
		"Authorization": "Bearer " + p.apiKey,
		"Content-Type":  "application/json",
	}
	if p.modelID != "" {
		headers["model"] = p.modelID
	}

	data, err := p.client.Post(ctx, Name, p.url, jsonData, headers)
	if err != nil {
		tts.Log(Name, text, request.StatusCode(err), err)
		return nil, request.Classify(Name, err)
	}
	if len(data) == 0 {
		tts.Log(Name, text, http.StatusOK, fmt.Errorf("empty audio"))
		return nil, tts.Failed(Name, http.StatusOK, "received empty audio", nil)
	}

	tts.Log(Name, text, http.StatusOK, nil)
	return &tts.Audio{Data: data, Format: "mp3"}, nil
}

// Voices returns the configured reference voice. Fish Audio hosts thousands
// of community voices, so there is no useful full listing.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	if p.voiceID == "" {
		return nil, nil
	}
	return []tts.Voice{
		{
			ID:       p.voiceID,
			Name:     "Configured Fish Audio Voice",
			Language: "multi",
			IsNeural: true,
		},
	}, nil
}
