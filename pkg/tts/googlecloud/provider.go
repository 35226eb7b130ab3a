// Package googlecloud implements the Google Cloud Text-to-Speech provider.
package googlecloud

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	texttospeech "google.golang.org/api/texttospeech/v1"

	"github.com/smg1208/audio-crawler/pkg/config"
	"github.com/smg1208/audio-crawler/pkg/tts"
)

// Name is the registry name of the provider.
const Name = "google-cloud"

// Provider implements tts.Provider for Google Cloud Text-to-Speech.
type Provider struct {
	cfg        config.GoogleCloudConfig
	speechRate string
	opts       []option.ClientOption

	mu  sync.Mutex
	svc *texttospeech.Service
}

// NewProvider creates a new Google Cloud TTS provider. The API client is
// created on first use with opts appended to the credential options.
func NewProvider(cfg config.GoogleCloudConfig, speechRate string, opts ...option.ClientOption) *Provider {
	return &Provider{cfg: cfg, speechRate: speechRate, opts: opts}
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return Name }

// Capabilities implements tts.Provider.
func (p *Provider) Capabilities() tts.Capabilities {
	return tts.Capabilities{
		MaxBytes:          4500,
		MaxSentenceLength: 150,
		Concurrency:       10,
		RetryDelay:        time.Second,
	}
}

// IsAvailable reports whether an API key or a readable credentials file is configured.
func (p *Provider) IsAvailable() bool {
	if p.cfg.APIKey != "" {
		return true
	}
	if p.cfg.CredentialsFile == "" {
		return false
	}
	_, err := os.Stat(p.cfg.CredentialsFile)
	return err == nil
}

// DefaultVoice is used when Synthesize receives no voice.
func (p *Provider) DefaultVoice() string { return p.cfg.VoiceID }

func (p *Provider) service(ctx context.Context) (*texttospeech.Service, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.svc != nil {
		return p.svc, nil
	}

	opts := append([]option.ClientOption(nil), p.opts...)
	switch {
	case p.cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(p.cfg.APIKey))
	case p.cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(p.cfg.CredentialsFile))
	}

	svc, err := texttospeech.NewService(ctx, opts...)
	if err != nil {
		return nil, tts.Unavailable(Name, fmt.Sprintf("failed to create client: %v", err))
	}
	p.svc = svc
	return svc, nil
}

// Synthesize generates mp3 speech from text.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (*tts.Audio, error) {
	if !p.IsAvailable() {
		return nil, tts.Unavailable(Name, "GOOGLE_TTS_API_KEY or GOOGLE_APPLICATION_CREDENTIALS is required")
	}
	svc, err := p.service(ctx)
	if err != nil {
		return nil, err
	}
	if voice == "" {
		voice = p.cfg.VoiceID
	}

	req := &texttospeech.SynthesizeSpeechRequest{
		Input: &texttospeech.SynthesisInput{Text: text},
		Voice: &texttospeech.VoiceSelectionParams{
			LanguageCode: p.languageFor(voice),
			Name:         voice,
		},
		AudioConfig: &texttospeech.AudioConfig{
			AudioEncoding: "MP3",
			SpeakingRate:  tts.SpeedFactor(p.speechRate),
		},
	}

	resp, err := svc.Text.Synthesize(req).Context(ctx).Do()
	if err != nil {
		tts.Log(Name, text, statusCode(err), err)
		return nil, classify(err)
	}

	data, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, tts.Failed(Name, http.StatusOK, "invalid audio content", err)
	}
	if len(data) == 0 {
		return nil, tts.Failed(Name, http.StatusOK, "empty audio content", nil)
	}
	tts.Log(Name, text, http.StatusOK, nil)
	return &tts.Audio{Data: data, Format: "mp3"}, nil
}

// languageFor derives the language from a voice such as "vi-VN-Wavenet-A",
// falling back to the configured language code.
func (p *Provider) languageFor(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) == 3 {
		return parts[0] + "-" + parts[1]
	}
	if p.cfg.LanguageCode != "" {
		return p.cfg.LanguageCode
	}
	return "vi-VN"
}

// Voices lists the voices for the configured language.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	if !p.IsAvailable() {
		return nil, tts.Unavailable(Name, "GOOGLE_TTS_API_KEY or GOOGLE_APPLICATION_CREDENTIALS is required")
	}
	svc, err := p.service(ctx)
	if err != nil {
		return nil, err
	}

	call := svc.Voices.List().Context(ctx)
	if p.cfg.LanguageCode != "" {
		call = call.LanguageCode(p.cfg.LanguageCode)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, classify(err)
	}

	voices := make([]tts.Voice, 0, len(resp.Voices))
	for _, v := range resp.Voices {
		lang := ""
		if len(v.LanguageCodes) > 0 {
			lang = v.LanguageCodes[0]
		}
		voices = append(voices, tts.Voice{
			ID:       v.Name,
			Name:     v.Name,
			Language: lang,
			IsNeural: strings.Contains(v.Name, "Wavenet") || strings.Contains(v.Name, "Neural") || strings.Contains(v.Name, "Chirp"),
		})
	}
	return voices, nil
}

func statusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}

func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return tts.FromStatus(Name, gerr.Code, gerr.Message)
	}
	return tts.FromMessage(Name, err)
}
