// Package openai implements the OpenAI speech endpoint provider.
package openai

import (
	"context"
	"errors"
	"io"
	"net/http"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/smg1208/audio-crawler/pkg/config"
	"github.com/smg1208/audio-crawler/pkg/tracker"
	"github.com/smg1208/audio-crawler/pkg/tts"
)

// Name is the registry name of the provider.
const Name = "openai"

// Provider implements tts.Provider for OpenAI-compatible speech endpoints.
type Provider struct {
	cfg        config.OpenAIConfig
	speechRate string
	client     *goopenai.Client
	tracker    *tracker.Tracker
}

// NewProvider creates an OpenAI provider. A non-nil httpClient carries the requests.
func NewProvider(cfg config.OpenAIConfig, speechRate string, httpClient *http.Client, t *tracker.Tracker) *Provider {
	oc := goopenai.DefaultConfig(cfg.Key)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if httpClient != nil {
		oc.HTTPClient = httpClient
	}
	if cfg.Model == "" {
		cfg.Model = string(goopenai.TTSModel1)
	}
	return &Provider{
		cfg:        cfg,
		speechRate: speechRate,
		client:     goopenai.NewClientWithConfig(oc),
		tracker:    t,
	}
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return Name }

// Capabilities implements tts.Provider.
func (p *Provider) Capabilities() tts.Capabilities {
	return tts.Capabilities{MaxBytes: 4096, Concurrency: 5}
}

// IsAvailable reports whether an API key is configured.
func (p *Provider) IsAvailable() bool { return p.cfg.Key != "" }

// DefaultVoice is used when Synthesize receives no voice.
func (p *Provider) DefaultVoice() string { return p.cfg.VoiceID }

// Synthesize generates mp3 speech with CreateSpeech.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (*tts.Audio, error) {
	if !p.IsAvailable() {
		return nil, tts.Unavailable(Name, "OPENAI_API_KEY is not set")
	}
	if voice == "" {
		voice = p.cfg.VoiceID
	}

	resp, err := p.client.CreateSpeech(ctx, goopenai.CreateSpeechRequest{
		Model:          goopenai.SpeechModel(p.cfg.Model),
		Input:          text,
		Voice:          goopenai.SpeechVoice(voice),
		ResponseFormat: goopenai.SpeechResponseFormatMp3,
		Speed:          tts.SpeedFactor(p.speechRate),
	})
	if err != nil {
		p.trackFailure()
		tts.Log(Name, text, statusCode(err), err)
		return nil, classify(err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		p.trackFailure()
		return nil, tts.Failed(Name, 0, "failed to read speech response", err)
	}
	if len(data) == 0 {
		p.trackFailure()
		return nil, tts.Failed(Name, http.StatusOK, "empty audio response", nil)
	}

	tts.Log(Name, text, http.StatusOK, nil)
	if p.tracker != nil {
		p.tracker.TrackAPISuccess(Name)
	}
	return &tts.Audio{Data: data, Format: "mp3"}, nil
}

// Voices returns the built-in speech voices.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	names := []goopenai.SpeechVoice{
		goopenai.VoiceAlloy, goopenai.VoiceEcho, goopenai.VoiceFable,
		goopenai.VoiceOnyx, goopenai.VoiceNova, goopenai.VoiceShimmer,
	}
	voices := make([]tts.Voice, 0, len(names))
	for _, n := range names {
		voices = append(voices, tts.Voice{ID: string(n), Name: string(n), Language: "multi", IsNeural: true})
	}
	return voices, nil
}

func (p *Provider) trackFailure() {
	if p.tracker != nil {
		p.tracker.TrackAPIFailure(Name)
	}
}

func statusCode(err error) int {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func classify(err error) error {
	if code := statusCode(err); code != 0 {
		return tts.FromStatus(Name, code, err.Error())
	}
	return tts.FromMessage(Name, err)
}
