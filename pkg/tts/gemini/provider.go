// Package gemini implements speech generation through Gemini audio output.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/smg1208/audio-crawler/pkg/audio"
	"github.com/smg1208/audio-crawler/pkg/config"
	"github.com/smg1208/audio-crawler/pkg/tracker"
	"github.com/smg1208/audio-crawler/pkg/tts"
)

// Name is the registry name of the provider.
const Name = "gemini"

// Gemini speech is 16-bit mono PCM; the rate comes from the MIME type.
const (
	defaultSampleRate = 24000
	channels          = 1
	bitsPerSample     = 16
)

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Provider implements tts.Provider for Gemini TTS models.
type Provider struct {
	cfg        config.GeminiConfig
	httpClient *http.Client
	tracker    *tracker.Tracker

	mu  sync.Mutex
	gen generator
}

// NewProvider creates a Gemini provider. The genai client is created on first use.
func NewProvider(cfg config.GeminiConfig, httpClient *http.Client, t *tracker.Tracker) *Provider {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash-preview-tts"
	}
	return &Provider{cfg: cfg, httpClient: httpClient, tracker: t}
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return Name }

// Capabilities implements tts.Provider.
func (p *Provider) Capabilities() tts.Capabilities {
	return tts.Capabilities{MaxBytes: 4000, Concurrency: 2, RetryDelay: 5 * time.Second}
}

// IsAvailable reports whether an API key is configured.
func (p *Provider) IsAvailable() bool { return p.cfg.Key != "" }

// DefaultVoice is used when Synthesize receives no voice.
func (p *Provider) DefaultVoice() string { return p.cfg.VoiceID }

func (p *Provider) client(ctx context.Context) (generator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != nil {
		return p.gen, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     p.cfg.Key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.httpClient,
	})
	if err != nil {
		return nil, tts.Unavailable(Name, fmt.Sprintf("failed to create genai client: %v", err))
	}
	p.gen = c.Models
	return p.gen, nil
}

// Synthesize asks the model for audio output and wraps the PCM in a wav container.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (*tts.Audio, error) {
	if !p.IsAvailable() {
		return nil, tts.Unavailable(Name, "GEMINI_API_KEY is not set")
	}
	gen, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	if voice == "" {
		voice = p.cfg.VoiceID
	}

	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}

	resp, err := gen.GenerateContent(ctx, p.cfg.Model, genai.Text(text), cfg)
	if err != nil {
		p.trackFailure()
		tts.Log(Name, text, statusCode(err), err)
		return nil, classify(err)
	}

	pcm, rate, err := extractPCM(resp)
	if err != nil {
		p.trackFailure()
		tts.Log(Name, text, http.StatusOK, err)
		return nil, tts.Failed(Name, http.StatusOK, "", err)
	}

	tts.Log(Name, text, http.StatusOK, nil)
	if p.tracker != nil {
		p.tracker.TrackAPISuccess(Name)
	}
	return &tts.Audio{Data: audio.WAVFromPCM(pcm, rate, channels, bitsPerSample), Format: "wav"}, nil
}

func (p *Provider) trackFailure() {
	if p.tracker != nil {
		p.tracker.TrackAPIFailure(Name)
	}
}

// Voices returns the prebuilt Gemini voices best suited to narration.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	names := []string{"Kore", "Puck", "Charon", "Aoede", "Leda", "Orus", "Zephyr", "Fenrir"}
	voices := make([]tts.Voice, 0, len(names))
	for _, n := range names {
		voices = append(voices, tts.Voice{ID: n, Name: n, Language: "multi", IsNeural: true})
	}
	return voices, nil
}

// extractPCM concatenates the inline audio parts of the first candidate.
func extractPCM(resp *genai.GenerateContentResponse) ([]byte, int, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, 0, errors.New("no candidates returned")
	}

	rate := defaultSampleRate
	var pcm []byte
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil {
			continue
		}
		if r := sampleRate(part.InlineData.MIMEType); r > 0 {
			rate = r
		}
		pcm = append(pcm, part.InlineData.Data...)
	}
	if len(pcm) == 0 {
		return nil, 0, errors.New("response contained no audio")
	}
	return pcm, rate, nil
}

// sampleRate reads the rate parameter of a MIME type such as
// "audio/L16;codec=pcm;rate=24000".
func sampleRate(mime string) int {
	for _, param := range strings.Split(mime, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if ok && strings.EqualFold(k, "rate") {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return 0
}

func statusCode(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code
	}
	return 0
}

func classify(err error) error {
	if code := statusCode(err); code != 0 {
		return tts.FromStatus(Name, code, err.Error())
	}
	return tts.FromMessage(Name, err)
}
