// Package fptai implements the FPT.AI text-to-speech provider.
//
// FPT.AI answers a synthesis request with the URL where the mp3 will
// appear; the file is polled until it is ready.
package fptai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/smg1208/audio-crawler/pkg/config"
	"github.com/smg1208/audio-crawler/pkg/request"
	"github.com/smg1208/audio-crawler/pkg/tts"
)

// Name is the registry name of the provider.
const Name = "fpt-ai"

const (
	apiURL       = "https://api.fpt.ai/hmi/tts/v5"
	pollInterval = 2 * time.Second
	pollTimeout  = 90 * time.Second
)

// Provider implements tts.Provider for FPT.AI.
type Provider struct {
	cfg    config.FPTAIConfig
	client *request.Client
	url    string

	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewProvider creates a new FPT.AI provider.
func NewProvider(cfg config.FPTAIConfig, client *request.Client) *Provider {
	return &Provider{
		cfg:          cfg,
		client:       client,
		url:          apiURL,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
	}
}

type response struct {
	Async     string `json:"async"`
	Error     int    `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return Name }

// Capabilities implements tts.Provider.
func (p *Provider) Capabilities() tts.Capabilities {
	return tts.Capabilities{MaxBytes: 2000, Concurrency: 2, RetryDelay: 2 * time.Second}
}

// IsAvailable reports whether an API key is configured.
func (p *Provider) IsAvailable() bool { return p.cfg.Key != "" }

// DefaultVoice is used when Synthesize receives no voice.
func (p *Provider) DefaultVoice() string { return p.cfg.VoiceID }

// Synthesize requests speech and waits for the rendered mp3.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (*tts.Audio, error) {
	if !p.IsAvailable() {
		return nil, tts.Unavailable(Name, "FPT_AI_API_KEY is not set")
	}
	if voice == "" {
		voice = p.cfg.VoiceID
	}

	headers := map[string]string{
		"api-key":      p.cfg.Key,
		"voice":        voice,
		"Content-Type": "text/plain; charset=utf-8",
	}
	if p.cfg.Speed != "" {
		headers["speed"] = p.cfg.Speed
	}

	body, err := p.client.Post(ctx, Name, p.url, []byte(text), headers)
	if err != nil {
		tts.Log(Name, text, request.StatusCode(err), err)
		return nil, request.Classify(Name, err)
	}

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, tts.Failed(Name, http.StatusOK, "invalid response", err)
	}
	if r.Error != 0 || r.Async == "" {
		tts.Log(Name, text, http.StatusOK, fmt.Errorf("api error %d: %s", r.Error, r.Message))
		return nil, p.apiError(r)
	}

	data, err := p.poll(ctx, r.Async)
	if err != nil {
		tts.Log(Name, text, request.StatusCode(err), err)
		return nil, err
	}
	tts.Log(Name, text, http.StatusOK, nil)
	return &tts.Audio{Data: data, Format: "mp3"}, nil
}

func (p *Provider) apiError(r response) error {
	msg := r.Message
	if msg == "" {
		msg = "no result url"
	}
	switch {
	case tts.IsAuthMessage(msg):
		return tts.Unavailable(Name, msg)
	case tts.IsRateLimitMessage(msg):
		return tts.RateLimited(Name, 0, msg)
	}
	return tts.Failed(Name, 0, fmt.Sprintf("api error %d: %s", r.Error, msg), nil)
}

// poll fetches the result url until the file exists. 404 means not ready yet.
func (p *Provider) poll(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.pollTimeout)
	defer cancel()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		data, err := p.client.Get(ctx, Name, url, nil)
		switch {
		case err == nil && len(data) > 0:
			return data, nil
		case err == nil, request.StatusCode(err) == http.StatusNotFound:
			// Not rendered yet.
		default:
			return nil, request.Classify(Name, err)
		}

		select {
		case <-ctx.Done():
			return nil, tts.Failed(Name, 0, "audio was not ready in time", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Voices returns the FPT.AI Vietnamese voices.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	return []tts.Voice{
		{ID: "banmai", Name: "Ban Mai (Northern female)", Language: "vi-VN"},
		{ID: "leminh", Name: "Le Minh (Northern male)", Language: "vi-VN"},
		{ID: "thuminh", Name: "Thu Minh (Northern female)", Language: "vi-VN"},
		{ID: "giahuy", Name: "Gia Huy (Central male)", Language: "vi-VN"},
		{ID: "myan", Name: "My An (Central female)", Language: "vi-VN"},
		{ID: "lannhi", Name: "Lan Nhi (Southern female)", Language: "vi-VN"},
		{ID: "linhsan", Name: "Linh San (Southern female)", Language: "vi-VN"},
		{ID: "minhquang", Name: "Minh Quang (Southern male)", Language: "vi-VN"},
	}, nil
}
