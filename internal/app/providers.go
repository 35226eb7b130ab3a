package app

import (
	"context"
	"fmt"
	"sort"

	"github.com/smg1208/audio-crawler/pkg/config"
	"github.com/smg1208/audio-crawler/pkg/tts"
	"github.com/smg1208/audio-crawler/pkg/tts/azure"
	"github.com/smg1208/audio-crawler/pkg/tts/edgetts"
	"github.com/smg1208/audio-crawler/pkg/tts/fishaudio"
	"github.com/smg1208/audio-crawler/pkg/tts/fptai"
	"github.com/smg1208/audio-crawler/pkg/tts/gemini"
	"github.com/smg1208/audio-crawler/pkg/tts/googlecloud"
	"github.com/smg1208/audio-crawler/pkg/tts/local"
	"github.com/smg1208/audio-crawler/pkg/tts/openai"
	"github.com/smg1208/audio-crawler/pkg/tts/sapi"
)

// aliases maps accepted spellings to registry names.
var aliases = map[string]string{
	"edge":         edgetts.Name,
	"azure":        azure.Name,
	"fishaudio":    fishaudio.Name,
	"google":       googlecloud.Name,
	"googlecloud":  googlecloud.Name,
	"fptai":        fptai.Name,
	"fpt":          fptai.Name,
	"say":          local.MacOSName,
	"sapi":         sapi.Name,
	"windows_sapi": sapi.Name,
}

// ProviderNames lists every registry name in sorted order.
func ProviderNames() []string {
	names := []string{
		edgetts.Name, azure.Name, fishaudio.Name, googlecloud.Name, gemini.Name,
		openai.Name, fptai.Name, local.GTTSName, local.MacOSName, local.PiperName, sapi.Name,
	}
	sort.Strings(names)
	return names
}

// CanonicalName resolves an alias to its registry name.
func CanonicalName(name string) string {
	if n, ok := aliases[name]; ok {
		return n
	}
	return name
}

// Provider returns the provider registered under name, building it on first
// use. Configured limits are applied on top of the declared capabilities.
func (a *App) Provider(name string) (tts.Provider, error) {
	name = CanonicalName(name)

	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.providers[name]; ok {
		return p, nil
	}

	p, limits, err := a.build(name)
	if err != nil {
		return nil, err
	}
	p = applyLimits(p, limits)
	a.providers[name] = p
	return p, nil
}

func (a *App) build(name string) (tts.Provider, config.Limits, error) {
	c := &a.Cfg.TTS
	rate := c.Rate

	switch name {
	case edgetts.Name:
		return edgetts.NewProvider(c.EdgeTTS, rate, a.Tracker), c.EdgeTTS.Limits, nil
	case azure.Name:
		a.Request.SetRate(name, c.AzureSpeech.RequestsPerMinute)
		return azure.NewProvider(c.AzureSpeech, rate, a.Request), withoutRate(c.AzureSpeech.Limits), nil
	case fishaudio.Name:
		a.Request.SetRate(name, c.FishAudio.RequestsPerMinute)
		return fishaudio.NewProvider(c.FishAudio, a.Request), withoutRate(c.FishAudio.Limits), nil
	case fptai.Name:
		a.Request.SetRate(name, c.FPTAI.RequestsPerMinute)
		return fptai.NewProvider(c.FPTAI, a.Request), withoutRate(c.FPTAI.Limits), nil
	case googlecloud.Name:
		return googlecloud.NewProvider(c.GoogleCloud, rate), c.GoogleCloud.Limits, nil
	case gemini.Name:
		return gemini.NewProvider(c.Gemini, a.Request.HTTPClient(), a.Tracker), c.Gemini.Limits, nil
	case openai.Name:
		return openai.NewProvider(c.OpenAI, rate, a.Request.HTTPClient(), a.Tracker), c.OpenAI.Limits, nil
	case local.GTTSName:
		return local.NewGTTS(c.GTTS), c.GTTS.Limits, nil
	case local.MacOSName:
		return local.NewMacOS(c.MacOS), c.MacOS.Limits, nil
	case local.PiperName:
		return local.NewPiper(c.Piper), c.Piper.Limits, nil
	case sapi.Name:
		return sapi.NewProvider(c.SAPI), c.SAPI.Limits, nil
	default:
		return nil, config.Limits{}, fmt.Errorf("unknown tts provider: %q", name)
	}
}

// withoutRate drops the request rate of providers whose HTTP transport
// already enforces it.
func withoutRate(l config.Limits) config.Limits {
	l.RequestsPerMinute = 0
	return l
}

func applyLimits(p tts.Provider, l config.Limits) tts.Provider {
	p = tts.Throttle(p, l.RequestsPerMinute)
	if l.Concurrency > 0 && l.Concurrency != p.Capabilities().Concurrency {
		p = &limited{Provider: p, concurrency: l.Concurrency}
	}
	return p
}

// limited overrides the declared concurrency of a provider.
type limited struct {
	tts.Provider
	concurrency int
}

func (l *limited) Capabilities() tts.Capabilities {
	c := l.Provider.Capabilities()
	c.Concurrency = l.concurrency
	return c
}

func (l *limited) DefaultVoice() string {
	if dv, ok := l.Provider.(interface{ DefaultVoice() string }); ok {
		return dv.DefaultVoice()
	}
	return ""
}

func (l *limited) Voices(ctx context.Context) ([]tts.Voice, error) {
	if vl, ok := l.Provider.(tts.VoiceLister); ok {
		return vl.Voices(ctx)
	}
	return nil, fmt.Errorf("%s does not list voices", l.Name())
}
