package sapi

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"

	"github.com/smg1208/audio-crawler/pkg/config"
	"github.com/smg1208/audio-crawler/pkg/tts"
)

// Name is the registry name of the provider.
const Name = "windows-sapi"

// Provider implements tts.Provider using Windows SAPI5 via OLE.
// SAPI voices are not reentrant, so calls are serialized.
type Provider struct {
	voiceID string
	mu      sync.Mutex
}

// NewProvider creates a new SAPI5 provider.
func NewProvider(cfg config.SAPIConfig) *Provider {
	return &Provider{voiceID: cfg.VoiceID}
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return Name }

// Capabilities implements tts.Provider.
func (p *Provider) Capabilities() tts.Capabilities {
	return tts.Capabilities{MaxBytes: 4000, Concurrency: 1}
}

// IsAvailable reports whether SAPI can exist on this platform.
func (p *Provider) IsAvailable() bool { return runtime.GOOS == "windows" }

// DefaultVoice is used when Synthesize receives no voice.
func (p *Provider) DefaultVoice() string { return p.voiceID }

// comInit initializes COM on the current OS thread. The returned func
// undoes it and must run on the same thread.
func comInit() func() {
	runtime.LockOSThread()
	if err := ole.CoInitialize(0); err != nil {
		// Already initialized on this thread.
		return runtime.UnlockOSThread
	}
	return func() {
		ole.CoUninitialize()
		runtime.UnlockOSThread()
	}
}

// Synthesize renders text to wav through a temporary SpFileStream.
func (p *Provider) Synthesize(ctx context.Context, text, voiceID string) (*tts.Audio, error) {
	if !p.IsAvailable() {
		return nil, tts.Unavailable(Name, "SAPI requires Windows")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if voiceID == "" {
		voiceID = p.voiceID
	}

	tmp, err := os.CreateTemp("", "sapi-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	if err := p.speakToFile(text, voiceID, filepath.Clean(path)); err != nil {
		tts.Log(Name, text, 0, err)
		return nil, tts.Failed(Name, 0, "", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, tts.Failed(Name, 0, "failed to read rendered audio", err)
	}
	tts.Log(Name, text, 200, nil)
	return &tts.Audio{Data: data, Format: "wav"}, nil
}

func (p *Provider) speakToFile(text, voiceID, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer comInit()()

	unknown, err := oleutil.CreateObject("SAPI.SpVoice")
	if err != nil {
		return fmt.Errorf("failed to create SAPI.SpVoice: %w", err)
	}
	voice, err := unknown.QueryInterface(ole.IID_IDispatch)
	unknown.Release()
	if err != nil {
		return fmt.Errorf("QueryInterface SpVoice failed: %w", err)
	}
	defer voice.Release()

	if voiceID != "" {
		p.setVoiceByID(voice, voiceID)
	}

	unknownStream, err := oleutil.CreateObject("SAPI.SpFileStream")
	if err != nil {
		return fmt.Errorf("failed to create SAPI.SpFileStream: %w", err)
	}
	stream, err := unknownStream.QueryInterface(ole.IID_IDispatch)
	unknownStream.Release()
	if err != nil {
		return fmt.Errorf("QueryInterface SpFileStream failed: %w", err)
	}
	defer stream.Release()

	// Mode 3 is SSFMCreateForWrite.
	if _, err := oleutil.CallMethod(stream, "Open", path, 3, false); err != nil {
		return fmt.Errorf("stream Open failed: %w", err)
	}
	defer func() {
		_, _ = oleutil.CallMethod(stream, "Close")
	}()

	if _, err := oleutil.PutPropertyRef(voice, "AudioOutputStream", stream); err != nil {
		return fmt.Errorf("failed to set AudioOutputStream: %w", err)
	}
	if _, err := oleutil.CallMethod(voice, "Speak", text, 0); err != nil {
		return fmt.Errorf("speak failed: %w", err)
	}
	return nil
}

// Voices lists available SAPI voices.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	if !p.IsAvailable() {
		return nil, tts.Unavailable(Name, "SAPI requires Windows")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	defer comInit()()

	unknown, err := oleutil.CreateObject("SAPI.SpVoice")
	if err != nil {
		return nil, err
	}
	voice, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		unknown.Release()
		return nil, err
	}
	defer voice.Release()

	// GetVoices returns ISpeechObjectTokens.
	tokensVar, err := oleutil.CallMethod(voice, "GetVoices")
	if err != nil {
		tokensVar, err = oleutil.GetProperty(voice, "Voices")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get voices collection: %w", err)
	}
	tokens := tokensVar.ToIDispatch()
	if tokens == nil {
		return nil, fmt.Errorf("voices collection is nil")
	}
	defer tokens.Release()

	countVar, err := oleutil.GetProperty(tokens, "Count")
	if err != nil {
		return nil, fmt.Errorf("GetVoices Count failed: %w", err)
	}

	count := p.getVariantInt(countVar)

	var voices []tts.Voice
	_ = oleutil.ForEach(tokens, func(v *ole.VARIANT) error {
		if voice, ok := p.extractVoice(v); ok {
			voices = append(voices, voice)
		}
		return nil
	})

	if len(voices) == 0 {
		voices = p.fallbackManualEnum(tokens, count)
	}

	return voices, nil
}

func (p *Provider) getVariantInt(v *ole.VARIANT) int {
	val := v.Value()
	if val == nil {
		return int(v.Val)
	}
	switch it := val.(type) {
	case int32:
		return int(it)
	case int64:
		return int(it)
	case int:
		return it
	case uint32:
		return int(it)
	default:
		return int(v.Val)
	}
}

func (p *Provider) extractVoice(v *ole.VARIANT) (tts.Voice, bool) {
	item := v.ToIDispatch()
	if item == nil {
		return tts.Voice{}, false
	}
	defer item.Release()

	idVar, idErr := oleutil.CallMethod(item, "GetId")
	descVar, descErr := oleutil.CallMethod(item, "GetDescription", int32(0))

	if idErr == nil && descErr == nil && idVar != nil && descVar != nil {
		return tts.Voice{
			ID:   idVar.ToString(),
			Name: descVar.ToString(),
		}, true
	}
	return tts.Voice{}, false
}

func (p *Provider) fallbackManualEnum(tokens *ole.IDispatch, count int) []tts.Voice {
	var voices []tts.Voice
	for i := 0; i < count; i++ {
		itemVar, err := oleutil.GetProperty(tokens, "Item", i)
		if err != nil {
			itemVar, err = oleutil.CallMethod(tokens, "Item", i)
		}
		if err != nil {
			continue
		}
		item := itemVar.ToIDispatch()
		if item == nil {
			continue
		}
		idVar, _ := oleutil.CallMethod(item, "GetId")
		descVar, _ := oleutil.CallMethod(item, "GetDescription", int32(0))
		if idVar != nil && descVar != nil {
			voices = append(voices, tts.Voice{
				ID:   idVar.ToString(),
				Name: descVar.ToString(),
			})
		}
		item.Release()
	}
	return voices
}

func (p *Provider) setVoiceByID(voice *ole.IDispatch, voiceID string) {
	tokensVar, err := oleutil.CallMethod(voice, "GetVoices", "", "")
	if err != nil {
		return
	}
	tokens := tokensVar.ToIDispatch()
	if tokens == nil {
		return
	}
	defer tokens.Release()

	_ = oleutil.ForEach(tokens, func(v *ole.VARIANT) error {
		item := v.ToIDispatch()
		if item == nil {
			return nil
		}
		defer item.Release()
		idVar, _ := oleutil.CallMethod(item, "GetId")
		if idVar != nil && idVar.ToString() == voiceID {
			_, _ = oleutil.PutPropertyRef(voice, "Voice", item)
		}
		return nil
	})
}
