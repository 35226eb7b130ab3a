package edgetts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/smg1208/audio-crawler/pkg/config"
	"github.com/smg1208/audio-crawler/pkg/tracker"
	"github.com/smg1208/audio-crawler/pkg/tts"
)

// Name is the registry name of the provider.
const Name = "edge-tts"

const dialAttempts = 3

// Provider implements tts.Provider for Microsoft Edge TTS.
type Provider struct {
	cfg        config.EdgeTTSConfig
	speechRate string
	tracker    *tracker.Tracker
	dialer     *websocket.Dialer
	now        func() time.Time
}

// NewProvider creates a new Edge TTS provider. speechRate is an SSML prosody
// rate such as "+10%"; empty keeps the voice default.
func NewProvider(cfg config.EdgeTTSConfig, speechRate string, t *tracker.Tracker) *Provider {
	return &Provider{
		cfg:        cfg,
		speechRate: speechRate,
		tracker:    t,
		dialer:     websocket.DefaultDialer,
		now:        time.Now,
	}
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return Name }

// Capabilities implements tts.Provider.
func (p *Provider) Capabilities() tts.Capabilities {
	return tts.Capabilities{
		MaxBytes:          3000,
		MaxSentenceLength: 400,
		Concurrency:       2,
		RetryDelay:        2 * time.Second,
	}
}

// IsAvailable reports whether the endpoint settings are configured.
func (p *Provider) IsAvailable() bool {
	return p.missingSetting() == ""
}

// DefaultVoice is used when Synthesize receives no voice.
func (p *Provider) DefaultVoice() string { return p.cfg.VoiceID }

func (p *Provider) missingSetting() string {
	switch {
	case p.cfg.Origin == "":
		return "EDGE_TTS_ORIGIN"
	case p.cfg.UserAgent == "":
		return "EDGE_TTS_USER_AGENT"
	case p.cfg.TrustedClientToken == "":
		return "EDGE_TTS_TRUSTED_CLIENT_TOKEN"
	case p.cfg.SecMSGecVersion == "":
		return "EDGE_TTS_SEC_MS_GEC_VERSION"
	case p.cfg.BaseURL == "":
		return "EDGE_TTS_BASE_URL"
	}
	return ""
}

// Synthesize streams mp3 audio for text over the Edge websocket.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (*tts.Audio, error) {
	if missing := p.missingSetting(); missing != "" {
		return nil, tts.Unavailable(Name, missing+" is not set")
	}
	if voice == "" {
		voice = p.cfg.VoiceID
	}
	if voice == "" {
		return nil, tts.NewFatalError(Name, 0, "no voice configured")
	}
	if strings.TrimSpace(text) == "" {
		return nil, tts.ErrEmptyInput
	}

	conn, err := p.dial(ctx)
	if err != nil {
		p.trackFailure()
		return nil, err
	}
	defer conn.Close()

	// ReadMessage has no context; closing the socket unblocks it.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := p.sendConfig(conn); err != nil {
		p.trackFailure()
		return nil, tts.Failed(Name, 0, "", err)
	}

	requestID := strings.ReplaceAll(uuid.New().String(), "-", "")
	ssml := buildSSML(voice, p.speechRate, text)
	if err := p.sendSSML(conn, requestID, ssml); err != nil {
		p.trackFailure()
		return nil, tts.Failed(Name, 0, "", err)
	}

	var buf bytes.Buffer
	if err := p.consumeResponses(ctx, conn, &buf); err != nil {
		p.trackFailure()
		tts.Log(Name, ssml, 0, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, tts.FromMessage(Name, err)
	}

	// The service closes a throttled session cleanly without sending audio.
	if buf.Len() == 0 {
		p.trackFailure()
		tts.Log(Name, ssml, 0, fmt.Errorf("no audio received"))
		return nil, tts.RateLimited(Name, 0, "no audio received")
	}

	tts.Log(Name, ssml, http.StatusOK, nil)
	if p.tracker != nil {
		p.tracker.TrackAPISuccess(Name)
	}
	return &tts.Audio{Data: buf.Bytes(), Format: "mp3"}, nil
}

func (p *Provider) trackFailure() {
	if p.tracker != nil {
		p.tracker.TrackAPIFailure(Name)
	}
}

func (p *Provider) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Origin", p.cfg.Origin)
	header.Set("Pragma", "no-cache")
	header.Set("Cache-Control", "no-cache")
	header.Set("User-Agent", p.cfg.UserAgent)
	header.Set("Accept-Encoding", "gzip, deflate, br, zstd")
	header.Set("Accept-Language", "en-US,en;q=0.9")

	muid := strings.ReplaceAll(uuid.New().String(), "-", "")
	header.Set("Cookie", fmt.Sprintf("muid=%s", muid))

	var lastErr error
	for i := range dialAttempts {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}

		// The token is time-bucketed, so it is rebuilt for every attempt.
		url := fmt.Sprintf("%s?TrustedClientToken=%s&Sec-MS-GEC=%s&Sec-MS-GEC-Version=%s",
			p.cfg.BaseURL, p.cfg.TrustedClientToken, secMSGec(p.cfg.TrustedClientToken, p.now()), p.cfg.SecMSGecVersion)

		conn, resp, err := p.dialer.DialContext(ctx, url, header)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if resp != nil {
			slog.Warn("EdgeTTS: handshake failure", "status", resp.Status, "status_code", resp.StatusCode)
			if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
				// A stale Sec-MS-GEC token or a throttled client gains nothing from an
				// immediate redial. Both clear on their own, so the provider stays enabled.
				return nil, tts.RateLimited(Name, resp.StatusCode, resp.Status)
			}
		}
		lastErr = err
	}
	return nil, tts.Failed(Name, 0, "websocket dial failed after retries", lastErr)
}

// secMSGec derives the Sec-MS-GEC token: the Windows file time of now,
// rounded down to five minutes, hashed together with the client token.
func secMSGec(trustedClientToken string, now time.Time) string {
	ticks := float64(now.Unix()) + 11644473600
	ticks -= float64(int64(ticks) % 300)
	ticks *= 1e7

	hash := sha256.Sum256([]byte(fmt.Sprintf("%.0f%s", ticks, trustedClientToken)))
	return strings.ToUpper(hex.EncodeToString(hash[:]))
}

func (p *Provider) sendConfig(conn *websocket.Conn) error {
	configMsg := "Content-Type:application/json; charset=utf-8\r\nPath:speech.config\r\n\r\n{\"context\":{\"synthesis\":{\"audio\":{\"metadataoptions\":{\"sentenceBoundaryEnabled\":\"false\",\"wordBoundaryEnabled\":\"false\"},\"outputFormat\":\"audio-24khz-48kbitrate-mono-mp3\"}}}}"
	if err := conn.WriteMessage(websocket.TextMessage, []byte(configMsg)); err != nil {
		return fmt.Errorf("failed to send speech.config: %w", err)
	}
	return nil
}

func (p *Provider) sendSSML(conn *websocket.Conn, requestID, ssml string) error {
	ssmlMsg := fmt.Sprintf("X-RequestId:%s\r\nContent-Type:application/ssml+xml\r\nPath:ssml\r\n\r\n%s", requestID, ssml)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(ssmlMsg)); err != nil {
		return fmt.Errorf("failed to send ssml: %w", err)
	}
	return nil
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"\"", "&quot;",
	"'", "&apos;",
)

func buildSSML(voice, speechRate, text string) string {
	body := xmlEscaper.Replace(text)
	if speechRate != "" {
		body = fmt.Sprintf("<prosody rate='%s'>%s</prosody>", xmlEscaper.Replace(speechRate), body)
	}
	return fmt.Sprintf("<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='%s'><voice name='%s'>%s</voice></speak>",
		voiceLanguage(voice), voice, body)
}

// voiceLanguage returns the locale prefix of a voice name
// ("vi-VN-HoaiMyNeural" is "vi-VN").
func voiceLanguage(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) < 3 {
		return "en-US"
	}
	return parts[0] + "-" + parts[1]
}

func (p *Provider) consumeResponses(ctx context.Context, conn *websocket.Conn, buf *bytes.Buffer) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message failed: %w", err)
		}

		switch msgType {
		case websocket.TextMessage:
			if strings.Contains(string(data), "Path:turn.end") {
				return nil
			}
		case websocket.BinaryMessage:
			handleBinaryMessage(data, buf)
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// handleBinaryMessage appends the audio payload that follows the
// length-prefixed header of a binary frame.
func handleBinaryMessage(data []byte, buf *bytes.Buffer) {
	if len(data) < 2 {
		return
	}
	headerLength := int(uint16(data[0])<<8 | uint16(data[1]))
	if len(data) < 2+headerLength {
		return
	}
	buf.Write(data[2+headerLength:])
}

// Voices returns the Vietnamese and common multilingual neural voices.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	return []tts.Voice{
		{ID: "vi-VN-HoaiMyNeural", Name: "HoaiMy (Vietnam)", Language: "vi-VN", IsNeural: true},
		{ID: "vi-VN-NamMinhNeural", Name: "NamMinh (Vietnam)", Language: "vi-VN", IsNeural: true},
		{ID: "en-US-AvaMultilingualNeural", Name: "Ava (Multilingual)", Language: "en-US", IsNeural: true},
		{ID: "en-US-AndrewMultilingualNeural", Name: "Andrew (Multilingual)", Language: "en-US", IsNeural: true},
		{ID: "en-GB-SoniaNeural", Name: "Sonia (UK)", Language: "en-GB", IsNeural: true},
	}, nil
}
