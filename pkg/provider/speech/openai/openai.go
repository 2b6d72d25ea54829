// Package openai provides a speech.Adapter backed by the OpenAI audio
// endpoints: /audio/speech for synthesis and /audio/transcriptions for
// recognition.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/sarathi-ai/voicecore/pkg/provider/speech"
	"github.com/sarathi-ai/voicecore/pkg/types"
)

const (
	defaultTTSModel = "gpt-4o-mini-tts"
	defaultSTTModel = "whisper-1"
)

// defaultVoices maps platform personas to OpenAI voice names. Unknown agents
// fall back to "alloy".
var defaultVoices = map[string]oai.AudioSpeechNewParamsVoice{
	"mitra":     oai.AudioSpeechNewParamsVoiceNova,
	"guru":      oai.AudioSpeechNewParamsVoiceOnyx,
	"parikshak": oai.AudioSpeechNewParamsVoiceEcho,
}

// config holds optional configuration for the adapter.
type config struct {
	baseURL  string
	ttsModel string
	sttModel string
	timeout  time.Duration
	voices   map[string]oai.AudioSpeechNewParamsVoice
}

// Option is a functional option for the Adapter.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// API-compatible proxies.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTTSModel sets the synthesis model (default "gpt-4o-mini-tts").
func WithTTSModel(model string) Option {
	return func(c *config) { c.ttsModel = model }
}

// WithSTTModel sets the transcription model (default "whisper-1").
func WithSTTModel(model string) Option {
	return func(c *config) { c.sttModel = model }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithVoice maps a persona name to an OpenAI voice, overriding the default
// persona table.
func WithVoice(agent string, voice string) Option {
	return func(c *config) {
		if c.voices == nil {
			c.voices = map[string]oai.AudioSpeechNewParamsVoice{}
		}
		c.voices[agent] = oai.AudioSpeechNewParamsVoice(voice)
	}
}

// Adapter implements speech.Adapter using the OpenAI API.
type Adapter struct {
	client   oai.Client
	ttsModel string
	sttModel string
	voices   map[string]oai.AudioSpeechNewParamsVoice
}

// Compile-time assertion that Adapter satisfies speech.Adapter.
var _ speech.Adapter = (*Adapter)(nil)

// New constructs an OpenAI speech Adapter. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}

	cfg := &config{
		ttsModel: defaultTTSModel,
		sttModel: defaultSTTModel,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	voices := make(map[string]oai.AudioSpeechNewParamsVoice, len(defaultVoices)+len(cfg.voices))
	for k, v := range defaultVoices {
		voices[k] = v
	}
	for k, v := range cfg.voices {
		voices[k] = v
	}

	return &Adapter{
		client:   oai.NewClient(reqOpts...),
		ttsModel: cfg.ttsModel,
		sttModel: cfg.sttModel,
		voices:   voices,
	}, nil
}

// Name implements speech.Adapter.
func (a *Adapter) Name() string { return "openai" }

// Synthesize implements speech.Adapter.
func (a *Adapter) Synthesize(ctx context.Context, req speech.SynthesisRequest) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, speech.NewError(a.Name(), speech.KindInvalidInput, "empty synthesis text")
	}

	format, err := responseFormat(req.Format)
	if err != nil {
		return nil, speech.NewError(a.Name(), speech.KindInvalidInput, err.Error())
	}

	voice, ok := a.voices[req.Agent]
	if !ok {
		voice = oai.AudioSpeechNewParamsVoiceAlloy
	}

	res, err := a.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          a.ttsModel,
		Input:          req.Text,
		Voice:          voice,
		ResponseFormat: format,
	})
	if err != nil {
		return nil, a.translate("synthesize", err)
	}
	defer res.Body.Close()

	audio, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, speech.NewError(a.Name(), speech.KindServiceUnavailable, "read synthesis body").WithCause(err)
	}
	return audio, nil
}

// Recognize implements speech.Adapter.
func (a *Adapter) Recognize(ctx context.Context, req speech.RecognitionRequest) (types.Transcript, error) {
	if len(req.Audio) == 0 {
		return types.Transcript{}, speech.NewError(a.Name(), speech.KindInvalidInput, "empty audio payload")
	}

	params := oai.AudioTranscriptionNewParams{
		Model: a.sttModel,
		File:  oai.File(bytes.NewReader(req.Audio), "audio."+string(req.Format), mimeFor(req.Format)),
	}
	if req.Language != "" {
		// The endpoint wants a bare ISO-639-1 code, not a full BCP-47 tag.
		params.Language = oai.String(baseLanguage(req.Language))
	}

	tr, err := a.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return types.Transcript{}, a.translate("recognize", err)
	}

	return types.Transcript{
		Text:     tr.Text,
		Language: req.Language,
		// Whisper does not report utterance confidence; the command pipeline
		// treats zero as "unknown" and applies its own floor.
		Confidence: 0,
	}, nil
}

// translate maps SDK/API failures onto the typed provider error contract.
func (a *Adapter) translate(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return speech.NewError(a.Name(), speech.KindTimeout, op+" deadline").WithCause(err)
	}

	var apierr *oai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusTooManyRequests:
			return speech.NewError(a.Name(), speech.KindQuotaExceeded, op+" quota exhausted").WithCause(err)
		case apierr.StatusCode == http.StatusBadRequest,
			apierr.StatusCode == http.StatusUnprocessableEntity:
			return speech.NewError(a.Name(), speech.KindInvalidInput, op+" rejected").WithCause(err)
		case apierr.StatusCode >= 500:
			return speech.NewError(a.Name(), speech.KindServiceUnavailable, op+" upstream failure").WithCause(err)
		}
	}
	return speech.NewError(a.Name(), speech.KindServiceUnavailable, op+" transport failure").WithCause(err)
}

// responseFormat maps the platform audio format onto the endpoint's enum.
func responseFormat(f types.AudioFormat) (oai.AudioSpeechNewParamsResponseFormat, error) {
	switch f {
	case types.FormatMP3:
		return oai.AudioSpeechNewParamsResponseFormatMP3, nil
	case types.FormatWAV:
		return oai.AudioSpeechNewParamsResponseFormatWAV, nil
	case types.FormatFLAC:
		return oai.AudioSpeechNewParamsResponseFormatFLAC, nil
	case types.FormatOGG:
		return oai.AudioSpeechNewParamsResponseFormatOpus, nil
	case types.FormatPCM:
		return oai.AudioSpeechNewParamsResponseFormatPCM, nil
	default:
		return "", fmt.Errorf("unsupported audio format %q", f)
	}
}

// mimeFor returns the upload MIME type for an audio format.
func mimeFor(f types.AudioFormat) string {
	switch f {
	case types.FormatWAV:
		return "audio/wav"
	case types.FormatMP3:
		return "audio/mpeg"
	case types.FormatOGG:
		return "audio/ogg"
	case types.FormatFLAC:
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}

// baseLanguage strips a BCP-47 tag down to its primary subtag ("hi-IN" → "hi").
func baseLanguage(tag string) string {
	if i := strings.IndexByte(tag, '-'); i > 0 {
		return tag[:i]
	}
	return tag
}
