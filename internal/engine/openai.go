package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// openaiMaxCharsPerRequest is the provider's per-request input cap.
	// Longer texts are split on paragraph boundaries and synthesized in
	// parallel.
	openaiMaxCharsPerRequest = 4096

	openaiDefaultModel   = "tts-1"
	openaiDefaultBaseURL = "https://api.openai.com"
	openaiChunkWorkers   = 4
)

// openaiVoiceAliases maps the gateway's logical voice names onto provider
// voices. Native provider names are accepted as-is.
var openaiVoiceAliases = map[string]string{
	"naija_female": "shimmer",
	"naija_male":   "onyx",
}

var openaiNativeVoices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// OpenAIConfig configures the OpenAI speech backend.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration // per-chunk timeout (default: 60s)

	// Custom HTTP client (for testing or special configs)
	HTTPClient *http.Client
}

// WithDefaults returns a copy of the config with defaults applied.
func (c *OpenAIConfig) WithDefaults() OpenAIConfig {
	cfg := *c
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = openaiDefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openaiDefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return cfg
}

// OpenAIBackend synthesizes speech through the OpenAI audio API. Its
// native output format is mp3.
type OpenAIBackend struct {
	cfg        OpenAIConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOpenAIBackend creates the backend; credentials are checked in Init.
func NewOpenAIBackend(cfg OpenAIConfig, logger *zap.Logger) *OpenAIBackend {
	cfg = cfg.WithDefaults()

	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &OpenAIBackend{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.Named("openai"),
	}
}

func (b *OpenAIBackend) Name() string  { return "openai" }
func (b *OpenAIBackend) Model() string { return b.cfg.Model }

func (b *OpenAIBackend) Voices() []string {
	voices := make([]string, 0, len(openaiVoiceAliases)+len(openaiNativeVoices))
	for alias := range openaiVoiceAliases {
		voices = append(voices, alias)
	}
	voices = append(voices, openaiNativeVoices...)
	return voices
}

func (b *OpenAIBackend) DefaultVoice() string { return "naija_female" }

func (b *OpenAIBackend) Init(_ context.Context) error {
	if b.cfg.APIKey == "" {
		return errors.New("openai: API key is required")
	}
	return nil
}

// Synthesize produces mp3 audio. Texts over the provider cap are chunked
// on paragraph boundaries, synthesized in parallel and concatenated;
// mp3 frames are self-contained, so byte concatenation is valid.
func (b *OpenAIBackend) Synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, string, error) {
	providerVoice := voice
	if mapped, ok := openaiVoiceAliases[voice]; ok {
		providerVoice = mapped
	}

	chunks := splitTextOnParagraphs(text, openaiMaxCharsPerRequest)
	if len(chunks) == 1 {
		data, err := b.synthesizeChunk(ctx, chunks[0], providerVoice, speed)
		return data, "mp3", err
	}

	b.logger.Debug("synthesizing in chunks",
		zap.Int("chunks", len(chunks)),
		zap.Int("chars", len(text)),
	)

	results := make([][]byte, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(openaiChunkWorkers)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			data, err := b.synthesizeChunk(gctx, chunk, providerVoice, speed)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			results[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", err
	}

	return bytes.Join(results, nil), "mp3", nil
}

type openaiSpeechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed,omitempty"`
	ResponseFormat string  `json:"response_format"`
}

type openaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (b *OpenAIBackend) synthesizeChunk(parentCtx context.Context, text, voice string, speed float64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(parentCtx, b.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(openaiSpeechRequest{
		Model:          b.cfg.Model,
		Input:          text,
		Voice:          voice,
		Speed:          speed,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.cfg.BaseURL+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))

		var perr openaiErrorResponse
		if err := json.Unmarshal(raw, &perr); err == nil && perr.Error.Message != "" {
			return nil, fmt.Errorf("upstream %d: %s (%s)",
				resp.StatusCode, perr.Error.Message, perr.Error.Type)
		}
		return nil, fmt.Errorf("upstream %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio body: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("upstream returned empty audio")
	}

	b.logger.Debug("speech chunk synthesized",
		zap.Int("chars", len(text)),
		zap.Int("bytes", len(data)),
		zap.Duration("duration", time.Since(start)),
	)

	return data, nil
}

// splitTextOnParagraphs splits text into pieces of at most maxChars,
// preferring paragraph breaks and falling back to hard cuts for a single
// oversized paragraph.
func splitTextOnParagraphs(text string, maxChars int) []string {
	if len(text) <= maxChars {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	for _, para := range strings.Split(text, "\n\n") {
		for len(para) > maxChars {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			// Back the cut up so it never lands inside a UTF-8 sequence.
			cut := maxChars
			for cut > 0 && !utf8.RuneStart(para[cut]) {
				cut--
			}
			chunks = append(chunks, para[:cut])
			para = para[cut:]
		}

		switch {
		case current.Len() == 0:
			current.WriteString(para)
		case current.Len()+len(para)+2 <= maxChars:
			current.WriteString("\n\n")
			current.WriteString(para)
		default:
			chunks = append(chunks, current.String())
			current.Reset()
			current.WriteString(para)
		}
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	return chunks
}
