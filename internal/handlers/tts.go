package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"odiadev-tts-gateway/internal/auth"
	"odiadev-tts-gateway/internal/engine"
	"odiadev-tts-gateway/internal/metrics"
	"odiadev-tts-gateway/internal/ratelimit"
	"odiadev-tts-gateway/internal/storage"
	"odiadev-tts-gateway/internal/usage"
	"odiadev-tts-gateway/pkg/logging"
)

const maxTextChars = 2000

// Synthesizer is the engine surface the handler needs. Satisfied by
// *engine.Engine; mocked in tests.
type Synthesizer interface {
	Synthesize(ctx context.Context, req engine.Request) (*engine.Result, error)
	Name() string
	Voices() []string
}

// TTSHandler composes authentication, rate limiting, synthesis, optional
// upload and telemetry for the /v1 endpoints.
type TTSHandler struct {
	keys     auth.KeyStore
	limiter  ratelimit.Limiter
	engine   Synthesizer
	uploader storage.Uploader // nil when object storage is unconfigured
	usage    usage.Recorder
}

func NewTTSHandler(
	keys auth.KeyStore,
	limiter ratelimit.Limiter,
	eng Synthesizer,
	uploader storage.Uploader,
	recorder usage.Recorder,
) *TTSHandler {
	return &TTSHandler{
		keys:     keys,
		limiter:  limiter,
		engine:   eng,
		uploader: uploader,
		usage:    recorder,
	}
}

type ttsRequest struct {
	Text   string   `json:"text"`
	Voice  string   `json:"voice,omitempty"`
	Format string   `json:"format,omitempty"`
	Speed  *float64 `json:"speed,omitempty"`
}

type ttsResponse struct {
	URL      string `json:"url"`
	Format   string `json:"format"`
	CacheHit bool   `json:"cache_hit"`
	MS       int    `json:"ms"`
}

// validate applies defaults and bounds, returning the engine request.
func (req *ttsRequest) validate() (engine.Request, error) {
	if req.Text == "" {
		return engine.Request{}, errors.New("text is required")
	}
	if utf8.RuneCountInString(req.Text) > maxTextChars {
		return engine.Request{}, fmt.Errorf("text too long (max %d characters)", maxTextChars)
	}

	format := req.Format
	if format == "" {
		format = "mp3"
	}
	switch format {
	case "mp3", "wav", "ogg":
	default:
		return engine.Request{}, fmt.Errorf("format %q not supported (mp3, wav, ogg)", format)
	}

	speed := 1.0
	if req.Speed != nil {
		speed = *req.Speed
	}
	if speed < 0.5 || speed > 1.5 {
		return engine.Request{}, errors.New("speed must be between 0.5 and 1.5")
	}

	voice := req.Voice
	if voice == "" {
		voice = "naija_female"
	}

	return engine.Request{
		Text:   req.Text,
		Voice:  voice,
		Format: format,
		Speed:  speed,
	}, nil
}

// Synthesize handles POST /v1/tts.
func (h *TTSHandler) Synthesize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	// ---- Authentication ----
	apiKey := r.Header.Get("x-api-key")
	if apiKey == "" {
		writeError(w, http.StatusUnauthorized, "missing API key")
		return
	}

	account, err := h.keys.Resolve(ctx, apiKey)
	if err != nil {
		if errors.Is(err, auth.ErrKeyNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		logger.Error("key store lookup failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "key store unavailable")
		return
	}

	// ---- Rate limiting ----
	decision, err := h.limiter.Allow(ctx, account.ID, account.RateLimitPerMin)
	if err != nil {
		// The limiter already decided how to degrade; just record it.
		logger.Warn("rate limiter error", zap.Error(err))
	}
	if !decision.Allowed {
		metrics.RateLimitedTotal.Inc()
		logger.Info("rate limit exceeded",
			zap.String("account_id", account.ID),
			zap.Int("limit_per_min", account.RateLimitPerMin),
		)
		w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	// ---- Validation ----
	var req ttsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	engineReq, err := req.validate()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// ---- Synthesis ----
	res, err := h.engine.Synthesize(ctx, engineReq)
	if err != nil {
		logger.Error("synthesis failed",
			zap.String("engine", h.engine.Name()),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "synthesis failed")
		return
	}

	elapsedMS := int(res.Elapsed.Milliseconds())
	charCount := utf8.RuneCountInString(engineReq.Text)
	metrics.ObserveSynthesis(h.engine.Name(), res.CacheHit, res.Elapsed)

	logger.Info("synthesis complete",
		zap.String("engine", h.engine.Name()),
		zap.Bool("cache_hit", res.CacheHit),
		zap.Int("chars", charCount),
		zap.Int("ms", elapsedMS),
	)

	// ---- Telemetry (detached, must not affect the response) ----
	h.recordUsage(logger, account.ID, charCount, elapsedMS, res.CacheHit)

	// ---- Upload, else inline bytes ----
	if h.uploader != nil {
		url, err := h.uploader.Upload(ctx, res.Path, filepath.Base(res.Path))
		if err != nil {
			metrics.UploadFailuresTotal.Inc()
			logger.Warn("upload failed, serving inline bytes", zap.Error(err))
		} else {
			writeJSON(w, http.StatusOK, ttsResponse{
				URL:      url,
				Format:   res.Format,
				CacheHit: res.CacheHit,
				MS:       elapsedMS,
			})
			return
		}
	}

	data, err := os.ReadFile(res.Path)
	if err != nil {
		logger.Error("reading cached audio failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "synthesis failed")
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(res.Format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// recordUsage launches a fire-and-forget telemetry write with its own
// deadline, detached from the request context so a slow sink never holds
// the response.
func (h *TTSHandler) recordUsage(logger *zap.Logger, accountID string, charCount, elapsedMS int, cacheHit bool) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := h.usage.Record(ctx, usage.Usage{
			APIKeyID:  accountID,
			CharCount: charCount,
			RequestMS: elapsedMS,
			CacheHit:  cacheHit,
		})
		if err != nil {
			logger.Warn("usage recording failed", zap.Error(err))
		}
	}()
}

// Health handles GET /health.
func (h *TTSHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"engine": h.engine.Name(),
	})
}

// ListVoices handles GET /v1/voices.
func (h *TTSHandler) ListVoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"voices": h.engine.Voices(),
		"engine": h.engine.Name(),
	})
}
