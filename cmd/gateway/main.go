package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"odiadev-tts-gateway/internal/auth"
	"odiadev-tts-gateway/internal/engine"
	"odiadev-tts-gateway/internal/handlers"
	"odiadev-tts-gateway/internal/httpserver"
	"odiadev-tts-gateway/internal/metrics"
	"odiadev-tts-gateway/internal/ratelimit"
	"odiadev-tts-gateway/internal/storage"
	"odiadev-tts-gateway/internal/usage"
	"odiadev-tts-gateway/pkg/logging"
)

type Config struct {
	Port             string
	Engine           string // "openai" or "piper"
	OpenAIAPIKey     string
	OpenAIModel      string
	OpenAIBaseURL    string
	PiperBin         string
	PiperModelPath   string
	CacheDir         string
	S3Bucket         string
	AWSRegion        string
	SupabaseURL      string
	SupabaseKey      string
	AdminToken       string
	RateLimitBackend string // "memory" or "redis"
	RedisAddr        string
	DefaultRateLimit int
}

func LoadConfig() Config {
	return Config{
		Port:             getenv("PORT", "3000"),
		Engine:           getenv("TTS_ENGINE", "openai"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      getenv("OPENAI_TTS_MODEL", "tts-1"),
		OpenAIBaseURL:    getenv("OPENAI_BASE_URL", "https://api.openai.com"),
		PiperBin:         getenv("PIPER_BIN", "piper"),
		PiperModelPath:   os.Getenv("PIPER_MODEL_PATH"),
		CacheDir:         os.Getenv("TTS_CACHE_DIR"),
		S3Bucket:         os.Getenv("S3_BUCKET_TTS"),
		AWSRegion:        getenv("AWS_REGION", "af-south-1"),
		SupabaseURL:      os.Getenv("SUPABASE_URL"),
		SupabaseKey:      os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		AdminToken:       os.Getenv("ADMIN_TOKEN"),
		RateLimitBackend: getenv("RATE_LIMIT_BACKEND", "memory"),
		RedisAddr:        getenv("REDIS_ADDR", "127.0.0.1:6379"),
		DefaultRateLimit: getenvInt("DEFAULT_RATE_LIMIT_PER_MIN", 60),
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("gateway exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg := LoadConfig()

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("engine", cfg.Engine),
		zap.String("rate_limit_backend", cfg.RateLimitBackend),
		zap.String("s3_bucket", cfg.S3Bucket),
		zap.Bool("supabase_configured", cfg.SupabaseURL != "" && cfg.SupabaseKey != ""),
	)

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.RateLimitBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.RedisAddr),
		)
	}

	// ----- Rate limiter -----
	limiter := ratelimit.New(ratelimit.Config{
		Backend: cfg.RateLimitBackend,
		Prefix:  "odiadev",
	}, redisClient, logger)
	if closer, ok := limiter.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// ----- Key store -----
	var keys auth.KeyStore
	var issuer handlers.KeyIssuer
	if cfg.SupabaseURL != "" && cfg.SupabaseKey != "" {
		store, err := auth.NewSupabaseKeyStore(auth.SupabaseConfig{
			BaseURL:    cfg.SupabaseURL,
			ServiceKey: cfg.SupabaseKey,
		}, logger)
		if err != nil {
			return err
		}
		keys = store
		issuer = store
	} else {
		logger.Warn("key store not configured, development key store active")
		keys = auth.NewDevKeyStore("TEST_KEY", cfg.DefaultRateLimit)
	}

	// ----- Synthesis backend + engine -----
	backend, err := buildBackend(cfg, logger)
	if err != nil {
		return err
	}

	eng, err := engine.New(backend, cfg.CacheDir, logger)
	if err != nil {
		return err
	}

	// ----- Object store (optional) -----
	var uploader storage.Uploader
	if cfg.S3Bucket != "" {
		s3up, err := storage.NewS3Uploader(cfg.S3Bucket, cfg.AWSRegion, logger)
		if err != nil {
			return err
		}
		uploader = s3up
		logger.Info("object store configured",
			zap.String("bucket", cfg.S3Bucket),
			zap.String("region", cfg.AWSRegion),
		)
	}

	// ----- Usage recorder -----
	var recorder usage.Recorder = usage.NopRecorder{}
	if cfg.SupabaseURL != "" && cfg.SupabaseKey != "" {
		recorder = usage.NewSupabaseRecorder(cfg.SupabaseURL, cfg.SupabaseKey)
	}

	// ----- Handlers -----
	ttsHandler := handlers.NewTTSHandler(keys, limiter, eng, uploader, recorder)

	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN not set, key issuance endpoint is open")
	}
	adminHandler := handlers.NewAdminHandler(cfg.AdminToken, issuer)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, ttsHandler, adminHandler)

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting gateway",
		zap.String("addr", srv.Addr),
		zap.String("engine", cfg.Engine),
	)

	// Start server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}

func buildBackend(cfg Config, logger *zap.Logger) (engine.Backend, error) {
	switch cfg.Engine {
	case "openai":
		return engine.NewOpenAIBackend(engine.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		}, logger), nil
	case "piper":
		return engine.NewPiperBackend(engine.PiperConfig{
			BinaryPath: cfg.PiperBin,
			ModelPath:  cfg.PiperModelPath,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown TTS_ENGINE %q (openai, piper)", cfg.Engine)
	}
}

// getenv returns the value of the environment variable key or def if not set.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
