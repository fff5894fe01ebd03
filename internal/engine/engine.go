package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o640
)

// Request is one synthesis call. The handler validates fields before the
// engine sees them; Voice may still name a voice the backend does not know.
type Request struct {
	Text   string
	Voice  string
	Format string // "mp3", "wav" or "ogg"
	Speed  float64
}

// Result points at a cached audio file in the requested format.
type Result struct {
	Path     string
	Format   string
	CacheHit bool
	Elapsed  time.Duration
}

// Engine resolves synthesis requests against a file cache keyed by input
// fingerprint. Cache entries live for the process lifetime; there is no
// eviction. Concurrent misses for the same fingerprint share one backend
// call through a singleflight group.
type Engine struct {
	backend  Backend
	cacheDir string
	logger   *zap.Logger

	initOnce sync.Once
	initErr  error

	flight singleflight.Group
}

// New creates an engine caching under cacheDir. An empty cacheDir falls
// back to a shared directory under the system temp dir.
func New(backend Backend, cacheDir string, logger *zap.Logger) (*Engine, error) {
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "odiadev-tts-cache")
	}
	if err := os.MkdirAll(cacheDir, dirPermissions); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		backend:  backend,
		cacheDir: cacheDir,
		logger:   logger.Named("engine"),
	}, nil
}

// Name reports the active backend's name.
func (e *Engine) Name() string { return e.backend.Name() }

// Voices reports the active backend's voice names.
func (e *Engine) Voices() []string { return e.backend.Voices() }

// Synthesize returns cached or freshly synthesized audio for req.
func (e *Engine) Synthesize(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	voice := e.resolveVoice(ctx, req.Voice)
	fp := Fingerprint(e.backend.Name(), e.backend.Model(), voice, req.Speed, req.Text)
	finalPath := e.cachePath(fp, req.Format)

	if fileExists(finalPath) {
		return &Result{
			Path:     finalPath,
			Format:   req.Format,
			CacheHit: true,
			Elapsed:  time.Since(start),
		}, nil
	}

	e.initOnce.Do(func() {
		e.initErr = e.backend.Init(ctx)
		if e.initErr != nil {
			e.logger.Error("backend initialization failed",
				zap.String("backend", e.backend.Name()),
				zap.Error(e.initErr),
			)
		}
	})
	if e.initErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, e.initErr)
	}

	v, err, _ := e.flight.Do(fp+"."+req.Format, func() (interface{}, error) {
		return e.synthesizeOnce(ctx, req.Text, voice, req.Speed, req.Format, fp)
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Path:     v.(string),
		Format:   req.Format,
		CacheHit: false,
		Elapsed:  time.Since(start),
	}, nil
}

// synthesizeOnce runs under the per-fingerprint singleflight lock.
func (e *Engine) synthesizeOnce(ctx context.Context, text, voice string, speed float64, format, fp string) (string, error) {
	finalPath := e.cachePath(fp, format)

	// A flight we queued behind may have published the file already.
	if fileExists(finalPath) {
		return finalPath, nil
	}

	data, ext, err := e.backend.Synthesize(ctx, text, voice, speed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	interPath := e.cachePath(fp, ext)
	if err := e.writeAtomic(interPath, data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	if ext == format {
		return interPath, nil
	}

	if err := transcodeFile(ctx, interPath, finalPath); err != nil {
		return "", fmt.Errorf("%w: transcode to %s: %v", ErrSynthesisFailed, format, err)
	}

	return finalPath, nil
}

// resolveVoice maps empty or unknown voices onto the backend default.
// Unknown names are substituted rather than rejected; the request logger
// records the substitution.
func (e *Engine) resolveVoice(ctx context.Context, voice string) string {
	if voice == "" {
		return e.backend.DefaultVoice()
	}
	for _, v := range e.backend.Voices() {
		if v == voice {
			return voice
		}
	}
	e.logger.Warn("unknown voice, substituting default",
		zap.String("voice", voice),
		zap.String("default", e.backend.DefaultVoice()),
	)
	return e.backend.DefaultVoice()
}

func (e *Engine) cachePath(fp, ext string) string {
	return filepath.Join(e.cacheDir, fp+"."+ext)
}

// writeAtomic publishes data at path via a temp file and rename so a
// concurrent cache probe never observes a partial file.
func (e *Engine) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(e.cacheDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, filePermissions); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish cache file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
