// Package engine turns text into audio files through a content-addressed
// file cache in front of a single configured synthesis backend.
package engine

import (
	"context"
	"errors"
)

// Backend is one synthesis provider. Exactly one backend is active per
// process; the choice is made at configuration time, not per request.
type Backend interface {
	// Name identifies the backend ("openai", "piper").
	Name() string

	// Model identifies the model or model file driving synthesis. It is
	// part of the cache fingerprint so a model swap never serves stale audio.
	Model() string

	// Voices lists the voice names this backend accepts.
	Voices() []string

	// DefaultVoice is substituted for unknown or empty voices.
	DefaultVoice() string

	// Init prepares the backend (credentials, model file, binary). Called
	// once per process; an error is fatal for the backend instance.
	Init(ctx context.Context) error

	// Synthesize produces audio for text in the backend's native format
	// and reports that format's file extension ("mp3", "wav").
	Synthesize(ctx context.Context, text, voice string, speed float64) (data []byte, ext string, err error)
}

var (
	// ErrBackendUnavailable means backend initialization failed. The
	// backend stays broken until restart; requests get a server error.
	ErrBackendUnavailable = errors.New("synthesis backend unavailable")

	// ErrSynthesisFailed wraps a mid-call backend failure. No cache entry
	// is left behind for the request's fingerprint.
	ErrSynthesisFailed = errors.New("synthesis failed")
)
