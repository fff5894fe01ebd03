package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"go.uber.org/zap"
)

// PiperBackend runs the piper CLI as a subprocess for fully local
// synthesis. One loaded model means one effective voice; the logical voice
// names are accepted and ignored. Native output format is wav.
type PiperBackend struct {
	binaryPath string
	modelPath  string
	logger     *zap.Logger
}

// PiperConfig configures the piper backend.
type PiperConfig struct {
	BinaryPath string // defaults to "piper" resolved on PATH
	ModelPath  string // required
}

// NewPiperBackend creates the backend; binary and model existence are
// checked in Init.
func NewPiperBackend(cfg PiperConfig, logger *zap.Logger) *PiperBackend {
	bin := cfg.BinaryPath
	if bin == "" {
		bin = "piper"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PiperBackend{
		binaryPath: bin,
		modelPath:  cfg.ModelPath,
		logger:     logger.Named("piper"),
	}
}

func (b *PiperBackend) Name() string  { return "piper" }
func (b *PiperBackend) Model() string { return b.modelPath }

func (b *PiperBackend) Voices() []string {
	return []string{"naija_female", "naija_male"}
}

func (b *PiperBackend) DefaultVoice() string { return "naija_female" }

func (b *PiperBackend) Init(_ context.Context) error {
	if b.modelPath == "" {
		return errors.New("piper: model path is required")
	}
	if _, err := os.Stat(b.modelPath); err != nil {
		return fmt.Errorf("piper: model not found: %w", err)
	}
	if _, err := exec.LookPath(b.binaryPath); err != nil {
		return fmt.Errorf("piper: binary not found: %w", err)
	}
	return nil
}

// Synthesize pipes text through the piper CLI and captures wav output.
// Speed maps onto piper's length scale (inverse relation).
func (b *PiperBackend) Synthesize(ctx context.Context, text, _ string, speed float64) ([]byte, string, error) {
	lengthScale := 1.0
	if speed > 0 {
		lengthScale = 1.0 / speed
	}

	cmd := exec.CommandContext(ctx, b.binaryPath,
		"--model", b.modelPath,
		"--length_scale", strconv.FormatFloat(lengthScale, 'f', 3, 64),
		"--output_file", "-",
	)
	cmd.Stdin = bytes.NewReader([]byte(text))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := stderr.String(); msg != "" {
			return nil, "", fmt.Errorf("piper: %w: %s", err, truncate(msg, 300))
		}
		return nil, "", fmt.Errorf("piper: %w", err)
	}

	data := stdout.Bytes()
	if len(data) == 0 {
		return nil, "", errors.New("piper: no audio produced")
	}

	b.logger.Debug("piper synthesis complete",
		zap.Int("chars", len(text)),
		zap.Int("bytes", len(data)),
	)

	return data, "wav", nil
}
