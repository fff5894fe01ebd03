package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// transcodeFile converts src into dst's container format with ffmpeg,
// inferred from the file extensions. The output lands in a temp path and
// is renamed into place, same publish discipline as freshly synthesized
// intermediates.
func transcodeFile(ctx context.Context, src, dst string) error {
	dir, base := filepath.Split(dst)
	tmp := filepath.Join(dir, ".tmp-"+base)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "ffmpeg", "-y", "-i", src, tmp)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(tmp)
		if msg := stderr.String(); msg != "" {
			return fmt.Errorf("ffmpeg: %w: %s", err, truncate(msg, 300))
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish transcoded file: %w", err)
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
