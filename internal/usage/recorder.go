// Package usage emits per-request telemetry to an external analytics sink.
// Recording is best-effort: the caller launches it detached from the
// response path and discards the error after logging it.
package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Usage is one appended telemetry row.
type Usage struct {
	APIKeyID  string `json:"api_key_id"`
	CharCount int    `json:"char_count"`
	RequestMS int    `json:"request_ms"`
	CacheHit  bool   `json:"cache_hit"`
}

// Recorder appends one usage row to the sink.
type Recorder interface {
	Record(ctx context.Context, u Usage) error
}

// SupabaseRecorder appends rows to the tts_usage table over PostgREST.
type SupabaseRecorder struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

// NewSupabaseRecorder creates a recorder for the given project.
func NewSupabaseRecorder(baseURL, serviceKey string) *SupabaseRecorder {
	return &SupabaseRecorder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (r *SupabaseRecorder) Record(ctx context.Context, u Usage) error {
	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("usage: marshal row: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/rest/v1/tts_usage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("usage: build request: %w", err)
	}
	req.Header.Set("apikey", r.serviceKey)
	req.Header.Set("Authorization", "Bearer "+r.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("usage: post row: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("usage: sink returned status %d", resp.StatusCode)
	}
	return nil
}

// NopRecorder discards rows. Used when no sink is configured.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Usage) error { return nil }
