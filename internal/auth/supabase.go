package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SupabaseConfig configures the REST client for the external key store.
type SupabaseConfig struct {
	// Required fields
	BaseURL    string
	ServiceKey string

	Timeout time.Duration // per-request timeout (default: 10s)

	// Custom HTTP client (for testing or special configs)
	HTTPClient *http.Client
}

// Validate checks required fields only.
func (c *SupabaseConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("BaseURL is required")
	}
	if c.ServiceKey == "" {
		return errors.New("ServiceKey is required")
	}
	return nil
}

// WithDefaults returns a copy of the config with defaults applied.
func (c *SupabaseConfig) WithDefaults() SupabaseConfig {
	cfg := *c
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return cfg
}

// SupabaseKeyStore resolves and issues API keys against the api_keys table
// of a Supabase project's PostgREST endpoint.
type SupabaseKeyStore struct {
	cfg        SupabaseConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewSupabaseKeyStore creates a key store client for the given project.
func NewSupabaseKeyStore(cfg SupabaseConfig, logger *zap.Logger) (*SupabaseKeyStore, error) {
	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

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

	return &SupabaseKeyStore{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.Named("keystore"),
	}, nil
}

// Resolve looks the key's digest up among active records. A missing row is
// ErrKeyNotFound; any transport or server failure is ErrStoreUnavailable.
func (s *SupabaseKeyStore) Resolve(parentCtx context.Context, plaintextKey string) (*Record, error) {
	keyHash := HashKey(plaintextKey)

	ctx, cancel := context.WithTimeout(parentCtx, s.cfg.Timeout)
	defer cancel()

	reqURL := s.cfg.BaseURL + "/rest/v1/api_keys?select=*&key_hash=eq." + url.QueryEscape(keyHash) +
		"&status=eq." + StatusActive

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("keystore: build request: %w", err)
	}
	s.setHeaders(httpReq)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		s.logger.Warn("key store request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		s.logger.Warn("key store returned error status",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, fmt.Errorf("%w: status %d", ErrStoreUnavailable, resp.StatusCode)
	}

	var rows []Record
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrStoreUnavailable, err)
	}
	if len(rows) == 0 {
		return nil, ErrKeyNotFound
	}

	return &rows[0], nil
}

// IssueRequest describes one administrative key issuance.
type IssueRequest struct {
	TenantID        string `json:"tenant_id,omitempty"`
	Label           string `json:"label,omitempty"`
	RateLimitPerMin int    `json:"rate_limit_per_min,omitempty"`
	PlaintextKey    string `json:"plaintext_key,omitempty"`
}

// insertedKeyRow is the shape written to the api_keys table.
type insertedKeyRow struct {
	ID              string `json:"id"`
	TenantID        string `json:"tenant_id,omitempty"`
	Label           string `json:"label"`
	KeyHash         string `json:"key_hash"`
	RateLimitPerMin int    `json:"rate_limit_per_min"`
	Status          string `json:"status"`
}

// Issue persists a new active key record and returns it with the plaintext.
// The plaintext is either caller-provided or freshly generated; only its
// digest is stored.
func (s *SupabaseKeyStore) Issue(parentCtx context.Context, req IssueRequest) (plaintext string, rec *Record, err error) {
	plaintext = req.PlaintextKey
	if plaintext == "" {
		plaintext, err = GenerateKey()
		if err != nil {
			return "", nil, err
		}
	}

	label := req.Label
	if label == "" {
		label = "default"
	}
	limit := req.RateLimitPerMin
	if limit <= 0 {
		limit = 60
	}

	row := insertedKeyRow{
		ID:              uuid.NewString(),
		TenantID:        req.TenantID,
		Label:           label,
		KeyHash:         HashKey(plaintext),
		RateLimitPerMin: limit,
		Status:          StatusActive,
	}

	body, err := json.Marshal(row)
	if err != nil {
		return "", nil, fmt.Errorf("keystore: marshal row: %w", err)
	}

	ctx, cancel := context.WithTimeout(parentCtx, s.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.BaseURL+"/rest/v1/api_keys", bytes.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("keystore: build request: %w", err)
	}
	s.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Prefer", "return=representation")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", nil, fmt.Errorf("keystore: insert failed with status %d: %s",
			resp.StatusCode, string(respBody))
	}

	var rows []Record
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return "", nil, fmt.Errorf("keystore: decode insert response: %w", err)
	}
	if len(rows) == 0 {
		return "", nil, errors.New("keystore: insert returned no rows")
	}

	return plaintext, &rows[0], nil
}

func (s *SupabaseKeyStore) setHeaders(req *http.Request) {
	req.Header.Set("apikey", s.cfg.ServiceKey)
	req.Header.Set("Authorization", "Bearer "+s.cfg.ServiceKey)
}
