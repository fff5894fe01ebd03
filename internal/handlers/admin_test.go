package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"odiadev-tts-gateway/internal/auth"
)

type mockIssuer struct {
	plaintext string
	rec       *auth.Record
	err       error
	lastReq   auth.IssueRequest
}

func (m *mockIssuer) Issue(_ context.Context, req auth.IssueRequest) (string, *auth.Record, error) {
	m.lastReq = req
	return m.plaintext, m.rec, m.err
}

func postIssue(t *testing.T, h *AdminHandler, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/keys/issue", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("x-admin-token", token)
	}

	rr := httptest.NewRecorder()
	h.IssueKey(rr, req)
	return rr
}

func TestIssueKeyWrongToken(t *testing.T) {
	h := NewAdminHandler("secret", &mockIssuer{})

	rr := postIssue(t, h, "not-secret", map[string]string{})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}

	rr = postIssue(t, h, "", map[string]string{})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing token, got %d", rr.Code)
	}
}

func TestIssueKeyUnconfiguredStoreWarns(t *testing.T) {
	h := NewAdminHandler("secret", nil)

	rr := postIssue(t, h, "secret", map[string]interface{}{"label": "demo"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp issueKeyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.PlaintextKey == "" {
		t.Fatalf("expected a generated plaintext key")
	}
	if resp.Warning == "" {
		t.Fatalf("expected a warning about the unconfigured store")
	}
	if resp.Record != nil {
		t.Fatalf("no record should be returned without a store")
	}
}

func TestIssueKeyPersisted(t *testing.T) {
	issuer := &mockIssuer{
		plaintext: "sk-generated",
		rec: &auth.Record{
			ID:              "key-9",
			Label:           "demo",
			RateLimitPerMin: 30,
			Status:          auth.StatusActive,
		},
	}
	h := NewAdminHandler("secret", issuer)

	rr := postIssue(t, h, "secret", map[string]interface{}{
		"label":              "demo",
		"rate_limit_per_min": 30,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}

	var resp issueKeyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.PlaintextKey != "sk-generated" {
		t.Fatalf("unexpected plaintext: %q", resp.PlaintextKey)
	}
	if resp.Record == nil || resp.Record.ID != "key-9" {
		t.Fatalf("unexpected record: %+v", resp.Record)
	}
	if issuer.lastReq.RateLimitPerMin != 30 {
		t.Fatalf("issue request not forwarded: %+v", issuer.lastReq)
	}
}

func TestIssueKeyStoreFailure(t *testing.T) {
	h := NewAdminHandler("secret", &mockIssuer{err: errors.New("insert failed")})

	rr := postIssue(t, h, "secret", map[string]string{})
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
