package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"odiadev-tts-gateway/internal/auth"
	"odiadev-tts-gateway/pkg/logging"
)

// KeyIssuer persists new API keys. Satisfied by *auth.SupabaseKeyStore.
type KeyIssuer interface {
	Issue(ctx context.Context, req auth.IssueRequest) (plaintext string, rec *auth.Record, err error)
}

// AdminHandler serves the administrative key-issuance endpoint.
type AdminHandler struct {
	adminToken string
	issuer     KeyIssuer // nil when the backing store is unconfigured
}

func NewAdminHandler(adminToken string, issuer KeyIssuer) *AdminHandler {
	return &AdminHandler{
		adminToken: adminToken,
		issuer:     issuer,
	}
}

type issueKeyResponse struct {
	PlaintextKey string       `json:"plaintext_key"`
	Record       *auth.Record `json:"record,omitempty"`
	Warning      string       `json:"warning,omitempty"`
}

// IssueKey handles POST /admin/keys/issue.
func (h *AdminHandler) IssueKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	if h.adminToken != "" && r.Header.Get("x-admin-token") != h.adminToken {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req auth.IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if h.issuer == nil {
		plaintext := req.PlaintextKey
		if plaintext == "" {
			var err error
			plaintext, err = auth.GenerateKey()
			if err != nil {
				logger.Error("key generation failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "key generation failed")
				return
			}
		}
		writeJSON(w, http.StatusOK, issueKeyResponse{
			PlaintextKey: plaintext,
			Warning:      "key store not configured; key not persisted",
		})
		return
	}

	plaintext, rec, err := h.issuer.Issue(ctx, req)
	if err != nil {
		logger.Error("key issuance failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "key issuance failed")
		return
	}

	logger.Info("api key issued",
		zap.String("key_id", rec.ID),
		zap.String("label", rec.Label),
		zap.Int("rate_limit_per_min", rec.RateLimitPerMin),
	)

	writeJSON(w, http.StatusCreated, issueKeyResponse{
		PlaintextKey: plaintext,
		Record:       rec,
	})
}
