// Package notify registers a push-notification delivery token with the
// configured push service. The whole feature is best-effort: every
// failure is logged and swallowed, and nothing here may block or fail
// the rest of the client.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"rownak/pkg/logger"
	"rownak/pkg/models"
)

// Registrar posts delivery tokens.
type Registrar struct {
	endpoint string
	vapidKey string
	hc       *http.Client
}

// New builds a registrar. An empty endpoint disables registration.
func New(endpoint, vapidKey string) *Registrar {
	return &Registrar{endpoint: endpoint, vapidKey: vapidKey, hc: &http.Client{Timeout: 10 * time.Second}}
}

// Register requests a token and announces it for the identity. Errors
// are logged only.
func (r *Registrar) Register(ctx context.Context, id models.Identity) {
	if r.endpoint == "" {
		logger.Debug("notify_disabled")
		return
	}
	if r.vapidKey == "" {
		logger.Warn("notify_missing_vapid_key")
		return
	}
	token := uuid.NewString()
	body, err := json.Marshal(map[string]string{
		"uid":      id.UID,
		"token":    token,
		"vapidKey": r.vapidKey,
		"platform": "cli",
	})
	if err != nil {
		logger.Warn("notify_register_failed", "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/v1/tokens", bytes.NewReader(body))
	if err != nil {
		logger.Warn("notify_register_failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := r.hc.Do(req)
	if err != nil {
		logger.Warn("notify_register_failed", "error", err)
		return
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		logger.Warn("notify_register_rejected", "status", res.StatusCode)
		return
	}
	logger.Info("notify_token_registered", "uid", id.UID)
}
