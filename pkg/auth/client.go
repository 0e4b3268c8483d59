// Package auth is the client for the external identity provider: email
// and password accounts, profile field updates and session tokens. The
// provider owns identities; this client only reads them, except for the
// explicit profile update call.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"

	"rownak/pkg/logger"
	"rownak/pkg/models"
)

// Session is an authenticated provider session. Tokens are opaque to
// everything outside this package.
type Session struct {
	Identity     models.Identity `json:"identity"`
	IDToken      string          `json:"idToken"`
	RefreshToken string          `json:"refreshToken,omitempty"`
}

// Client talks to an identity-toolkit style REST endpoint.
type Client struct {
	endpoint string
	apiKey   string
	hc       *http.Client
	validate *validator.Validate
}

// New returns a client for the given provider endpoint and API key.
func New(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		hc:       &http.Client{Timeout: 15 * time.Second},
		validate: validator.New(),
	}
}

type authResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	PhotoURL     string `json:"photoUrl"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	Error        *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, action string, body any) (*authResponse, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1/accounts:%s?key=%s", c.endpoint, action, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: %s: %w", action, err)
	}
	defer res.Body.Close()
	var out authResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("auth: %s: bad response: %w", action, err)
	}
	if out.Error != nil {
		return nil, classifyCode(out.Error.Message)
	}
	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("auth: %s: status %d", action, res.StatusCode)
	}
	return &out, nil
}

// session builds a Session from a provider response, filling identity
// gaps from the ID token claims when the response omits them.
func (c *Client) session(r *authResponse) *Session {
	id := models.Identity{
		UID:         r.LocalID,
		Email:       r.Email,
		DisplayName: r.DisplayName,
		AvatarURL:   r.PhotoURL,
	}
	if (id.UID == "" || id.Email == "") && r.IDToken != "" {
		if uid, email, err := tokenClaims(r.IDToken); err == nil {
			if id.UID == "" {
				id.UID = uid
			}
			if id.Email == "" {
				id.Email = email
			}
		} else {
			logger.Warn("auth_token_claims_unreadable", "error", err)
		}
	}
	return &Session{Identity: id, IDToken: r.IDToken, RefreshToken: r.RefreshToken}
}

// tokenClaims extracts uid and email from an ID token without
// verifying the signature; the token came straight from the provider
// over TLS and is only used to fill missing response fields.
func tokenClaims(token string) (uid, email string, err error) {
	claims := jwt.MapClaims{}
	if _, _, err = jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", "", err
	}
	if v, ok := claims["user_id"].(string); ok {
		uid = v
	} else if v, ok := claims["sub"].(string); ok {
		uid = v
	}
	if v, ok := claims["email"].(string); ok {
		email = v
	}
	return uid, email, nil
}

func (c *Client) checkEmail(email string) error {
	if err := c.validate.Var(email, "required,email"); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

// SignUp creates a new account.
func (c *Client) SignUp(ctx context.Context, email, password string) (*Session, error) {
	if err := c.checkEmail(email); err != nil {
		return nil, err
	}
	r, err := c.post(ctx, "signUp", map[string]any{
		"email": email, "password": password, "returnSecureToken": true,
	})
	if err != nil {
		return nil, err
	}
	return c.session(r), nil
}

// SignIn authenticates an existing account.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	if err := c.checkEmail(email); err != nil {
		return nil, err
	}
	r, err := c.post(ctx, "signInWithPassword", map[string]any{
		"email": email, "password": password, "returnSecureToken": true,
	})
	if err != nil {
		return nil, err
	}
	return c.session(r), nil
}

// Update writes profile fields for the session's identity and returns
// the refreshed identity. Empty fields are left untouched by the
// provider when omitted, so only set fields are sent.
func (c *Client) Update(ctx context.Context, sess *Session, displayName, avatarURL string) (*models.Identity, error) {
	if sess == nil || sess.IDToken == "" {
		return nil, ErrNoSession
	}
	body := map[string]any{"idToken": sess.IDToken, "returnSecureToken": false}
	if displayName != "" {
		body["displayName"] = displayName
	}
	if avatarURL != "" {
		body["photoUrl"] = avatarURL
	}
	r, err := c.post(ctx, "update", body)
	if err != nil {
		return nil, err
	}
	id := sess.Identity
	if r.DisplayName != "" {
		id.DisplayName = r.DisplayName
	} else if displayName != "" {
		id.DisplayName = displayName
	}
	if r.PhotoURL != "" {
		id.AvatarURL = r.PhotoURL
	} else if avatarURL != "" {
		id.AvatarURL = avatarURL
	}
	return &id, nil
}
