// Package roblox implements the platform client: credential validation,
// write-token harvesting, and the asset upload state machine.
package roblox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"decalpress/internal/pipeline"
)

const (
	defaultUsersBaseURL = "https://users.roblox.com"
	defaultAuthBaseURL  = "https://auth.roblox.com"
	defaultUploadURL    = "https://apis.roblox.com/assets/user-auth/v1/assets"

	csrfHeader   = "x-csrf-token"
	cookieName   = ".ROBLOSECURITY"
	identityPath = "/v1/users/authenticated"
	logoutPath   = "/v2/logout"
)

// Endpoints names the platform URLs the client talks to. Overridable so tests
// can point at httptest servers.
type Endpoints struct {
	UsersBaseURL string `mapstructure:"users_base_url"`
	AuthBaseURL  string `mapstructure:"auth_base_url"`
	UploadURL    string `mapstructure:"upload_url"`
}

// DefaultEndpoints returns the production platform endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		UsersBaseURL: defaultUsersBaseURL,
		AuthBaseURL:  defaultAuthBaseURL,
		UploadURL:    defaultUploadURL,
	}
}

func (e *Endpoints) applyDefaults() {
	if e.UsersBaseURL == "" {
		e.UsersBaseURL = defaultUsersBaseURL
	}
	if e.AuthBaseURL == "" {
		e.AuthBaseURL = defaultAuthBaseURL
	}
	if e.UploadURL == "" {
		e.UploadURL = defaultUploadURL
	}
}

// Session validates credentials and derives write tokens. It holds no
// per-credential state; the cookie is passed per call and never logged.
type Session struct {
	client    *http.Client
	endpoints Endpoints
	logger    *zap.Logger
}

// NewSession constructs a Session. A nil client gets a 10s-timeout default.
func NewSession(client *http.Client, endpoints Endpoints, logger *zap.Logger) *Session {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoints.applyDefaults()
	return &Session{
		client:    client,
		endpoints: endpoints,
		logger:    logger,
	}
}

// ValidateCookie checks the credential against the authenticated-user
// endpoint and returns the publisher identity. Any non-success response maps
// to pipeline.ErrInvalidCredential.
func (s *Session) ValidateCookie(ctx context.Context, cookie string) (pipeline.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoints.UsersBaseURL+identityPath, nil)
	if err != nil {
		return pipeline.Identity{}, fmt.Errorf("build identity request: %w", err)
	}
	attachCookie(req, cookie)

	resp, err := s.client.Do(req)
	if err != nil {
		return pipeline.Identity{}, fmt.Errorf("identity request: %w: %w", pipeline.ErrInvalidCredential, err)
	}
	defer closeBody(resp, s.logger)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return pipeline.Identity{}, fmt.Errorf("identity endpoint returned %d: %w", resp.StatusCode, pipeline.ErrInvalidCredential)
	}

	var identity pipeline.Identity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return pipeline.Identity{}, fmt.Errorf("decode identity response: %w", err)
	}
	s.logger.Debug("credential validated", zap.Int64("user_id", identity.ID))
	return identity, nil
}

// FetchWriteToken harvests the anti-forgery token required by state-mutating
// requests. The platform only issues the token when it rejects an
// authenticated call, so this deliberately hits the session-logout endpoint
// and reads the token off the rejection. The header check is the primary
// path: a 2xx response is an anomaly and still goes through the same check.
// A response without the header is pipeline.ErrTokenUnavailable.
func (s *Session) FetchWriteToken(ctx context.Context, cookie string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoints.AuthBaseURL+logoutPath, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	attachCookie(req, cookie)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w: %w", pipeline.ErrTokenUnavailable, err)
	}
	defer closeBody(resp, s.logger)

	token := resp.Header.Get(csrfHeader)
	if token == "" {
		return "", fmt.Errorf("response %d carried no %s header: %w", resp.StatusCode, csrfHeader, pipeline.ErrTokenUnavailable)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.logger.Warn("token harvest call unexpectedly succeeded", zap.Int("status", resp.StatusCode))
	}
	s.logger.Debug("write token harvested")
	return token, nil
}

// attachCookie sets the raw Cookie header. http.Request.AddCookie sanitizes
// values, which can mangle the platform's token format.
func attachCookie(req *http.Request, cookie string) {
	req.Header.Set("Cookie", cookieName+"="+cookie)
}

func closeBody(resp *http.Response, logger *zap.Logger) {
	if err := resp.Body.Close(); err != nil {
		logger.Debug("close response body", zap.Error(err))
	}
}
