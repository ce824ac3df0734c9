// Package gotrue implements ports.IdentityBackend against a GoTrue-compatible
// hosted auth REST API (the /auth/v1 surface).
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domainauth "github.com/seda/bdportal/internal/domain/auth"
	"github.com/seda/bdportal/internal/ports"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// Config captures the subset of the hosted API we need.
type Config struct {
	// URL is the project base URL, without the /auth/v1 suffix.
	URL     string
	AnonKey string
	Timeout time.Duration
	Client  *http.Client
	// Now stamps token expiry when the response omits expires_at.
	Now func() time.Time
}

// Client talks to the hosted identity API.
type Client struct {
	base    string
	anonKey string
	client  *http.Client
	now     func() time.Time
}

// NewClient builds an API client. Callers should pass a validated config.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, errors.New("gotrue base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("gotrue base url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		base:    base + "/auth/v1",
		anonKey: cfg.AnonKey,
		client:  hc,
		now:     now,
	}, nil
}

var _ ports.IdentityBackend = (*Client)(nil)

// APIError is a non-2xx response from the identity API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gotrue: %s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("gotrue: %s (%d)", e.Message, e.Status)
}

// ErrorCode returns the machine-readable code, falling back to one derived from the status.
func (e *APIError) ErrorCode() string {
	if e.Code != "" {
		return e.Code
	}
	if e.Status == http.StatusTooManyRequests {
		return "too_many_requests"
	}
	return ""
}

var _ domainauth.CodedError = (*APIError)(nil)

type userResponse struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (u userResponse) account() domainauth.Account {
	return domainauth.Account{ID: u.ID, Email: strings.ToLower(u.Email), Metadata: u.UserMetadata}
}

type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`
}

func (c *Client) session(tr tokenResponse) (domainauth.BackendSession, error) {
	if tr.AccessToken == "" || tr.User == nil || tr.User.ID == "" {
		return domainauth.BackendSession{}, errors.New("gotrue: incomplete token response")
	}
	exp := time.Unix(tr.ExpiresAt, 0)
	if tr.ExpiresAt == 0 {
		exp = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return domainauth.BackendSession{
		Account: tr.User.account(),
		Tokens: domainauth.TokenPair{
			AccessToken:  tr.AccessToken,
			RefreshToken: tr.RefreshToken,
			TokenType:    tr.TokenType,
			ExpiresAt:    exp,
		},
	}, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (domainauth.BackendSession, error) {
	var tr tokenResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "", body, &tr); err != nil {
		return domainauth.BackendSession{}, err
	}
	return c.session(tr)
}

// SignUp registers an account. When email confirmation is on the API answers with the bare
// user; otherwise it answers with a session whose user is taken.
func (c *Client) SignUp(ctx context.Context, in ports.SignUpInput) (domainauth.Account, error) {
	var raw json.RawMessage
	body := map[string]any{"email": in.Email, "password": in.Password}
	if len(in.Metadata) > 0 {
		body["data"] = in.Metadata
	}
	if err := c.do(ctx, http.MethodPost, "/signup", "", body, &raw); err != nil {
		return domainauth.Account{}, err
	}

	var wrapped struct {
		User *userResponse `json:"user"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.User != nil && wrapped.User.ID != "" {
		return wrapped.User.account(), nil
	}
	var u userResponse
	if err := json.Unmarshal(raw, &u); err != nil {
		return domainauth.Account{}, fmt.Errorf("gotrue: decode signup response: %w", err)
	}
	if u.ID == "" {
		return domainauth.Account{}, errors.New("gotrue: signup response has no user")
	}
	return u.account(), nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (domainauth.BackendSession, error) {
	if refreshToken == "" {
		return domainauth.BackendSession{}, &APIError{Status: http.StatusBadRequest, Code: "refresh_token_not_found", Message: "no refresh token"}
	}
	var tr tokenResponse
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", body, &tr); err != nil {
		return domainauth.BackendSession{}, err
	}
	return c.session(tr)
}

func (c *Client) GetUser(ctx context.Context, accessToken string) (domainauth.Account, error) {
	var u userResponse
	if err := c.do(ctx, http.MethodGet, "/user", accessToken, nil, &u); err != nil {
		return domainauth.Account{}, err
	}
	if u.ID == "" {
		return domainauth.Account{}, errors.New("gotrue: user response has no id")
	}
	return u.account(), nil
}

func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/logout", accessToken, nil, nil)
}

// do sends one request. bearer defaults to the anon key; out may be nil.
func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode gotrue request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("create gotrue request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}
	if bearer == "" {
		bearer = c.anonKey
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("gotrue request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gotrue response: %w", err)
	}
	return nil
}

// decodeError understands both the current {error_code,msg} shape and the
// OAuth-style {error,error_description} shape.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		ErrorCode        string `json:"error_code"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	_ = json.Unmarshal(data, &payload)

	apiErr := &APIError{
		Status:  resp.StatusCode,
		Code:    firstNonEmpty(payload.ErrorCode, payload.Error),
		Message: firstNonEmpty(payload.Msg, payload.ErrorDescription, payload.Message),
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
