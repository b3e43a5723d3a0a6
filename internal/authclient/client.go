package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client performs the unauthenticated auth flows: login and token refresh.
// Both are one-shot requests with no retry logic of their own.
type Client struct {
	base string
	http *http.Client
	log  *slog.Logger
}

func New(base string, log *slog.Logger) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 15 * time.Second},
		log:  log,
	}
}

type LoginResult struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	AvatarURL    string `json:"avatarUrl"`
	RefreshToken string `json:"refreshToken"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// Login exchanges a phone number and password for a refresh token and the
// current-user identity.
func (c *Client) Login(ctx context.Context, phoneNumber, password string) (*LoginResult, error) {
	body, err := c.post(ctx, "/auth/login", map[string]string{
		"phoneNumber": phoneNumber,
		"password":    password,
	})
	if err != nil {
		return nil, err
	}

	var ep errorPayload
	if json.Unmarshal(body, &ep) == nil && ep.Error != "" {
		return nil, fmt.Errorf("login rejected: %s", ep.Error)
	}

	var result LoginResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	return &result, nil
}

// Register creates an account. The server logs the new user straight in, so
// the result carries a refresh token like Login's.
func (c *Client) Register(ctx context.Context, phoneNumber, password, firstName, lastName string) (*LoginResult, error) {
	body, err := c.post(ctx, "/auth/register", map[string]string{
		"phoneNumber": phoneNumber,
		"password":    password,
		"firstName":   firstName,
		"lastName":    lastName,
	})
	if err != nil {
		return nil, err
	}

	var ep errorPayload
	if json.Unmarshal(body, &ep) == nil && ep.Error != "" {
		return nil, fmt.Errorf("register rejected: %s", ep.Error)
	}

	var result LoginResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode register response: %w", err)
	}
	return &result, nil
}

// Refresh exchanges a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	body, err := c.post(ctx, "/auth/refresh", map[string]string{
		"refreshToken": refreshToken,
	})
	if err != nil {
		return "", err
	}

	var result struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("refresh returned no access token")
	}
	return result.AccessToken, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("auth request failed: %s", resp.Status)
	}
	return buf.Bytes(), nil
}
