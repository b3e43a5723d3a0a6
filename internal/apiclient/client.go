package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chatlink/chatlink-go/internal/creds"
)

var (
	// ErrUnauthorized means the request still failed authorization after
	// the single transparent refresh retry.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNetwork wraps transport-level failures where no response arrived.
	ErrNetwork = errors.New("network error")
)

// RefreshFunc exchanges a refresh token for a new access token.
type RefreshFunc func(ctx context.Context, refreshToken string) (string, error)

// Client wraps outbound requests with bearer-token injection and one
// transparent retry-after-refresh on a 401. Non-2xx responses other than
// the recovered 401 are returned as normal results; callers must inspect.
type Client struct {
	base    string
	http    *http.Client
	creds   creds.Store
	refresh RefreshFunc
	log     *slog.Logger
}

func New(base string, store creds.Store, refresh RefreshFunc, log *slog.Logger) *Client {
	return &Client{
		base:    strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		creds:   store,
		refresh: refresh,
		log:     log,
	}
}

type Response struct {
	StatusCode int
	Body       []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Do sends a JSON request to the backend. body may be nil.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}
	send := func() (*Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return c.roundTrip(req)
	}
	return c.withAuthRetry(ctx, send)
}

func (c *Client) roundTrip(req *http.Request) (*Response, error) {
	if token := c.creds.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: buf.Bytes()}, nil
}

// withAuthRetry runs send, and on a 401 refreshes the access token and runs
// it exactly once more. A missing refresh token, a failed refresh, or a
// second 401 all surface as ErrUnauthorized without looping.
func (c *Client) withAuthRetry(ctx context.Context, send func() (*Response, error)) (*Response, error) {
	resp, err := send()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	refreshToken, err := c.creds.RefreshToken()
	if err != nil {
		return nil, err
	}
	if refreshToken == "" {
		return nil, ErrUnauthorized
	}

	token, err := c.refresh(ctx, refreshToken)
	if err != nil {
		c.log.Warn("token refresh failed", "err", err)
		return nil, fmt.Errorf("%w: refresh failed: %v", ErrUnauthorized, err)
	}
	c.creds.SetAccessToken(token)

	resp, err = send()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	return resp, nil
}
