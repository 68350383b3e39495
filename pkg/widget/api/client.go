// Package api talks to the widget backend over HTTP: the per-tenant config
// document and the chat endpoint.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatwidget/pkg/widget/chat"
)

const DefaultTimeout = 30 * time.Second

// maxBodyBytes bounds what we read from any backend response.
const maxBodyBytes = 1 << 20

// StatusError is returned for every non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.Status, e.Body)
}

// Client is safe for concurrent use.
type Client struct {
	base *url.URL
	http *http.Client
}

type ClientOption func(*Client)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// NewClient parses baseURL, which must be absolute http or https.
func NewClient(baseURL string, options ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid api url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("api url must be http or https, got %q", baseURL)
	}
	if u.Host == "" {
		return nil, errors.Errorf("api url has no host: %q", baseURL)
	}
	c := &Client{base: u, http: &http.Client{Timeout: DefaultTimeout}}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) endpoint(segments ...string) string {
	u := *c.base
	escaped := make([]string, 0, len(segments))
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	u.RawPath = strings.TrimRight(c.base.EscapedPath(), "/") + "/" + strings.Join(escaped, "/")
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.Join(segments, "/")
	return u.String()
}

// FetchConfig returns the raw config document of clientID. The body is
// returned unparsed; the config cell validates it.
func (c *Client) FetchConfig(ctx context.Context, clientID string) ([]byte, error) {
	target := c.endpoint("config", clientID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

type chatResponse struct {
	Response *string `json:"response"`
}

// Send posts one chat message and returns the reply text. It implements
// chat.Sender.
func (c *Client) Send(ctx context.Context, in chat.Request) (string, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return "", errors.Wrap(err, "encode chat request")
	}
	target := c.endpoint("chat")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	raw, err := c.do(req)
	if err != nil {
		return "", err
	}
	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", errors.Wrap(err, "decode chat response")
	}
	if resp.Response == nil {
		return "", errors.New("chat response has no response field")
	}
	return *resp.Response, nil
}

// PushConfig replaces the stored config of clientID on a backend that
// exposes the admin route.
func (c *Client) PushConfig(ctx context.Context, clientID string, doc []byte) error {
	target := c.endpoint("config", clientID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(doc))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.do(req)
	return err
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s response", req.URL.Path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Method: req.Method,
			URL:    req.URL.String(),
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		}
	}
	return body, nil
}

var _ chat.Sender = (*Client)(nil)
