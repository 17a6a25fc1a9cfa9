// Package webapi is the client for the newsagent XML endpoints: one POST per
// operation, one parsed document or one error back, no retries.
package webapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"newsagent/api/internal/apixml"
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", opts.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		httpClient.Jar = jar
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{base: base, http: httpClient, logger: logger}, nil
}

// Endpoint returns the url of block/operation.
func (c *Client) Endpoint(block, operation string) string {
	ref := &url.URL{Path: block + "/api/" + operation}
	return c.base.ResolveReference(ref).String()
}

// Call posts payload to block/operation. It returns the decoded document when
// the server answered with a result, and an *APIError when it answered with an
// error element.
func (c *Client) Call(ctx context.Context, block, operation string, payload url.Values) (*apixml.Document, error) {
	op := block + "/" + operation
	if payload == nil {
		payload = url.Values{}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(block, operation), strings.NewReader(payload.Encode()))
	if err != nil {
		return nil, &TransportError{Operation: op, Err: err}
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", apixml.ContentType)
	req.Header.Set("X-Request-ID", requestID)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("webapi request failed", "op", op, "request_id", requestID, "error", err)
		return nil, &TransportError{Operation: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("webapi request",
		"op", op,
		"request_id", requestID,
		"status", resp.StatusCode,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	doc, decodeErr := apixml.Decode(resp.Body)
	if decodeErr == nil && doc.Error != nil {
		return nil, &APIError{Operation: op, StatusCode: resp.StatusCode, Info: doc.Error.Info}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Operation: op, StatusCode: resp.StatusCode, Status: resp.Status}
	}
	if decodeErr != nil {
		return nil, &TransportError{Operation: op, StatusCode: resp.StatusCode, Err: decodeErr}
	}
	return doc, nil
}

// SetCookies installs cookies delivered in a response body into the jar.
func (c *Client) SetCookies(cookies *apixml.Cookies) {
	if cookies == nil {
		return
	}
	var out []*http.Cookie
	for _, ck := range cookies.Cookie {
		if ck.Name == "" {
			continue
		}
		cookie := &http.Cookie{Name: ck.Name, Value: ck.Value, Path: ck.Path}
		if ck.Expires != "" {
			if expires, err := http.ParseTime(ck.Expires); err == nil {
				cookie.Expires = expires
			}
		}
		out = append(out, cookie)
	}
	if len(out) > 0 {
		c.http.Jar.SetCookies(c.base, out)
	}
}
