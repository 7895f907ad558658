// Package videoloft talks to the Videoloft (Manything) cloud: authentication,
// device metadata, camera status, live commands, events and thumbnails.
package videoloft

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vzahanych/videoloft-bridge/internal/config"
	"github.com/vzahanych/videoloft-bridge/internal/logger"
)

// Client is the vendor API client. Every request carries the current
// session token obtained from the TokenManager.
type Client struct {
	cfg    config.VideoloftConfig
	http   *resty.Client
	tokens *TokenManager
	logger *logger.Logger
}

// NewClient creates a vendor client backed by tokens
func NewClient(cfg config.VideoloftConfig, tokens *TokenManager, log *logger.Logger) *Client {
	httpClient := resty.New().
		SetTimeout(cfg.DeviceTimeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", cfg.UserAgent)

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		tokens: tokens,
		logger: log.Named("videoloft"),
	}
}

// Tokens returns the token manager used by the client
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

// HostURL builds a URL on a logger or wowza host
func (c *Client) HostURL(host, path string) string {
	return fmt.Sprintf("%s://%s%s", c.cfg.Scheme, host, path)
}

// StreamURL builds the HLS playlist URL for a live stream
func (c *Client) StreamURL(wowza, streamName string) string {
	return c.HostURL(wowza, "/manything/"+streamName+"/index.m3u8")
}

// AuthorizationHeader formats a token for the Authorization header
func AuthorizationHeader(token string) string {
	return "ManythingToken " + token
}

// request returns an authorized request bound to ctx
func (c *Client) request(ctx context.Context) (*resty.Request, string, error) {
	token, err := c.tokens.GetToken(ctx)
	if err != nil {
		return nil, "", err
	}
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", AuthorizationHeader(token))
	return req, token, nil
}

// get performs an authorized GET with its own timeout and returns the raw body
func (c *Client) get(ctx context.Context, op, url string, query map[string]string, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, _, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	resp, err := req.Get(url)
	if err != nil {
		return nil, &ConnectivityError{Op: op, Err: err}
	}
	if resp.IsError() {
		return nil, &UpstreamError{Op: op, StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return resp.Body(), nil
}

func (c *Client) getJSON(ctx context.Context, op, url string, query map[string]string, timeout time.Duration, out interface{}) error {
	body, err := c.get(ctx, op, url, query, timeout)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &DataIntegrityError{What: op + " response", Err: err}
	}
	return nil
}

func (c *Client) regionURL(ctx context.Context) (string, error) {
	if _, err := c.tokens.GetToken(ctx); err != nil {
		return "", err
	}
	region := c.tokens.Region()
	if region == "" {
		return "", &AuthError{Reason: "session has no region"}
	}
	return strings.TrimRight(c.tokens.RegionURL(region), "/"), nil
}
