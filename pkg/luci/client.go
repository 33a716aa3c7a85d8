// Package luci is a client for the OpenWrt LuCI JSON-RPC interface.
package luci

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asnowfix/luci-config/pkg/luci/ratelimit"
	"github.com/go-logr/logr"
	"github.com/jackpal/gateway"
)

const (
	AuthPath = "/cgi-bin/luci/rpc/auth"
	UciPath  = "/cgi-bin/luci/rpc/uci"
)

type Client struct {
	host     string
	username string
	password string

	ssl        bool
	verifySSL  bool
	timeout    time.Duration
	httpClient *http.Client
	limiter    *ratelimit.RateLimiter
	log        logr.Logger

	mu    sync.Mutex
	token string
	ids   atomic.Uint64
}

type request struct {
	Id     uint64 `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type response struct {
	Id     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// NewClient returns a client for the router at host (host or host:port). When
// host is empty the default gateway is used. No request is sent until Login.
func NewClient(log logr.Logger, host, username, password string, opts ...Option) (*Client, error) {
	c := &Client{
		host:      host,
		username:  username,
		password:  password,
		verifySSL: true,
		timeout:   DefaultTimeout,
		log:       log.WithName("luci.Client"),
	}
	for _, opt := range opts {
		opt.apply(c)
	}

	if c.host == "" {
		ip, err := gateway.DiscoverGateway()
		if err != nil {
			return nil, fmt.Errorf("no router host and no default gateway: %w", err)
		}
		c.host = ip.String()
		c.log.Info("Using default gateway as router", "host", c.host)
	}

	if c.httpClient == nil {
		c.httpClient = c.buildHTTPClient()
	}
	return c, nil
}

func (c *Client) buildHTTPClient() *http.Client {
	hc := &http.Client{Timeout: c.timeout}
	if c.ssl && !c.verifySSL {
		// #nosec G402 -- routers commonly use self-signed certificates
		hc.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
	return hc
}

func (c *Client) Host() string {
	return c.host
}

func (c *Client) baseURL() *url.URL {
	scheme := "http"
	if c.ssl {
		scheme = "https"
	}
	return &url.URL{Scheme: scheme, Host: c.host}
}

func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Login authenticates against the router and stores the session token.
func (c *Client) Login(ctx context.Context) error {
	u := c.baseURL()
	u.Path = AuthPath

	raw, err := c.post(ctx, u, "login", []any{c.username, c.password})
	if err != nil {
		return err
	}
	var token string
	if err := json.Unmarshal(raw, &token); err != nil || token == "" {
		return fmt.Errorf("%w: unexpected login result %s", ErrInvalidLogin, string(raw))
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	c.log.V(1).Info("Logged in", "host", c.host)
	return nil
}

// RefreshToken replaces the current token with a new one.
func (c *Client) RefreshToken(ctx context.Context) error {
	c.log.Info("Refreshing login token", "host", c.host)
	return c.Login(ctx)
}

// Call invokes a method of the UCI namespace and returns its raw result.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	u := c.baseURL()
	u.Path = UciPath
	u.RawQuery = url.Values{"auth": []string{c.Token()}}.Encode()
	if params == nil {
		params = []any{}
	}
	return c.post(ctx, u, method, params)
}

func (c *Client) post(ctx context.Context, u *url.URL, method string, params []any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx, c.host); err != nil {
		return nil, err
	}

	body, err := json.Marshal(request{Id: c.ids.Add(1), Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.V(1).Info("Calling", "method", method, "params", params, "path", u.Path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.log.Error(cerr, "Failed to close response body")
		}
	}()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, method)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s: http status %d", ErrRPC, method, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", method, err)
	}
	var res response
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRPC, method, err)
	}
	if len(res.Error) > 0 && !isNull(res.Error) {
		return nil, fmt.Errorf("%w: %s: %s", ErrRPC, method, string(res.Error))
	}
	if len(res.Result) == 0 || isNull(res.Result) {
		return nil, fmt.Errorf("%w: %s returned no result", ErrInvalidLogin, method)
	}
	c.log.V(1).Info("Result", "method", method, "result", string(res.Result))
	return res.Result, nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
