// Package client is the HTTP client for the cubeward panel API. It is used
// by the CLI subcommands and is importable by external tooling.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Client talks to a running cubeward panel.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger
	TLS      *TLSClientConfig
	Insecure bool // skip TLS verification
}

// TLSClientConfig holds TLS configuration for the client.
type TLSClientConfig struct {
	Enabled    bool
	CACert     string // CA certificate file path
	ClientCert string
	ClientKey  string
	ServerName string
	SkipVerify bool
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080",
		Timeout: 10 * time.Second,
	}
}

// New creates a panel API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if (config.TLS != nil && config.TLS.Enabled) || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks whether the panel answers at all.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("panel unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Status returns the full controller status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.getJSON(ctx, "/api/status", &st)
	return st, err
}

// StartServer requests a server start.
func (c *Client) StartServer(ctx context.Context) error {
	return c.post(ctx, "/api/server/start", nil)
}

// StopServer requests a server stop; force skips the graceful phase.
func (c *Client) StopServer(ctx context.Context, force bool) error {
	path := "/api/server/stop"
	if force {
		path += "?force=1"
	}
	return c.post(ctx, path, nil)
}

// RestartServer stops and restarts the server.
func (c *Client) RestartServer(ctx context.Context) error {
	return c.post(ctx, "/api/server/restart", nil)
}

// SendCommand forwards a console command and returns the server's response.
func (c *Client) SendCommand(ctx context.Context, command string) (string, error) {
	body, err := json.Marshal(map[string]string{"command": command})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/server/command", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", c.errorFromResponse(resp)
	}
	var out struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// StartTunnel starts the tunnel client.
func (c *Client) StartTunnel(ctx context.Context) error { return c.post(ctx, "/api/tunnel/start", nil) }

// StopTunnel stops the tunnel client.
func (c *Client) StopTunnel(ctx context.Context) error { return c.post(ctx, "/api/tunnel/stop", nil) }

// StartProxy starts the reverse proxy.
func (c *Client) StartProxy(ctx context.Context) error { return c.post(ctx, "/api/proxy/start", nil) }

// StopProxy stops the reverse proxy.
func (c *Client) StopProxy(ctx context.Context) error { return c.post(ctx, "/api/proxy/stop", nil) }

// Acknowledge clears a failed role back to stopped.
func (c *Client) Acknowledge(ctx context.Context, role string) error {
	return c.post(ctx, "/api/roles/"+url.PathEscape(role)+"/acknowledge", nil)
}

// Logs returns the retained console tail.
func (c *Client) Logs(ctx context.Context) ([]string, error) {
	var out struct {
		Lines []string `json:"lines"`
	}
	if err := c.getJSON(ctx, "/api/logs", &out); err != nil {
		return nil, err
	}
	return out.Lines, nil
}

// Profiles lists all stored profiles.
func (c *Client) Profiles(ctx context.Context) ([]Profile, error) {
	var ps []Profile
	err := c.getJSON(ctx, "/api/profiles", &ps)
	return ps, err
}

// GetProfile fetches one profile by name.
func (c *Client) GetProfile(ctx context.Context, name string) (Profile, error) {
	var p Profile
	err := c.getJSON(ctx, "/api/profiles/"+url.PathEscape(name), &p)
	return p, err
}

// SaveProfile creates or replaces a profile.
func (c *Client) SaveProfile(ctx context.Context, p Profile) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	return c.post(ctx, "/api/profiles", body)
}

// DeleteProfile removes a profile.
func (c *Client) DeleteProfile(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/api/profiles/"+url.PathEscape(name), nil)
	if err != nil {
		return err
	}
	return c.do(req)
}

// ActivateProfile makes the named profile active, tearing down the current
// one first when needed.
func (c *Client) ActivateProfile(ctx context.Context, name string, force bool) error {
	path := "/api/profiles/" + url.PathEscape(name) + "/activate"
	if force {
		path += "?force=1"
	}
	return c.post(ctx, path, nil)
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return c.errorFromResponse(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return c.errorFromResponse(resp)
	}
	return nil
}

func (c *Client) errorFromResponse(resp *http.Response) error {
	var apiErr APIError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Message == "" {
		return fmt.Errorf("panel returned status %d", resp.StatusCode)
	}
	apiErr.Status = resp.StatusCode
	return &apiErr
}

func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}
	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			caCert, err := os.ReadFile(config.TLS.CACert)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caCert) {
				return nil, fmt.Errorf("failed to parse CA certificate %s", config.TLS.CACert)
			}
			tlsConfig.RootCAs = pool
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}
	return tlsConfig, nil
}
