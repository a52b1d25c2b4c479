// Package backend talks to the Doppelcheck server's HTTP endpoints:
// instance configuration and custom source URLs.
package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/doppelcheck/internal/cache"
	"github.com/ppiankov/doppelcheck/internal/model"
	"github.com/ppiankov/doppelcheck/internal/util"
)

// ConfigError is an error reported by the server in a get_config answer.
// It is a hard failure: the session must not start.
type ConfigError struct {
	Message       string
	ServerVersion string
}

func (e *ConfigError) Error() string {
	if e.ServerVersion != "" {
		return fmt.Sprintf("server config: %s (server version %s, client version %s)", e.Message, e.ServerVersion, model.Version)
	}
	return "server config: " + e.Message
}

// ErrVersionMismatch is wrapped when the server runs another version
var ErrVersionMismatch = errors.New("client version does not match server version")

// InstanceConfig is the server's answer to get_config
type InstanceConfig struct {
	ServerVersion string   `json:"versionServer"`
	NameInstance  string   `json:"nameInstance"`
	DataSources   []string `json:"dataSources"`
	Error         string   `json:"error,omitempty"`
}

type configRequest struct {
	InstanceID string `json:"instance_id"`
	Version    string `json:"version"`
}

type urlsBody struct {
	URLs []string `json:"urls"`
}

// Client calls the backend's HTTP API
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      cache.Cache
	configTTL  time.Duration
	userAgent  string
	logger     *slog.Logger
}

// NewClient creates a client for the configured server. Successful
// get_config answers are reused for cfg.Server.ConfigTTL.
func NewClient(cfg *model.Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	transport := &http.Transport{
		Proxy:           util.NewProxyFunc(cfg.HTTP.HTTPProxy, cfg.HTTP.HTTPSProxy, cfg.HTTP.NoProxy),
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.Server.InsecureTLS}, //nolint:gosec // opt-in for self-hosted backends
	}

	var c cache.Cache = cache.Noop{}
	if cfg.Server.ConfigTTL > 0 {
		c = cache.NewMemoryCache(cfg.Server.ConfigTTL, 2*cfg.Server.ConfigTTL)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.Server.BaseURL(), "/"),
		httpClient: &http.Client{Timeout: cfg.HTTP.Timeout, Transport: transport},
		cache:      c,
		configTTL:  cfg.Server.ConfigTTL,
		userAgent:  cfg.HTTP.UserAgent,
		logger:     logger,
	}
}

// GetConfig fetches the instance configuration. An answer carrying an
// error, or one from a server with another version, returns *ConfigError.
func (c *Client) GetConfig(ctx context.Context, instanceID string) (*InstanceConfig, error) {
	key := cache.Key("config", c.baseURL, instanceID)
	var cached InstanceConfig
	if cache.GetJSON(c.cache, key, &cached) {
		c.logger.Debug("instance config from cache", "instance_id", instanceID)
		return &cached, nil
	}

	var answer InstanceConfig
	body := configRequest{InstanceID: instanceID, Version: model.Version}
	if err := c.do(ctx, http.MethodPost, "/get_config/", body, &answer); err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}

	if answer.Error != "" {
		cfgErr := &ConfigError{Message: answer.Error, ServerVersion: answer.ServerVersion}
		if answer.ServerVersion != "" && answer.ServerVersion != model.Version {
			return nil, fmt.Errorf("%w: %w", cfgErr, ErrVersionMismatch)
		}
		return nil, cfgErr
	}
	if answer.ServerVersion != "" && answer.ServerVersion != model.Version {
		return nil, fmt.Errorf("%w: %w", &ConfigError{Message: "version mismatch", ServerVersion: answer.ServerVersion}, ErrVersionMismatch)
	}

	if err := cache.SetJSON(c.cache, key, answer, 0); err != nil {
		c.logger.Warn("instance config not cached", "error", err)
	}
	return &answer, nil
}

// GetURLs returns the custom source URLs saved on the server
func (c *Client) GetURLs(ctx context.Context) ([]string, error) {
	var out urlsBody
	if err := c.do(ctx, http.MethodGet, "/api/config/urls", nil, &out); err != nil {
		return nil, fmt.Errorf("get urls: %w", err)
	}
	return out.URLs, nil
}

// SetURLs replaces the custom source URLs and returns what the server kept
func (c *Client) SetURLs(ctx context.Context, urls []string) ([]string, error) {
	if urls == nil {
		urls = []string{}
	}
	var out urlsBody
	if err := c.do(ctx, http.MethodPost, "/api/config/urls", urlsBody{URLs: urls}, &out); err != nil {
		return nil, fmt.Errorf("set urls: %w", err)
	}
	if out.URLs == nil {
		return urls, nil
	}
	return out.URLs, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %d %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
