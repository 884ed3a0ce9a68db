package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Purge providers, distinguished by auth header and body shape.
const (
	ProviderCloudflare = "cloudflare"
	ProviderFastly     = "fastly"
)

const purgeTimeout = 10 * time.Second

// PurgeConfig configures the CDN purge endpoint. An empty URL disables
// purging entirely.
type PurgeConfig struct {
	URL      string
	Key      string
	Provider string
}

// CachePurger POSTs purge requests to the configured CDN endpoint. Failures
// of any kind are warnings that return false; they never raise.
type CachePurger struct {
	cfg    PurgeConfig
	client *http.Client
	logger *zap.SugaredLogger
}

func NewCachePurger(cfg PurgeConfig, logger *zap.Logger) *CachePurger {
	return &CachePurger{
		cfg:    cfg,
		client: &http.Client{Timeout: purgeTimeout},
		logger: logger.Sugar(),
	}
}

// Enabled reports whether a purge endpoint is configured.
func (p *CachePurger) Enabled() bool {
	return p.cfg.URL != ""
}

// Purge invalidates the given paths. No-op success when unconfigured.
func (p *CachePurger) Purge(ctx context.Context, paths []string) bool {
	if !p.Enabled() || len(paths) == 0 {
		return true
	}

	body := map[string][]string{"files": paths}
	if p.cfg.Provider == ProviderFastly {
		body = map[string][]string{"paths": paths}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		p.logger.Warnw("Failed to encode purge request", "error", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		p.logger.Warnw("Failed to build purge request", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	switch p.cfg.Provider {
	case ProviderFastly:
		req.Header.Set("Fastly-Key", p.cfg.Key)
	default:
		req.Header.Set("Authorization", "Bearer "+p.cfg.Key)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warnw("Cache purge request failed", "url", p.cfg.URL, "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.logger.Warnw("Cache purge rejected",
			"url", p.cfg.URL, "status", resp.StatusCode, "paths", len(paths))
		return false
	}
	return true
}
