package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/dgate/internal/canonical"
	"github.com/roach88/dgate/internal/core"
)

const (
	defaultHTTPTimeout          = 5 * time.Second
	defaultHTTPMaxResponseBytes = 1 << 20
	defaultHTTPUserAgent        = "dgate-http-provider/1"
)

// HTTPConfig configures the http provider.
type HTTPConfig struct {
	AllowHTTP        bool     `yaml:"allow_http"`
	TimeoutMs        int64    `yaml:"timeout_ms"`
	MaxResponseBytes int64    `yaml:"max_response_bytes"`
	AllowedHosts     []string `yaml:"allowed_hosts"`
	UserAgent        string   `yaml:"user_agent"`
	RatePerSecond    float64  `yaml:"rate_per_second"`
	Burst            int      `yaml:"burst"`
}

// HTTPProvider answers checks against a URL:
//   - status: the response status code
//   - body_hash: the SHA-256 digest of the response body
//
// Only https is allowed unless AllowHTTP is set. Redirects are not
// followed. Each host gets its own rate limiter when RatePerSecond > 0.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client
	hosts  map[string]bool

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPProvider builds an http provider. A nil client gets a default
// with the configured timeout.
func NewHTTPProvider(cfg HTTPConfig, client *http.Client) *HTTPProvider {
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultHTTPMaxResponseBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultHTTPUserAgent
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	c := http.Client{Timeout: timeout}
	if client != nil {
		c = *client
	}
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	p := &HTTPProvider{cfg: cfg, client: &c, limiters: make(map[string]*rate.Limiter)}
	if cfg.AllowedHosts != nil {
		p.hosts = toSet(cfg.AllowedHosts)
	}
	return p
}

func (p *HTTPProvider) Checks() []string { return []string{"status", "body_hash"} }

func (p *HTTPProvider) Query(ctx context.Context, q core.EvidenceQuery, _ core.EvidenceContext) (core.EvidenceResult, error) {
	if q.CheckID != "status" && q.CheckID != "body_hash" {
		return core.EvidenceResult{}, unsupportedCheck(q)
	}
	m, err := paramsObject(q)
	if err != nil {
		return core.EvidenceResult{}, err
	}
	raw, err := stringParam(q, m, "url")
	if err != nil {
		return core.EvidenceResult{}, err
	}
	u, err := p.checkURL(raw)
	if err != nil {
		return core.EvidenceResult{}, newProviderError(q.ProviderID, q.CheckID, CodeParamsInvalid, "%v", err)
	}
	if err := p.limiter(u.Hostname()).Wait(ctx); err != nil {
		return core.EvidenceResult{}, newProviderError(q.ProviderID, q.CheckID, CodeProviderTimeout, "rate limit wait: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return core.EvidenceResult{}, newProviderError(q.ProviderID, q.CheckID, CodeProviderError, "%v", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	resp, err := p.client.Do(req)
	if err != nil {
		return core.EvidenceResult{}, newProviderError(q.ProviderID, q.CheckID, CodeProviderError, "request failed: %v", err)
	}
	defer resp.Body.Close()

	result := core.EvidenceResult{
		Lane:           core.LaneVerified,
		EvidenceRef:    &core.EvidenceRef{URI: u.String()},
		EvidenceAnchor: &core.EvidenceAnchor{AnchorType: "url", AnchorValue: u.String()},
		ContentType:    "application/json",
	}
	switch q.CheckID {
	case "status":
		result.Value = core.JSONValue(json.Number(strconv.Itoa(resp.StatusCode)))
	case "body_hash":
		body, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxResponseBytes+1))
		if err != nil {
			return core.EvidenceResult{}, newProviderError(q.ProviderID, q.CheckID, CodeProviderError, "read body: %v", err)
		}
		if int64(len(body)) > p.cfg.MaxResponseBytes {
			return core.EvidenceResult{}, newProviderError(q.ProviderID, q.CheckID, CodeProviderError, "http response exceeds size limit")
		}
		d := canonical.HashBytes(body)
		result.Value = core.JSONValue(map[string]any{"algorithm": string(d.Algorithm), "value": d.Value})
	}
	return result, nil
}

func (p *HTTPProvider) checkURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
	case "http":
		if !p.cfg.AllowHTTP {
			return nil, fmt.Errorf("http scheme is disabled")
		}
	default:
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url has no host")
	}
	if p.hosts != nil && !p.hosts[u.Hostname()] {
		return nil, fmt.Errorf("url host %q not allowed", u.Hostname())
	}
	return u, nil
}

func (p *HTTPProvider) limiter(host string) *rate.Limiter {
	if p.cfg.RatePerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[host]
	if !ok {
		burst := p.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(p.cfg.RatePerSecond), burst)
		p.limiters[host] = l
	}
	return l
}
