package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maliciousScoreFloor is the abuse confidence score above which an address is
// considered malicious. The boundary is exclusive: 50 is safe, 51 is not.
const maliciousScoreFloor = 50

// ReputationConfig holds reputation provider configuration.
type ReputationConfig struct {
	// BaseURL of the AbuseIPDB-compatible check endpoint.
	BaseURL string
	// APIKey sent in the "Key" request header.
	APIKey string
	// Timeout per lookup. Default 5s.
	Timeout time.Duration
	// RateLimit is the outbound requests-per-second budget. 0 disables
	// client-side limiting.
	RateLimit int
}

// ReputationClient queries a remote threat-intelligence API for per-IP abuse
// scores. Private addresses and every failure mode resolve to "not
// malicious" — the pipeline prefers a missed flag over a dropped event.
type ReputationClient struct {
	cfg        ReputationConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      Cache
	logger     *zap.Logger
}

// NewReputationClient creates a ReputationClient. cache may be nil to disable
// lookup caching.
func NewReputationClient(cfg ReputationConfig, cache Cache, logger *zap.Logger) *ReputationClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)
	}
	return &ReputationClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		cache:      cache,
		logger:     logger,
	}
}

// reputationResponse is the provider payload; only the confidence score is used.
type reputationResponse struct {
	Data struct {
		AbuseConfidenceScore int `json:"abuseConfidenceScore"`
	} `json:"data"`
}

// IsMalicious reports whether ip has an abuse confidence score above 50.
// Private-range addresses return false without a network call. Remote
// failures (timeout, non-2xx, malformed payload) return false and log.
func (c *ReputationClient) IsMalicious(ctx context.Context, ip string) bool {
	if IsPrivateAddr(ip) {
		return false
	}

	if c.cache != nil {
		if v, ok := c.cache.Get(ctx, "rep:"+ip); ok {
			return v == "1"
		}
	}

	malicious, err := c.lookup(ctx, ip)
	if err != nil {
		c.logger.Error("reputation lookup failed",
			zap.String("ip", ip), zap.Error(err))
		return false
	}

	if c.cache != nil {
		v := "0"
		if malicious {
			v = "1"
		}
		c.cache.Set(ctx, "rep:"+ip, v)
	}
	return malicious
}

func (c *ReputationClient) lookup(ctx context.Context, ip string) (bool, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return false, fmt.Errorf("rate limiter: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	reqURL := c.cfg.BaseURL + "?ipAddress=" + url.QueryEscape(ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Key", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("reputation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("reputation API returned status %d", resp.StatusCode)
	}

	var body reputationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decoding reputation response: %w", err)
	}

	return body.Data.AbuseConfidenceScore > maliciousScoreFloor, nil
}
