package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// GeoConfig holds geolocation provider configuration.
type GeoConfig struct {
	// BaseURL of the ip-api-compatible endpoint; the IP is appended to the path.
	BaseURL string
	// Timeout per lookup. Default 5s.
	Timeout time.Duration
}

// GeoClient resolves IP addresses to country names. Any failure returns
// "Unknown" and logs a warning; it never propagates an error to the caller.
type GeoClient struct {
	cfg        GeoConfig
	httpClient *http.Client
	cache      Cache
	logger     *zap.Logger
}

// NewGeoClient creates a GeoClient. cache may be nil to disable caching.
func NewGeoClient(cfg GeoConfig, cache Cache, logger *zap.Logger) *GeoClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &GeoClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
		logger:     logger,
	}
}

type geoResponse struct {
	Country string `json:"country"`
}

// Country returns the country name for ip, or "Unknown" on any failure.
func (c *GeoClient) Country(ctx context.Context, ip string) string {
	if c.cache != nil {
		if v, ok := c.cache.Get(ctx, "geo:"+ip); ok {
			return v
		}
	}

	country, err := c.lookup(ctx, ip)
	if err != nil {
		c.logger.Warn("could not get country for IP",
			zap.String("ip", ip), zap.Error(err))
		return UnknownCountry
	}

	if c.cache != nil {
		c.cache.Set(ctx, "geo:"+ip, country)
	}
	return country
}

func (c *GeoClient) lookup(ctx context.Context, ip string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	reqURL := c.cfg.BaseURL + "/" + url.PathEscape(ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("geolocation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geolocation API returned status %d", resp.StatusCode)
	}

	var body geoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding geolocation response: %w", err)
	}
	if body.Country == "" {
		return "", fmt.Errorf("geolocation response missing country")
	}
	return body.Country, nil
}
