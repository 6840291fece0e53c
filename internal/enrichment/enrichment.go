// Package enrichment augments remote connection addresses with network
// intelligence: abuse reputation and geolocation. Lookups degrade to safe
// defaults on any remote failure — enrichment never fails the pipeline.
package enrichment

import (
	"context"
	"net/netip"
	"sync"

	"github.com/sentinelagent/sentinel-backend/internal/telemetry"
	"go.uber.org/zap"
)

// UnknownCountry is the country value used when geolocation is unavailable.
const UnknownCountry = "Unknown"

// Result is the enrichment outcome for one remote address. The zero value is
// the fully degraded default: unknown location, not malicious.
type Result struct {
	Country   string `json:"country"`
	Malicious bool   `json:"malicious"`
}

// ReputationLookup checks whether an IP is known malicious.
type ReputationLookup interface {
	IsMalicious(ctx context.Context, ip string) bool
}

// GeoLookup resolves an IP to a country name.
type GeoLookup interface {
	Country(ctx context.Context, ip string) string
}

// Enricher runs reputation and geolocation lookups for the distinct remote
// addresses of one snapshot's connections.
type Enricher struct {
	reputation ReputationLookup
	geo        GeoLookup
	logger     *zap.Logger
}

// NewEnricher creates an Enricher.
func NewEnricher(reputation ReputationLookup, geo GeoLookup, logger *zap.Logger) *Enricher {
	return &Enricher{reputation: reputation, geo: geo, logger: logger}
}

// Enrich looks up every distinct remote address across conns, one goroutine
// per address with reputation and geolocation issued concurrently inside it.
// Private and loopback addresses short-circuit without any network call.
// A failure for one address never blocks or fails another; all lookups
// complete (or degrade) before Enrich returns.
func (e *Enricher) Enrich(ctx context.Context, conns []telemetry.ConnectionSample) map[string]Result {
	addrs := distinctRemoteAddrs(conns)
	results := make(map[string]Result, len(addrs))
	if len(addrs) == 0 {
		return results
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, addr := range addrs {
		if IsPrivateAddr(addr) {
			results[addr] = Result{}
			continue
		}

		wg.Add(1)
		go func(ip string) {
			defer wg.Done()

			var res Result
			var inner sync.WaitGroup
			inner.Add(2)
			go func() {
				defer inner.Done()
				res.Malicious = e.reputation.IsMalicious(ctx, ip)
			}()
			go func() {
				defer inner.Done()
				res.Country = e.geo.Country(ctx, ip)
			}()
			inner.Wait()

			mu.Lock()
			results[ip] = res
			mu.Unlock()
		}(addr)
	}
	wg.Wait()

	return results
}

// IsPrivateAddr reports whether ip is a loopback or RFC1918 address, which
// are exempt from reputation and geolocation lookups. Unparseable addresses
// are treated as private so no lookup is wasted on garbage input.
func IsPrivateAddr(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return true
	}
	return addr.IsLoopback() || addr.IsPrivate()
}

// distinctRemoteAddrs returns the unique non-empty remote addresses in
// first-seen order.
func distinctRemoteAddrs(conns []telemetry.ConnectionSample) []string {
	seen := make(map[string]struct{}, len(conns))
	var out []string
	for _, c := range conns {
		if c.RemoteAddress == "" {
			continue
		}
		if _, ok := seen[c.RemoteAddress]; ok {
			continue
		}
		seen[c.RemoteAddress] = struct{}{}
		out = append(out, c.RemoteAddress)
	}
	return out
}
