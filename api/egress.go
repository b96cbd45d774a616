package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrorCodeEgressUnavailable is the audit-row error code recorded when the
// egress precondition fails.
const ErrorCodeEgressUnavailable = "EGRESS_UNAVAILABLE"

// ErrEgressUnavailable indicates the static-IP egress required for signed
// exchange traffic is not configured or not reachable.
var ErrEgressUnavailable = errors.New("egress proxy unavailable")

// EgressGate verifies the outbound egress path before any signed order
// submission. Exchange writes must leave through a static-IP proxy whose
// address is allow-listed upstream; submitting without it produces
// silent rejections, so the gate fails closed.
type EgressGate struct {
	proxyURL   *url.URL
	probeURL   string
	httpClient *http.Client
}

// NewEgressGate creates a gate for the given proxy URL. probeURL is the
// endpoint hit to verify reachability; it defaults to the CLOB health
// endpoint.
func NewEgressGate(rawProxyURL, probeURL string) (*EgressGate, error) {
	g := &EgressGate{probeURL: probeURL}
	if g.probeURL == "" {
		g.probeURL = "https://clob.polymarket.com/"
	}

	if rawProxyURL != "" {
		parsed, err := url.Parse(rawProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid egress proxy url: %w", err)
		}
		g.proxyURL = parsed
	}

	transport := &http.Transport{}
	if g.proxyURL != nil {
		transport.Proxy = http.ProxyURL(g.proxyURL)
	}
	g.httpClient = &http.Client{
		Timeout:   5 * time.Second,
		Transport: transport,
	}

	return g, nil
}

// ProxyURL returns the configured proxy URL, or empty when none is set.
func (g *EgressGate) ProxyURL() string {
	if g.proxyURL == nil {
		return ""
	}
	return g.proxyURL.String()
}

// Check probes the egress path. It returns ErrEgressUnavailable (wrapped)
// when the proxy is missing or the probe fails.
func (g *EgressGate) Check(ctx context.Context) error {
	if g.proxyURL == nil {
		return fmt.Errorf("%w: no proxy configured", ErrEgressUnavailable)
	}

	req, err := http.NewRequestWithContext(ctx, "HEAD", g.probeURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEgressUnavailable, err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEgressUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: probe returned %d", ErrEgressUnavailable, resp.StatusCode)
	}

	return nil
}
