package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"agent-arena/internal/game"
)

// maxDecisionBytes caps a webhook response body.
const maxDecisionBytes = 64 << 10

var (
	ErrWebhookURL     = errors.New("invalid webhook url")
	ErrPrivateAddress = errors.New("webhook address is not public")
)

// Carrier-grade NAT space is not covered by netip's IsPrivate.
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// Remote asks an agent's webhook for each decision. The view is POSTed as
// JSON and the response body is decoded as a Decision. The request carries
// the collector's deadline, so a slow webhook is cut off at the decision
// timeout.
type Remote struct {
	url    string
	token  string
	client *http.Client
}

// RemoteOption configures a Remote strategy.
type RemoteOption func(*Remote)

// WithToken sends a bearer token with every request.
func WithToken(token string) RemoteOption {
	return func(r *Remote) { r.token = token }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) { r.client = c }
}

// PublicOnly makes the strategy refuse to connect to loopback, private,
// link-local and other non-public addresses. The check runs on the dialed
// address, so hostnames resolving into private networks are refused too.
func PublicOnly() RemoteOption {
	return func(r *Remote) {
		dialer := &net.Dialer{
			Timeout: 5 * time.Second,
			Control: func(_, address string, _ syscall.RawConn) error {
				host, _, err := net.SplitHostPort(address)
				if err != nil {
					return err
				}
				ip, err := netip.ParseAddr(host)
				if err != nil || !isPublic(ip) {
					return fmt.Errorf("%w: %s", ErrPrivateAddress, host)
				}
				return nil
			},
		}
		r.client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: 5 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		}
	}
}

// CheckWebhookURL accepts absolute http and https URLs without credentials.
// Unless allowPrivate is set, localhost names and non-public IP literals are
// rejected as well.
func CheckWebhookURL(raw string, allowPrivate bool) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrWebhookURL)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrWebhookURL)
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials in url", ErrWebhookURL)
	}
	if allowPrivate {
		return nil
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, host)
	}
	if ip, err := netip.ParseAddr(host); err == nil && !isPublic(ip) {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, host)
	}
	return nil
}

func isPublic(ip netip.Addr) bool {
	ip = ip.Unmap()
	return ip.IsGlobalUnicast() && !ip.IsPrivate() && !sharedAddressSpace.Contains(ip)
}

// NewRemote creates a webhook strategy for endpoint.
func NewRemote(endpoint string, opts ...RemoteOption) *Remote {
	r := &Remote{
		url: endpoint,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Decide implements game.Strategy.
func (r *Remote) Decide(ctx context.Context, view game.GameView) (game.Decision, error) {
	body, err := json.Marshal(view)
	if err != nil {
		return game.Decision{}, fmt.Errorf("encode view: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return game.Decision{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return game.Decision{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxDecisionBytes))
	if err != nil {
		return game.Decision{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return game.Decision{}, fmt.Errorf("agent webhook error %d: %s", resp.StatusCode, string(respBody))
	}

	var d game.Decision
	if err := json.Unmarshal(respBody, &d); err != nil {
		return game.Decision{}, fmt.Errorf("decode decision: %w", err)
	}
	return d, nil
}
