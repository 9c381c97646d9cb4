// Package gradio is the gateway to the hosted MediSense Gradio space. It owns
// the process-wide connection handle and the cached reachability status.
package gradio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	EndpointPredict   = "/predict_and_recommend"
	EndpointChat      = "/chat_with_medisense"
	EndpointClearChat = "/clear_chat"
)

const (
	DefaultSpace   = "puneeth1/Disease-Drug-RoBERTa"
	DefaultHubURL  = "https://huggingface.co"
	defaultTimeout = 2 * time.Minute
)

var (
	ErrServiceUnavailable = errors.New("Gradio API is not available. Please try again later.")
	ErrMalformedResponse  = errors.New("received an invalid response structure")
)

type Options struct {
	// Space is either "owner/name" on the hub or a full http(s) URL.
	Space      string
	HubURL     string
	Token      string
	Timeout    time.Duration
	RateLimit  float64 // calls per second, <= 0 disables limiting
	Burst      int
	HTTPClient *http.Client
}

// Conn is a resolved, reusable handle on the space.
type Conn struct {
	Root      string
	APIPrefix string
	Version   string
}

func (c *Conn) callURL(endpoint string) string {
	return c.Root + c.APIPrefix + "/call" + endpoint
}

type Status struct {
	Tested  bool
	Working bool
}

type attempt struct {
	done chan struct{}
	conn *Conn
	err  error
}

type Client struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter

	mu      sync.Mutex
	conn    *Conn
	pending *attempt
	tested  bool
	working bool
}

func New(opts Options) *Client {
	if opts.Space == "" {
		opts.Space = DefaultSpace
	}
	if opts.HubURL == "" {
		opts.HubURL = DefaultHubURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		opts:    opts,
		http:    hc,
		limiter: rate.NewLimiter(limit, opts.Burst),
	}
}

// Connect returns the cached handle, joins an in-flight attempt, or dials.
// A failed attempt leaves nothing cached so the next call dials again.
func (c *Client) Connect(ctx context.Context) (*Conn, error) {
	c.mu.Lock()
	if c.conn != nil {
		cn := c.conn
		c.mu.Unlock()
		return cn, nil
	}
	if p := c.pending; p != nil {
		c.mu.Unlock()
		select {
		case <-p.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if p.err != nil {
			return nil, fmt.Errorf("gradio connection failed during wait: %w", p.err)
		}
		return p.conn, nil
	}
	p := &attempt{done: make(chan struct{})}
	c.pending = p
	c.mu.Unlock()

	log.Printf("🔌 Connecting to Gradio space %s", c.opts.Space)
	cn, err := c.dial(ctx)

	c.mu.Lock()
	c.pending = nil
	c.conn = cn
	p.conn, p.err = cn, err
	c.mu.Unlock()
	close(p.done)

	if err != nil {
		log.Printf("❌ Gradio connection failed: %v", err)
		return nil, err
	}
	log.Printf("✅ Gradio client connected to %s (version %s)", cn.Root, cn.Version)
	return cn, nil
}

// TestConnectivity reports whether the space is reachable. The result is
// cached until force is set; a failure is never returned as an error.
func (c *Client) TestConnectivity(ctx context.Context, force bool) bool {
	c.mu.Lock()
	if c.tested && !force {
		working := c.working
		c.mu.Unlock()
		log.Printf("API already tested. Status: %s", statusWord(working))
		return working
	}
	c.tested = false
	c.working = false
	c.mu.Unlock()

	_, err := c.Connect(ctx)

	c.mu.Lock()
	c.tested = true
	c.working = err == nil
	c.mu.Unlock()
	if err != nil {
		log.Printf("⚠️ Gradio API connection test failed: %v", err)
		return false
	}
	log.Printf("✅ Gradio API connection test successful")
	return true
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{Tested: c.tested, Working: c.working}
}

// ensureAvailable is the precondition shared by every remote call. On failure
// the tested flag is cleared so the following call tests again.
func (c *Client) ensureAvailable(ctx context.Context) error {
	if c.Status().Working || c.TestConnectivity(ctx, false) {
		return nil
	}
	c.mu.Lock()
	c.tested = false
	c.mu.Unlock()
	return ErrServiceUnavailable
}

// noteFailure drops the connection state after a transport-level connect error.
func (c *Client) noteFailure(err error) {
	if !isConnectError(err) {
		return
	}
	c.mu.Lock()
	c.tested = false
	c.working = false
	c.conn = nil
	c.mu.Unlock()
	log.Printf("🔌 Gradio connection lost, next call will re-test: %v", err)
}

func isConnectError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func (c *Client) dial(ctx context.Context) (*Conn, error) {
	root, err := c.resolveRoot(ctx)
	if err != nil {
		return nil, err
	}
	var cfg struct {
		Version   string `json:"version"`
		APIPrefix string `json:"api_prefix"`
	}
	if err := c.getJSON(ctx, root+"/config", &cfg); err != nil {
		return nil, fmt.Errorf("fetch space config: %w", err)
	}
	return &Conn{
		Root:      root,
		APIPrefix: strings.TrimRight(cfg.APIPrefix, "/"),
		Version:   cfg.Version,
	}, nil
}

func (c *Client) resolveRoot(ctx context.Context) (string, error) {
	space := c.opts.Space
	if strings.HasPrefix(space, "http://") || strings.HasPrefix(space, "https://") {
		return strings.TrimRight(space, "/"), nil
	}
	var host struct {
		Subdomain string `json:"subdomain"`
		Host      string `json:"host"`
	}
	u := strings.TrimRight(c.opts.HubURL, "/") + "/api/spaces/" + space + "/host"
	if err := c.getJSON(ctx, u, &host); err != nil {
		return "", fmt.Errorf("resolve space %s: %w", space, err)
	}
	if host.Host == "" {
		return "", fmt.Errorf("resolve space %s: empty host", space)
	}
	return strings.TrimRight(host.Host, "/"), nil
}

func (c *Client) getJSON(ctx context.Context, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}
}

func statusWord(working bool) string {
	if working {
		return "Working"
	}
	return "Not Working"
}
