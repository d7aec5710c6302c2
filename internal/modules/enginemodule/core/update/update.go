// Package update reports the engine version and polls for newer builds.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Version and Build identify this engine release. Build increases with every
// release and is what update checks compare.
var (
	Version = "1.0.0"
	Build   = 2026101800
)

// Release describes a published build.
type Release struct {
	Version string `json:"version"`
	Build   int    `json:"build"`
	URL     string `json:"url,omitempty"`
}

// Checker fetches the latest published release.
type Checker interface {
	Latest(ctx context.Context) (Release, error)
}

// HTTPChecker reads a JSON Release document from URL.
type HTTPChecker struct {
	URL        string
	httpClient *http.Client
}

// NewHTTPChecker creates a checker with a bounded request timeout.
func NewHTTPChecker(url string, timeout time.Duration) *HTTPChecker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPChecker{URL: url, httpClient: &http.Client{Timeout: timeout}}
}

func (c *HTTPChecker) Latest(ctx context.Context) (Release, error) {
	var rel Release
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return rel, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return rel, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return rel, fmt.Errorf("update server returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return rel, fmt.Errorf("failed to read response body: %w", err)
	}
	if err := json.Unmarshal(body, &rel); err != nil {
		return rel, fmt.Errorf("failed to unmarshal JSON response: %w", err)
	}
	return rel, nil
}

// Poller runs one background check and remembers a newer release.
type Poller struct {
	checker Checker
	logger  hclog.Logger

	mu     sync.Mutex
	done   chan struct{}
	newer  *Release
	cancel context.CancelFunc
}

// NewPoller creates a poller. A nil checker makes every poll a no-op.
func NewPoller(checker Checker, logger hclog.Logger) *Poller {
	return &Poller{checker: checker, logger: logger.Named("update")}
}

// Start launches the check once. Later calls are no-ops.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return
	}
	p.done = make(chan struct{})
	if p.checker == nil {
		close(p.done)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	p.cancel = cancel
	go p.poll(ctx)
}

func (p *Poller) poll(ctx context.Context) {
	defer close(p.done)
	defer p.cancel()

	rel, err := p.checker.Latest(ctx)
	if err != nil {
		p.logger.Debug("update check failed", "error", err)
		return
	}
	if rel.Build <= Build {
		p.logger.Debug("no update available", "build", Build, "latest", rel.Build)
		return
	}
	p.logger.Info("update available", "version", rel.Version, "build", rel.Build)
	p.mu.Lock()
	p.newer = &rel
	p.mu.Unlock()
}

// Wait blocks until a started poll finishes.
func (p *Poller) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Stop abandons a running poll and waits for it.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.Wait()
}

// Check returns the newer build number and its version, or -1 and "" when
// no newer release is known.
func (p *Poller) Check() (int, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.newer == nil {
		return -1, ""
	}
	return p.newer.Build, p.newer.Version
}
