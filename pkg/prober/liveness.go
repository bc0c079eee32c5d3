package prober

import (
	"context"
	"net/http"
	"time"

	"github.com/yousef-elgarch1/secureflow/pkg/logging"
)

const DefaultLivenessTimeout = 10 * time.Second

// Checker decides whether a URL is serving.
type Checker interface {
	Alive(ctx context.Context, url string) bool
}

// HTTPChecker treats any status below 400, after redirects, as alive.
type HTTPChecker struct {
	Client  *http.Client
	Timeout time.Duration
}

func NewHTTPChecker(timeout time.Duration) *HTTPChecker {
	if timeout <= 0 {
		timeout = DefaultLivenessTimeout
	}
	return &HTTPChecker{Client: &http.Client{}, Timeout: timeout}
}

func (h *HTTPChecker) Alive(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", "secureflow-prober")
	resp, err := h.Client.Do(req)
	if err != nil {
		logging.Debugf("liveness probe %s: %v", url, err)
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 400
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, url string) bool

func (f CheckerFunc) Alive(ctx context.Context, url string) bool { return f(ctx, url) }
