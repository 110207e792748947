package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HTTPProbe is the production Source. It polls a health URL and reports
// online while the server answers with anything below 500.
type HTTPProbe struct {
	url      string
	client   *http.Client
	interval time.Duration
	logger   *slog.Logger
	state    *ManualSource
}

func NewHTTPProbe(url string, interval, timeout time.Duration, logger *slog.Logger) *HTTPProbe {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProbe{
		url:      url,
		client:   &http.Client{Timeout: timeout},
		interval: interval,
		logger:   logger,
		state:    NewManualSource(false),
	}
}

func (p *HTTPProbe) IsOnline() bool {
	return p.state.IsOnline()
}

func (p *HTTPProbe) Watch(fn func(online bool)) func() {
	return p.state.Watch(fn)
}

// Run probes immediately and then on every interval until ctx is done.
func (p *HTTPProbe) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}

// Probe performs a single check and publishes the result.
func (p *HTTPProbe) Probe(ctx context.Context) bool {
	online := p.check(ctx)
	if online != p.state.IsOnline() {
		p.logger.Info("connectivity changed", "online", online, "url", p.url)
	}
	p.state.SetOnline(online)
	return online
}

func (p *HTTPProbe) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.logger.Error("failed to build probe request", "error", err)
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("probe failed", "error", err)
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
