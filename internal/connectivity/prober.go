package connectivity

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prober feeds a Monitor by polling a health URL. Any HTTP response counts as
// online; only transport failures count as offline.
type Prober struct {
	url      string
	interval time.Duration
	client   *http.Client
	monitor  *Monitor
	log      zerolog.Logger
}

func NewProber(url string, interval time.Duration, monitor *Monitor) *Prober {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	timeout := interval
	if timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	return &Prober{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
		monitor:  monitor,
		log:      log.Logger.With().Str("component", "prober").Logger(),
	}
}

// Run probes until ctx is done. Without a URL it returns immediately and the
// monitor only changes through explicit Set calls.
func (p *Prober) Run(ctx context.Context) {
	if p.url == "" {
		p.log.Warn().Msg("no probe URL configured, connectivity is manual")
		return
	}
	t := time.NewTicker(p.interval)
	defer t.Stop()

	p.monitor.Set(p.Probe(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.monitor.Set(p.Probe(ctx))
		}
	}
}

// Probe performs one reachability check.
func (p *Prober) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Debug().Err(err).Msg("probe failed")
		return false
	}
	resp.Body.Close()
	return true
}
