package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"clinic-sync-service/internal/config"
	"clinic-sync-service/internal/logger"
)

// Monitor tracks connectivity with an active HTTP probe and notifies
// subscribers on offline→online and online→offline transitions.
type Monitor struct {
	probeURL string
	interval time.Duration
	http     *http.Client

	mu        sync.Mutex
	online    bool
	onOnline  []func()
	onOffline []func()

	stopOnce sync.Once
	stop     chan struct{}
}

func NewMonitor(cfg config.NetworkConfig) *Monitor {
	return &Monitor{
		probeURL: cfg.ProbeURL,
		interval: cfg.GetCheckInterval(),
		http:     &http.Client{Timeout: 10 * time.Second},
		stop:     make(chan struct{}),
	}
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// CheckConnectivity actively probes the network and records the result,
// firing transition callbacks when the state changed.
func (m *Monitor) CheckConnectivity(ctx context.Context) bool {
	online := m.probe(ctx)
	m.setOnline(online)
	return online
}

func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = append(m.onOnline, fn)
}

func (m *Monitor) OnOffline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOffline = append(m.onOffline, fn)
}

// Start performs an initial probe and begins the periodic check loop.
func (m *Monitor) Start(ctx context.Context) {
	m.CheckConnectivity(ctx)

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.CheckConnectivity(ctx)
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	logger.Log.Info("Network monitor started",
		zap.String("probe", m.probeURL),
		zap.Duration("interval", m.interval),
	)
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Monitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		return false
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	return resp.StatusCode < 500
}

func (m *Monitor) setOnline(online bool) {
	m.mu.Lock()
	changed := online != m.online
	m.online = online

	var callbacks []func()
	if changed {
		if online {
			callbacks = append(callbacks, m.onOnline...)
		} else {
			callbacks = append(callbacks, m.onOffline...)
		}
	}
	m.mu.Unlock()

	if !changed {
		return
	}

	logger.Log.Info("Network status changed", zap.Bool("online", online))
	for _, fn := range callbacks {
		fn()
	}
}
