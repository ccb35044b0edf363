package connectivity

import (
	"context"
	"time"

	"github.com/dmitrijs2005/declaro/internal/logging"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Watcher probes the API on a fixed interval and updates State.
type Watcher struct {
	pinger      Pinger
	state       *State
	interval    time.Duration
	pingTimeout time.Duration
	log         logging.Logger
}

func NewWatcher(p Pinger, s *State, interval time.Duration, log logging.Logger) *Watcher {
	if log == nil {
		log = logging.NopLogger{}
	}
	return &Watcher{pinger: p, state: s, interval: interval, pingTimeout: 3 * time.Second, log: log}
}

// Check runs a single probe.
func (w *Watcher) Check(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, w.pingTimeout)
	err := w.pinger.Ping(pctx)
	cancel()

	online := err == nil
	if w.state.Set(ctx, online) {
		w.log.Info(ctx, "connectivity changed", "status", w.state.Status())
	} else if err != nil {
		w.log.Debug(ctx, "api still unreachable", "error", err)
	}
	return online
}

// Run probes immediately and then on every tick until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	w.Check(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}
