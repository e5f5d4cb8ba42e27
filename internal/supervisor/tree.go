// Package supervisor runs the HTTP server and background workers under a suture tree.
package supervisor

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"

	"guardwatch/internal/logging"
)

// TreeConfig tunes restart behavior. Zero values take suture's defaults.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// Tree has two layers so a crashing worker cannot take the API down with it:
// workers (aggregator, tracker sweep, relay, webhooks) and api (HTTP server).
type Tree struct {
	root    *suture.Supervisor
	workers *suture.Supervisor
	api     *suture.Supervisor
}

// NewTree builds an empty tree.
func NewTree(cfg TreeConfig) *Tree {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = 30
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = 15 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	child := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	rootSpec := child
	rootSpec.EventHook = logEvent

	t := &Tree{
		root:    suture.New("guardwatch", rootSpec),
		workers: suture.New("workers", child),
		api:     suture.New("api", child),
	}
	t.root.Add(t.workers)
	t.root.Add(t.api)
	return t
}

// AddWorker adds a background service.
func (t *Tree) AddWorker(svc suture.Service) suture.ServiceToken { return t.workers.Add(svc) }

// AddAPI adds a request-serving service.
func (t *Tree) AddAPI(svc suture.Service) suture.ServiceToken { return t.api.Add(svc) }

// Serve blocks until ctx is canceled.
func (t *Tree) Serve(ctx context.Context) error { return t.root.Serve(ctx) }

// ServeBackground starts the tree and reports its exit on the returned channel.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error { return t.root.ServeBackground(ctx) }

func logEvent(e suture.Event) {
	ev := logging.Warn()
	if _, ok := e.(suture.EventServicePanic); ok {
		ev = logging.Error()
	}
	ev.Fields(e.Map()).Msg(e.String())
}
