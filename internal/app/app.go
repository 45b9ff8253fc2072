// Package app wires together configuration, the measurement client, the
// local store and metrics into a single Deps struct that commands receive
// at runtime.
package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/derickschaefer/kwchart/internal/chartdef"
	"github.com/derickschaefer/kwchart/internal/config"
	"github.com/derickschaefer/kwchart/internal/controller"
	"github.com/derickschaefer/kwchart/internal/measure"
	"github.com/derickschaefer/kwchart/internal/metrics"
	"github.com/derickschaefer/kwchart/internal/store"
)

// Deps holds all runtime dependencies injected into command Run functions.
// Store is opened lazily by OpenStore since most commands never touch it.
type Deps struct {
	Config   *config.Config
	Client   *measure.Client
	Location *time.Location
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Store    *store.Store
}

// New builds a Deps from resolved config.
func New(cfg *config.Config, log *slog.Logger) (*Deps, error) {
	if log == nil {
		log = slog.Default()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &Deps{
		Config:   cfg,
		Client:   measure.NewClient(cfg.BaseURL, cfg.Token, cfg.Timeout, cfg.Rate, log),
		Location: loc,
		Metrics:  metrics.New(),
		Logger:   log,
	}, nil
}

// OpenStore opens the local store on first use.
func (d *Deps) OpenStore() (*store.Store, error) {
	if d.Store != nil {
		return d.Store, nil
	}
	s, err := store.Open(d.Config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}
	d.Store = s
	return s, nil
}

// Close releases the store if it was opened.
func (d *Deps) Close() error {
	if d.Store == nil {
		return nil
	}
	err := d.Store.Close()
	d.Store = nil
	return err
}

// NewChart builds a chart facade over the configured client.
func (d *Deps) NewChart(def *chartdef.Definition, sink controller.Sink) (*controller.Chart, error) {
	return controller.New(def, controller.Options{
		Source:   d.Client,
		Sink:     sink,
		Location: d.Location,
		LiveCap:  d.Config.LiveCap,
		Metrics:  d.Metrics,
		Logger:   d.Logger,
	})
}
