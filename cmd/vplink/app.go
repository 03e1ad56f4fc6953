package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sebastianm/vplink/internal/config"
	"github.com/sebastianm/vplink/internal/database"
	"github.com/sebastianm/vplink/internal/device"
	"github.com/sebastianm/vplink/internal/journal"
	_ "github.com/sebastianm/vplink/internal/journal/store"
	"github.com/sebastianm/vplink/internal/metrics"
)

type loader func(cmd *cobra.Command) (*app, error)

// app bundles what every command needs: configuration, logger, journal and
// metrics.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	db      *sql.DB
	journal *journal.Journal
	metrics *metrics.Metrics

	stopMetrics context.CancelFunc
}

func newApp(ctx context.Context, configPath string, logOut io.Writer) (*app, error) {
	path := config.Path(configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log, err := cfg.NewLogger(logOut)
	if err != nil {
		return nil, err
	}
	log.Debug("configuration loaded", "path", path)

	a := &app{cfg: cfg, log: log, metrics: metrics.New(), stopMetrics: func() {}}

	dbPath, err := cfg.JournalPath()
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		a.db, err = database.Open(ctx, dbPath)
		if err != nil {
			return nil, fmt.Errorf("opening journal: %w", err)
		}
	}
	a.journal = journal.New(log, journal.NewStore(a.db))

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		mctx, cancel := context.WithCancel(ctx)
		a.stopMetrics = cancel
		go func() {
			if err := a.metrics.Serve(mctx, log, addr); err != nil {
				log.Error("metrics server failed", "addr", addr, "error", err)
			}
		}()
	}
	return a, nil
}

// handler creates the device handler described by the configuration.
func (a *app) handler() (*device.Handler, error) {
	opts, err := a.cfg.TransportOptions(a.log)
	if err != nil {
		return nil, err
	}
	return device.NewHandler(device.Deps{
		Log:     a.log,
		Options: opts,
		Journal: a.journal,
		Metrics: a.metrics,
	}), nil
}

func (a *app) Close() error {
	a.stopMetrics()
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
