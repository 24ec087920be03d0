package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vvlad212/moviesync/internal/checkpoint"
	"github.com/vvlad212/moviesync/internal/config"
	"github.com/vvlad212/moviesync/internal/index"
	"github.com/vvlad212/moviesync/internal/model"
	"github.com/vvlad212/moviesync/internal/source"
)

// app holds the configuration and the connections one command opens.
// Connections are closed in reverse order by close.
type app struct {
	cfg      config.Config
	pipeline model.Pipeline
	log      *slog.Logger
	closers  []func() error
}

// newApp loads and validates the configuration, applying flag overrides,
// and sets up logging. entity overrides MODEL_TO_CHECK when non-empty.
func newApp(opts *RootOptions, entity string) (*app, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.Pipeline != "" {
		cfg.Pipeline = opts.Pipeline
	}
	if entity != "" {
		cfg.Entity = entity
	} else if p, err := model.LookupPipeline(cfg.Pipeline); err == nil && !p.Tracks(cfg.EntityType()) {
		// A pipeline chosen by flag without an entity runs on its root.
		cfg.Entity = string(p.Root)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := config.ParseLogLevel(cfg.LogLevel)
	if opts.Verbose {
		level = slog.LevelDebug
	}
	log, cleanup := config.SetupLogger(cfg.LogFile, level)
	slog.SetDefault(log)

	return &app{
		cfg:      cfg,
		pipeline: cfg.PipelineDef(),
		log:      log,
		closers:  []func() error{cleanup},
	}, nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *app) close() {
	for _, fn := range slices.Backward(a.closers) {
		if err := fn(); err != nil {
			a.log.Error("error closing connection", "error", err)
		}
	}
	a.closers = nil
}

// openStore opens the configured checkpoint backend, namespaced by pipeline.
func (a *app) openStore(ctx context.Context) (checkpoint.Store, error) {
	c := a.cfg.Checkpoint
	var (
		st  checkpoint.Store
		err error
	)
	switch c.Backend {
	case config.BackendRedis:
		st, err = checkpoint.OpenRedis(ctx, checkpoint.RedisOptions{
			Addr:     a.cfg.RedisAddr(),
			Password: c.RedisPassword,
			DB:       c.RedisDB,
			LockTTL:  c.LockTTL,
		}, a.pipeline.Name, a.cfg.RetryPolicy(), a.log)
	case config.BackendSQLite:
		st, err = checkpoint.OpenSQLite(c.SQLitePath, a.pipeline.Name, c.LockTTL, a.cfg.RetryPolicy(), a.log)
	default:
		err = fmt.Errorf("unknown checkpoint backend %q", c.Backend)
	}
	if err != nil {
		return nil, err
	}
	a.onClose(st.Close)
	return st, nil
}

func (a *app) openSource(ctx context.Context) (*source.DB, error) {
	db, err := source.Open(ctx, source.Config{
		Driver: a.cfg.Source.Driver,
		DSN:    a.cfg.DataSourceName(),
		Schema: a.cfg.Source.Schema,
	}, a.cfg.RetryPolicy(), a.log)
	if err != nil {
		return nil, err
	}
	a.onClose(db.Close)
	return db, nil
}

func (a *app) openIndex(ctx context.Context) (*index.Client, error) {
	return index.NewClient(ctx, index.Config{
		URL:      a.cfg.ElasticsearchURL(),
		Username: a.cfg.Elasticsearch.Username,
		Password: a.cfg.Elasticsearch.Password,
	}, a.cfg.RetryPolicy(), a.log)
}

// signalContext derives a context cancelled on SIGINT or SIGTERM. The
// command's context is the parent when set (tests).
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
