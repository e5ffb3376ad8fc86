package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cardroom/settled/internal/server"
	"github.com/cardroom/settled/internal/settle"
	"github.com/cardroom/settled/internal/store"
)

// ServeCmd runs the settlement service.
type ServeCmd struct {
	Config string `kong:"default='settled.hcl',help='Path to HCL config file'"`
	Addr   string `kong:"help='Override the configured listen address'"`
	Debug  bool   `kong:"help='Enable debug logging'"`
}

func (c *ServeCmd) Run() error {
	cfg, err := server.LoadConfig(c.Config)
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}
	if c.Debug {
		cfg.Server.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := setupLogger(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Database.DSN, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}

	policy := cfg.RakePolicy()
	distributor := settle.NewDistributor(policy, st, logger)
	srv := server.New(cfg.Server.Addr, distributor, st, nil, logger)

	logger.Info("starting settlement service",
		"addr", cfg.Server.Addr,
		"rake_percent", policy.RakePercent,
		"min_pot", policy.MinPotForRake,
		"max_rake", policy.MaxRakePerPot,
		"jackpot_percent", policy.JackpotPercentOfRake)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	return g.Wait()
}
