package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xfrllc/frank/internal/agent"
	"github.com/xfrllc/frank/internal/auth"
	"github.com/xfrllc/frank/internal/chat"
	"github.com/xfrllc/frank/internal/config"
	"github.com/xfrllc/frank/internal/event"
	"github.com/xfrllc/frank/internal/logging"
	"github.com/xfrllc/frank/internal/server"
	"github.com/xfrllc/frank/internal/store"
	"github.com/xfrllc/frank/internal/ws"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "frank.yaml", "path to config file")
	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Pretty: cfg.AppEnv == "development",
	})

	db, err := store.Connect(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return err
	}
	if err := store.AutoMigrate(db); err != nil {
		return err
	}

	cache := store.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer cache.Close()

	st := store.New(cache, db, cfg.ChatTTL, cfg.HistoryLength)
	authSvc := auth.NewService(db)

	catalog := agent.NewCatalog(cfg.DefaultModel)
	ag := agent.New(agent.Config{
		APIKey:  cfg.OpenRouter.APIKey,
		BaseURL: cfg.OpenRouter.BaseURL,
	}, catalog)

	bus := event.NewBus()
	defer bus.Close()

	titles := chat.NewTitleService(st, ag, bus, cfg.TitleModel)

	wsHandler := ws.NewHandler(authSvc, st, ws.NewAgentGenerator(ag), catalog, titles, bus, cfg.HistoryLength)
	srv := server.New(cfg.Port, authSvc, st, wsHandler)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logging.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
