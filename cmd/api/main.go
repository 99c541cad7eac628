package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"invoicedesk.app/internal/app"
	"invoicedesk.app/internal/config"
	"invoicedesk.app/internal/httpapi"
	"invoicedesk.app/internal/logger"
	"invoicedesk.app/internal/obs"
	"invoicedesk.app/internal/sheetsync"
)

func main() {
	if err := run(); err != nil {
		l := logger.WithComponent("main")
		l.Error().Err(err).Msg("api exited")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	closer, err := logger.Setup(cfg.LoggerConfig())
	if err != nil {
		return err
	}
	defer closer.Close()
	log := logger.WithComponent("main")

	obs.Init()
	obs.InitBuildInfo(obs.Version, obs.Commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()
	svc := app.NewService(store, cfg)

	signer, err := app.NewSigner(cfg, log)
	if err != nil {
		return err
	}

	opts := []httpapi.Option{
		httpapi.WithSigner(signer),
		httpapi.WithReadiness(httpapi.ReadyProbe{DB: store.DB}),
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithVersion(obs.Version),
	}
	if cfg.IsDevelopment() {
		opts = append(opts, httpapi.WithDevTokens(cfg.TokenTTL()))
	}

	var wg sync.WaitGroup
	sheetClient, err := app.NewSheets(ctx, cfg)
	if err != nil {
		return err
	}
	if sheetClient != nil {
		opts = append(opts, httpapi.WithSheets(sheetClient))

		cp, rdb, err := app.NewCheckpoint(ctx, cfg)
		if err != nil {
			return err
		}
		if rdb != nil {
			defer rdb.Close()
		}
		bridge := sheetsync.New(store, sheetClient, cp)
		opts = append(opts, httpapi.WithSyncer(bridge))
		if cfg.SyncEnabled {
			wg.Add(1)
			go func() {
				defer wg.Done()
				bridge.Start(ctx, cfg.SyncInterval)
			}()
		}
	}

	api := httpapi.New(svc, opts...)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := httpapi.NewGRPC(httpapi.NewGRPCServer(httpapi.ReadyProbe{DB: store.DB}, obs.Version), logger.WithComponent("grpc"))
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", obs.Version).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("grpc listening")
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- err
		}
	}()
	obs.SetReady(true)

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("server failed")
		stop()
	}
	obs.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	wg.Wait()
	log.Info().Msg("stopped")
	return nil
}
