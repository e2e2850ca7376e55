// Command pizzaline runs the voice ordering service: the carrier webhook and
// media websocket, the kitchen dashboard API, and the SSE event feed.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pizzaline/pizzaline/internal/dotenv"
	"github.com/pizzaline/pizzaline/pkg/bus"
	"github.com/pizzaline/pizzaline/pkg/config"
	"github.com/pizzaline/pizzaline/pkg/menu"
	"github.com/pizzaline/pizzaline/pkg/notify"
	"github.com/pizzaline/pizzaline/pkg/order"
	"github.com/pizzaline/pizzaline/pkg/server"
)

func buildStore(ctx context.Context, cfg config.Config) (order.Store, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		return order.OpenPGStore(ctx, cfg.PostgresDSN)
	default:
		return order.OpenFileStore(cfg.OrdersPath, cfg.FreshStore)
	}
}

func buildNotifier(cfg config.Config, logger *slog.Logger) (order.Notifier, error) {
	if !cfg.SMSEnabled() {
		return &notify.LogNotifier{Logger: logger}, nil
	}
	return notify.NewSMS(notify.SMSConfig{
		AccountSID: cfg.CarrierAccountSID,
		AuthToken:  cfg.CarrierAuthToken,
		From:       cfg.CarrierFrom,
		Logger:     logger,
	})
}

func buildMenu(cfg config.Config) (*menu.Menu, error) {
	if cfg.MenuPath == "" {
		return menu.Default(), nil
	}
	return menu.Load(cfg.MenuPath)
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return fmt.Errorf("build notifier: %w", err)
	}

	m, err := buildMenu(cfg)
	if err != nil {
		return fmt.Errorf("load menu: %w", err)
	}

	events := bus.New(cfg.BusQueueSize)
	ledger, err := order.NewLedger(ctx, order.Config{
		Store:    store,
		Events:   events,
		Notifier: notifier,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	srv, err := server.New(server.Dependencies{
		Config: cfg,
		Logger: logger,
		Ledger: ledger,
		Events: events,
		Menu:   m,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	logger.Info("starting pizzaline",
		"addr", cfg.Addr,
		"store", string(cfg.StoreBackend),
		"sms", cfg.SMSEnabled(),
		"media_url", cfg.MediaStreamURL())

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("live calls did not drain before deadline", "error", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("pizzaline stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer) int {
	if stderr == nil {
		stderr = os.Stderr
	}

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "pizzaline: %v\n", err)
		return 1
	}

	var handler slog.Handler = slog.NewTextHandler(stderr, nil)
	if os.Getenv("PIZZALINE_LOG_JSON") == "true" {
		handler = slog.NewJSONHandler(stderr, nil)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if err := run(ctx, logger); err != nil {
		fmt.Fprintf(stderr, "pizzaline: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr))
}
