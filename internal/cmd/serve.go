package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/safar/go-order-delivery/internal/api"
	"github.com/safar/go-order-delivery/internal/checkout"
	"github.com/safar/go-order-delivery/internal/config"
	"github.com/safar/go-order-delivery/internal/database"
	"github.com/safar/go-order-delivery/internal/delivery"
	"github.com/safar/go-order-delivery/internal/logger"
	"github.com/safar/go-order-delivery/internal/notify"
	"github.com/safar/go-order-delivery/internal/routing"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API. When RABBITMQ_URL is set, courier notifications
are fanned out through the broker so every node can serve live streams.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New("order-delivery", logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	db, err := database.Connect(cmd.Context(), cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	log.Info("database_connected", nil)

	hub := notify.NewHub(log)
	var publisher notify.Publisher = hub

	var bridge *notify.RabbitBridge
	if cfg.Notifications.RabbitURL != "" {
		bridge, err = notify.DialRabbitBridge(cfg.Notifications.RabbitURL, cfg.Notifications.Exchange, hub, log)
		if err != nil {
			return err
		}
		defer bridge.Close()
		publisher = bridge
		log.Info("courier_bridge_connected", map[string]any{"exchange": cfg.Notifications.Exchange})
	}

	dispatcher := notify.NewDispatcher(db, publisher, log)
	estimator := routing.NewEstimator(cfg.Routing, log)
	deliveries := delivery.NewManager(db, dispatcher, estimator, log)
	orders := checkout.NewService(db, deliveries, dispatcher, cfg.Checkout, log)

	server := api.NewServer(api.Deps{
		DB:         db,
		Checkout:   orders,
		Deliveries: deliveries,
		Dispatcher: dispatcher,
		Hub:        hub,
		Log:        log,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		// Request contexts end with the group so open streams drain on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		log.Info("server_starting", map[string]any{"port": cfg.Server.Port})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if bridge != nil {
		g.Go(func() error {
			return bridge.Run(ctx)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		log.Info("server_stopping", nil)
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
