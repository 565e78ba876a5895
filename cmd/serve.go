package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"helixar/internal/api"
	"helixar/internal/config"
	"helixar/internal/models"
	"helixar/internal/preferences"
	"helixar/internal/service/ai"
	"helixar/internal/session"
	"helixar/internal/worker"
)

const (
	shutdownTimeout   = 30 * time.Second
	workerIdleTimeout = 5 * time.Minute
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat workspace over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if listenAddr != "" {
			cfg.BasicConfig.ServerAddress = listenAddr
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "Listen address (overrides server_address)")
	rootCmd.AddCommand(serveCmd)
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := ai.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("init completion client: %w", err)
	}
	kv, store, err := openStore(ctx, cfg, session.Options{
		Completer:         client,
		SystemInstruction: cfg.Completion.SystemInstruction,
	})
	if err != nil {
		return err
	}
	defer kv.Close()

	prefs := preferences.NewService(kv, preferences.Preferences{
		Theme:  models.Theme(cfg.Preferences.Theme),
		Accent: cfg.Preferences.Accent,
	})
	dispatcher := worker.NewDispatcher(1, cfg.BasicConfig.Workers, cfg.BasicConfig.QueueSize, workerIdleTimeout)

	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(store, prefs, dispatcher, api.ModelTiers{
		Fast: fastModel(cfg),
		Pro:  models.ModelType(cfg.Completion.ProModel),
	})
	srv := &http.Server{
		Addr:    cfg.BasicConfig.ServerAddress,
		Handler: api.NewRouter(handler),
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"addr":     srv.Addr,
			"storage":  cfg.Storage.Driver,
			"provider": cfg.Completion.Provider,
		}).Info("helixar listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("pending completions abandoned")
	}
	return nil
}

func fastModel(cfg *config.Config) models.ModelType {
	return models.ModelType(cfg.Completion.FastModel)
}
