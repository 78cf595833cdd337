package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/surya-s-1/captain-tool-integrations/internal/api"
	"github.com/surya-s-1/captain-tool-integrations/internal/config"
	"github.com/surya-s-1/captain-tool-integrations/internal/logging"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	Long: `Serve the sync, download and Jira connect endpoints.

Edits to the config file's log.level take effect without a restart.
Background syncs and archive jobs are given up to 30s to finish on shutdown.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String(config.FlagName(config.KeyServerAddr), "", "Listen address (default :8080)")
	serveCmd.Flags().Int(config.FlagName(config.KeyJobsWorkers), 0, "Background tasks running at once")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.Logger
	a, err := newApp(rootCtx, settings, log, true)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if settings.Jira.ClientID == "" {
		WarnError("%s is not set; the Jira connect flow will fail", config.KeyJiraClientID)
	}

	srv := api.NewServer(api.ServerConfig{
		Store:               a.store,
		Syncer:              a.syncer,
		Archive:             a.archive,
		Blobs:               a.blobs,
		Runner:              a.dispatcher,
		Jira:                a.client,
		OAuth:               a.oauth,
		Connections:         a.creds,
		FrontendRedirectURL: settings.FrontendRedirectURL,
		Logger:              log,
	})

	config.Watch(func(s *config.Settings) {
		if lvl, err := logging.ParseLevel(s.LogLevel); err == nil && lvl == logger.Level() {
			return
		}
		if err := logger.SetLevel(s.LogLevel); err != nil {
			log.Warn("config reload: log level unchanged", "error", err)
			return
		}
		log.Info("config reloaded", "log_level", s.LogLevel)
	}, func(err error) {
		log.Warn("config reload ignored", "error", err)
	})

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", settings.ServerAddr, "storage", settings.StorageBackend, "blob", settings.BlobBackend)
		errc <- srv.Start(settings.ServerAddr)
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-rootCtx.Done():
	}

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.WithoutCancel(rootCtx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	if err := a.dispatcher.Close(ctx); err != nil {
		log.Warn("background work still running at exit", "error", err)
	}
	return nil
}
