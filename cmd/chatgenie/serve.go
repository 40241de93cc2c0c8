package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/chatgenie/chatgenie/attachment"
	"github.com/chatgenie/chatgenie/auth"
	"github.com/chatgenie/chatgenie/feedws"
	"github.com/chatgenie/chatgenie/presence"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve attachments, snapshot streams and metrics, and mark disconnected users offline",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var blobs interface {
		attachment.BlobStore
		attachment.BlobReader
	}
	if cfg.DataDir == "" {
		blobs = attachment.NewMemoryBlobStore(cfg.PublicURL)
	} else {
		pebbleBlobs, err := attachment.OpenPebbleBlobStore(filepath.Join(cfg.DataDir, "attachments"), nil, cfg.PublicURL)
		if err != nil {
			return err
		}
		defer pebbleBlobs.Close()
		blobs = pebbleBlobs
	}

	backend, release, err := newBackend(cfg, blobs, logger)
	if err != nil {
		return err
	}
	defer release()

	tokens := &auth.Tokens{
		Secret: jwtSecret(cfg, logger),
		TTL:    cfg.SessionTTL,
	}

	feedServer := &feedws.Server{
		Store:  backend.Store,
		Broker: backend.Broker,
		Tokens: tokens,
		Logger: logger,
	}
	defer feedServer.CloseHijackedConnections()

	router := mux.NewRouter()
	router.PathPrefix("/files/").Handler(attachment.NewHandler(&attachment.Handler{
		Blobs:  blobs,
		Logger: logger,
		Tokens: tokens,
	}))
	router.Handle("/feed", feedServer)
	router.Handle("/metrics", promhttp.Handler())

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "HEAD", "PUT", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	server := &http.Server{
		Addr:        cfg.HTTPAddress,
		Handler:     handlers.CombinedLoggingHandler(logger.Writer(), cors(router)),
		ReadTimeout: 2 * time.Minute,
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		select {
		case <-ch:
			logger.Info("signal caught. shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	reaper := &presence.Reaper{
		Store:    backend.Store,
		Liveness: backend.Liveness,
		Interval: cfg.ReapInterval,
		Logger:   logger,
	}
	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		reaper.Run(ctx)
	}()
	defer func() {
		<-reaperDone
	}()

	go func() {
		<-ctx.Done()
		if err := server.Shutdown(context.Background()); err != nil {
			logger.Error(err)
		}
	}()

	logger.Infof("listening at http://%v", cfg.HTTPAddress)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		cancel()
		return errors.Wrap(err, "server error")
	}
	return nil
}
