package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Brownie44l1/teachable-api/internal/classify"
	"github.com/Brownie44l1/teachable-api/internal/config"
	"github.com/Brownie44l1/teachable-api/internal/handlers"
	"github.com/Brownie44l1/teachable-api/internal/logger"
	"github.com/Brownie44l1/teachable-api/internal/model"
	"github.com/Brownie44l1/teachable-api/internal/preprocess"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Server.Mode, cfg.Log.Level); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.L

	log.Info("starting teachable backend",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit))

	pre, err := preprocess.New(preprocess.Options{
		Size:        cfg.Preprocess.Size,
		Fit:         preprocess.Fit(cfg.Preprocess.Fit),
		JPEGQuality: cfg.Preprocess.JPEGQuality,
		AutoOrient:  cfg.Preprocess.AutoOrient,
	})
	if err != nil {
		log.Fatal("invalid preprocessing config", zap.Error(err))
	}

	// The model loads in the background; until it is ready /predict
	// answers "Model not ready".
	loader := model.NewLoader(model.Opener(model.Options{
		MetadataFile: cfg.Model.MetadataFile,
		GraphFile:    cfg.Model.GraphFile,
		LibraryPath:  cfg.Model.LibraryPath,
		IntraThreads: cfg.Model.IntraThreads,
	}), cfg.Model.Dir, log)
	loader.Start()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	classifier := classify.New(loader, pre, reg)
	handler := handlers.NewHandler(classifier, loader, cfg.Server.ReadyMessage, log)

	gin.SetMode(cfg.Server.Mode)
	router := handlers.NewRouter(handler, handlers.RouterOptions{
		UploadField:   cfg.Upload.Field,
		MaxUploadSize: cfg.Upload.MaxSize,
		Registry:      reg,
		Logger:        log,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("model_dir", cfg.Model.Dir),
			zap.Int64("max_upload_bytes", cfg.Upload.MaxSize))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Requests may still hold the model after a failed shutdown.
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed, leaving model open", zap.Error(err))
		return
	}
	if err := loader.Close(ctx); err != nil {
		log.Warn("model still loading at shutdown", zap.Error(err))
	}
}
