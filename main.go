package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/BlusMotif/BlusWipe/config"
	"github.com/BlusMotif/BlusWipe/handler"
	"github.com/BlusMotif/BlusWipe/middleware"
	"github.com/BlusMotif/BlusWipe/pkg/logger"
	"github.com/BlusMotif/BlusWipe/service"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real environments set variables directly
	_ = godotenv.Load()

	cfg, err := config.Load("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded",
		"max_file_size_mb", cfg.Processing.MaxFileSizeMB,
		"max_batch_files", cfg.Processing.MaxBatchFiles,
		"default_model", cfg.Processing.DefaultModel,
		"use_gpu", cfg.Processing.UseGPU,
	)

	// Initialize services
	scratch, err := service.NewScratchStore(cfg.Scratch.Dir)
	if err != nil {
		slog.Error("failed to initialize scratch store", "error", err)
		os.Exit(1)
	}

	outputs, err := service.NewOutputStore(cfg.Scratch.OutputDir, cfg.Scratch.MaxOutputs)
	if err != nil {
		slog.Error("failed to initialize output store", "error", err)
		os.Exit(1)
	}

	var objects *service.ObjectStore
	if cfg.Minio.Enabled {
		objects, err = service.NewObjectStore(&cfg.Minio)
		if err != nil {
			slog.Error("failed to initialize object store", "error", err)
			os.Exit(1)
		}
		if err := objects.EnsureBucket(context.Background()); err != nil {
			slog.Error("failed to ensure output bucket", "error", err)
			os.Exit(1)
		}
	}

	remover := service.NewRembgClient(&cfg.Rembg, cfg.Processing.UseGPU)

	// Readiness check for the inference backend; the process still
	// starts when it is down, health just reports model_loaded=false.
	modelReady := &atomic.Bool{}
	if err := remover.Ping(context.Background()); err != nil {
		slog.Warn("inference backend not reachable at startup", "error", err)
	} else {
		modelReady.Store(true)
		slog.Info("inference backend ready", "endpoint", cfg.Rembg.Endpoint)
	}

	pipeline := service.NewPipeline(service.PipelineConfig{
		MaxFileSize:   cfg.MaxFileSizeBytes(),
		AllowedExts:   cfg.Processing.AllowedExts,
		DefaultModel:  cfg.Processing.DefaultModel,
		MaxBatchFiles: cfg.Processing.MaxBatchFiles,
		MaxImageDim:   cfg.Processing.MaxImageDim,
		ProcessingDim: cfg.Processing.ProcessingDim,
	}, scratch, remover)

	// Sweep orphaned scratch/output files on a schedule
	sweeper, err := service.NewSweeper(cfg.Scratch.SweepSpec, scratch, outputs,
		time.Duration(cfg.Scratch.RetentionMinutes)*time.Minute)
	if err != nil {
		slog.Error("failed to initialize sweeper", "error", err)
		os.Exit(1)
	}
	sweeper.Start()

	// Initialize handlers
	imageHandler := handler.NewImageHandler(pipeline, outputs, objects, cfg.MaxFileSizeBytes())
	healthHandler := handler.NewHealthHandler(cfg.Processing.DefaultModel, modelReady)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New() // Use New() instead of Default() to avoid default middleware

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS())
	router.Use(middleware.RateLimit(100, time.Minute)) // 100 requests per minute per IP

	// Uploads can be up to the limit plus form overhead
	router.MaxMultipartMemory = cfg.MaxFileSizeBytes()

	// Web interface, when bundled
	if _, err := os.Stat("./static/index.html"); err == nil {
		router.Static("/static", "./static")
		router.StaticFile("/", "./static/index.html")
	}

	router.GET("/health", healthHandler.Health)

	api := router.Group("/api")
	{
		api.GET("/models", healthHandler.Models)
		api.POST("/remove-background", imageHandler.RemoveBackground)
		api.POST("/batch", imageHandler.Batch)
		api.GET("/download/:filename", imageHandler.Download)
	}

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}
