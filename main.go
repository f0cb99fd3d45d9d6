package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/leyuan/allocsrv/config"
	"github.com/leyuan/allocsrv/internal/database"
	"github.com/leyuan/allocsrv/internal/engine"
	"github.com/leyuan/allocsrv/internal/handlers"
	"github.com/leyuan/allocsrv/internal/middleware"
	"github.com/leyuan/allocsrv/internal/repository"
	"github.com/leyuan/allocsrv/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	// Solve history is optional; the service runs fine without a database
	var runRepo services.RunStore
	if cfg.DatabaseURL != "" {
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		runRepo = repository.NewRunRepository(db.Pool)
	}

	// Initialize engine and service
	eng := engine.New(cfg.SolveTimeLimit)
	allocSvc := services.NewAllocationService(eng, runRepo)

	// Initialize handlers
	allocHandler := handlers.NewAllocationHandler(allocSvc)

	// Setup Gin router
	router := gin.Default()
	router.Use(middleware.CORS())

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": "allocation optimizer", "status": "running"})
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.POST("/upload", allocHandler.Upload)
		api.POST("/solve", allocHandler.Solve)
		api.GET("/result", allocHandler.Result)
		api.GET("/constraints", allocHandler.Constraints)
		api.GET("/runs", allocHandler.Runs)
		api.GET("/export", allocHandler.Export)
		api.GET("/export/statistics", allocHandler.ExportStatistics)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 5 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	fmt.Println("Server exited")
}
