package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/plan-takeoff/api/handlers"
	"github.com/feichai0017/plan-takeoff/api/routes"
	"github.com/feichai0017/plan-takeoff/config"
	"github.com/feichai0017/plan-takeoff/internal/repository"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
	"github.com/feichai0017/plan-takeoff/pkg/metrics"
	"github.com/feichai0017/plan-takeoff/pkg/queue"
)

func main() {
	serverCfg := config.GetServerConfig()

	// init logger
	log, err := logger.NewLogger(
		logger.WithLevel(serverCfg.LogLevel),
		logger.WithEncoding("json"),
		logger.WithInitialFields(map[string]interface{}{"service": "api"}),
		logger.WithOutputPaths([]string{"stdout", "logs/app.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	metrics.Init()

	store, err := repository.Open(context.Background(), config.GetDatabaseConfig(), log)
	if err != nil {
		log.Fatal("Failed to open database", logger.Error(err))
	}
	defer store.Close()

	q, err := queue.GetQueue(log)
	if err != nil {
		log.Fatal("Failed to connect queue", logger.Error(err))
	}
	defer q.Close()

	// init handlers
	h := handlers.NewHandlers(store, q, log)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h, serverCfg.AllowOrigins, log)

	srv := &http.Server{
		Addr:    serverCfg.Addr,
		Handler: r,
	}

	// start server
	go func() {
		log.Info("Server starting", logger.String("addr", serverCfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
