package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdelaney/choreplan/internal/backup"
	"github.com/mdelaney/choreplan/internal/database"
	"github.com/mdelaney/choreplan/internal/logging"
	"github.com/mdelaney/choreplan/internal/push"
	"github.com/mdelaney/choreplan/internal/server"
)

func main() {
	logger := logging.Setup(os.Getenv("CHOREPLAN_LOG_LEVEL"), os.Getenv("CHOREPLAN_LOG_FORMAT"))

	port := os.Getenv("CHOREPLAN_PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("CHOREPLAN_DB_PATH")
	if dbPath == "" {
		dbPath = "choreplan.db"
	}

	db, err := database.Open(dbPath)
	if err != nil {
		logger.Error("failed to open database", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	s3Cfg := backup.S3Config{
		Endpoint:  os.Getenv("CHOREPLAN_S3_ENDPOINT"),
		Bucket:    os.Getenv("CHOREPLAN_S3_BUCKET"),
		Region:    os.Getenv("CHOREPLAN_S3_REGION"),
		AccessKey: os.Getenv("CHOREPLAN_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("CHOREPLAN_S3_SECRET_KEY"),
	}

	pushCfg := push.Config{
		VAPIDPublicKey:  os.Getenv("CHOREPLAN_VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("CHOREPLAN_VAPID_PRIVATE_KEY"),
	}

	srv := server.New(db, s3Cfg, pushCfg, logger)

	if err := srv.Materializer().Load(); err != nil {
		logger.Error("failed to load chores", "error", err)
		os.Exit(1)
	}
	if err := srv.Materializer().GenerateAll(0); err != nil {
		logger.Error("startup generation failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv.BackupManager().Start(ctx)
	if sched := srv.PushScheduler(); sched != nil {
		sched.Start(ctx)
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("choreplan running", "addr", "http://localhost:"+port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
	srv.BackupManager().Stop()
	if sched := srv.PushScheduler(); sched != nil {
		sched.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
