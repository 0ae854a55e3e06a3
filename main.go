package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/relaymesh/orchestrator/internal/adapter/llm"
	"github.com/relaymesh/orchestrator/internal/config"
	"github.com/relaymesh/orchestrator/internal/dispatcher"
	"github.com/relaymesh/orchestrator/internal/eventlog"
	"github.com/relaymesh/orchestrator/internal/queue"
	"github.com/relaymesh/orchestrator/internal/service"
	"github.com/relaymesh/orchestrator/internal/tools"
	v1 "github.com/relaymesh/orchestrator/internal/transport/http/v1"
	"github.com/relaymesh/orchestrator/policy"
)

func main() {
	cfg := config.Load()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
		cfg = loaded
	}

	log.Printf("Starting orchestrator...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Event log: %s", cfg.EventLogURL)
	log.Printf("Queue: %s", cfg.QueueURL)
	log.Printf("Workers: %d", cfg.Workers)

	eventLog, err := eventlog.NewSQLiteLog(cfg.EventLogURL)
	if err != nil {
		log.Fatalf("Failed to initialize event log: %v", err)
	}
	defer eventLog.Close()

	workQueue, err := queue.NewSQLiteQueue(cfg.QueueURL, cfg.LeaseDuration)
	if err != nil {
		log.Fatalf("Failed to initialize work queue: %v", err)
	}
	defer workQueue.Close()

	registry := tools.NewBuiltinRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	modelClient := llm.NewMockClient()

	disp := dispatcher.New(eventLog, registry, modelClient, policyEngine, cfg)
	svc := service.New(eventLog, workQueue, registry, cfg)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		worker := dispatcher.NewWorker(workQueue, disp, cfg.PollInterval)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	h := v1.NewHandler(svc)
	h.RegisterRoutes(e)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("API started on port %d", cfg.HTTPPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down orchestrator...")

	// Stop consuming new work items; in-flight appends complete.
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Orchestrator stopped")
}
