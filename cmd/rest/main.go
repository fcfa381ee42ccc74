package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"csv-analyst-be/internal/bootstrap"
	"csv-analyst-be/internal/config"
	"csv-analyst-be/internal/constant"
	"csv-analyst-be/internal/server"
	"csv-analyst-be/internal/tracer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Load Configuration
	cfg := config.Load()

	// 2. Bootstrap Dependencies (Container)
	container, err := bootstrap.NewContainer(cfg)
	if err != nil {
		log.Fatalf("[FATAL] %v", err)
	}
	defer container.Close()

	// 3. Tracing
	shutdownTracer := tracer.InitTracer(cfg.Otel, container.Logger)
	defer shutdownTracer(context.Background())

	// 4. Start Background Services
	if err := container.Start(ctx); err != nil {
		log.Fatalf("[FATAL] start background services: %v", err)
	}

	// 5. Initialize Server
	srv := server.New(cfg, container)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			container.Logger.Error(constant.ModuleServer, "Shutdown failed", map[string]interface{}{"error": err})
		}
	}()

	// 6. Run Server
	if err := srv.Run(); err != nil {
		container.Logger.Error(constant.ModuleServer, "Server stopped", map[string]interface{}{"error": err})
	}
}
