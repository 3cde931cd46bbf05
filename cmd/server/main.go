package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/abhinavvv-chauhan/chat-room/internal/server"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	fmt.Println("Starting chat room server...")

	cfg := server.NewConfigFromEnv()
	server.SetConfig(cfg)

	server.StartHub()
	mux := server.SetupRoutes()
	httpServer := server.CreateServer(cfg.Port, mux)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	case <-ctx.Done():
		if err := server.ShutdownServer(httpServer, 10*time.Second); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}
		if err := server.GetHub().Shutdown(5 * time.Second); err != nil {
			log.Printf("Hub shutdown: %v", err)
		}
	}
}
