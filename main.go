package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	log := setupLogger()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "4040"
	}
	clientURL := os.Getenv("CLIENT_URL")
	if clientURL == "" {
		clientURL = "http://localhost:5173"
	}
	uploadDir := os.Getenv("UPLOAD_DIR")
	if uploadDir == "" {
		uploadDir = "./uploads"
	}

	store, err := NewStore(os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("database connected")

	attachments, err := NewDiskAttachmentStore(uploadDir, log)
	if err != nil {
		log.Error("attachment store init failed", "error", err)
		os.Exit(1)
	}

	auth := NewTokenAuthority(secret)
	presence := NewPresenceBroadcaster(log)
	registry := NewRegistry(presence.Announce)
	router := NewMessageRouter(registry, store, attachments, log)
	relay := NewRelayServer(ServerConfig{}, registry, router, auth, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", relay.HandleConnection)
	newAPI(store, auth, registry, log).routes(mux, attachments.Dir())

	server := &http.Server{
		Addr:    ":" + port,
		Handler: withCORS(clientURL, mux),
	}

	go func() {
		log.Info("server starting", "port", port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	relay.Stop()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return log
}
