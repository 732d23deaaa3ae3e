package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"chatmend/api"
	"chatmend/config"
	"chatmend/hub"
	"chatmend/intercept"
	"chatmend/policy"
	"chatmend/reconcile"
	"chatmend/rewrite"
	"chatmend/store"
)

func main() {
	cfg := config.Load()

	log.Printf("Starting chatmend relay...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Upstream: %s", cfg.UpstreamURL)
	log.Printf("Rewrite provider: %s (model %s)", cfg.RewriteURL, cfg.RewriteModel)
	log.Printf("Database: %s", cfg.DatabaseURL)
	if cfg.RewriteAPIKey == "" {
		log.Printf("WARN: no rewrite credential configured; censored turns will be restored, not replaced")
	}

	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	rewriteClient := rewrite.NewClient(cfg.RewriteURL, cfg.RewriteAPIKey, cfg.RewriteModel, cfg.RewriteTimeout)
	rewriter := rewrite.NewSettingsClient(rewriteClient, db)

	controller := reconcile.NewController(db, policyEngine, rewriter)

	interceptor := intercept.NewInterceptor(cfg.UpstreamURL, cfg.FilterMarker, cfg.RewriteTimeout)
	proxyHandler := intercept.NewHandler(interceptor)

	broadcastHub := hub.NewHub()
	go broadcastHub.Run()

	// Bridge interceptor detections onto the page-facing broadcast channel.
	go func() {
		for ev := range interceptor.Subscribe() {
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("WARN: failed to marshal detection event: %v", err)
				continue
			}
			broadcastHub.Broadcast(ev.ConversationID, data)
		}
	}()

	h := api.NewHandler(db, controller, broadcastHub, cfg)

	server := echo.New()
	server.HideBanner = true
	server.Use(middleware.Logger())
	server.Use(middleware.Recover())
	server.Use(middleware.CORS())

	h.RegisterRoutes(server)
	proxyHandler.RegisterRoutes(server)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Relay started on port %d", cfg.HTTPPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down relay...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Relay stopped")
}
