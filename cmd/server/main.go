package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/vitrinai/backend/docs"
	"github.com/vitrinai/backend/internal/catalog"
	"github.com/vitrinai/backend/internal/config"
	"github.com/vitrinai/backend/internal/database"
	"github.com/vitrinai/backend/internal/handlers"
	mW "github.com/vitrinai/backend/internal/middleware"
	"github.com/vitrinai/backend/internal/services"
)

// @title Vitrin AI Credits API
// @version 1.0
// @description Credit ledger and payment webhook service
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	if err := config.Init(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	productCatalog, err := catalog.FromConfig()
	if err != nil {
		log.Fatalf("Invalid product catalog: %v", err)
	}
	log.Printf("Product catalog loaded with %d products", productCatalog.Len())

	docs.SwaggerInfo.Title = "Vitrin AI Credits API"
	docs.SwaggerInfo.Description = "Credit ledger and payment webhook service"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	creditService := services.NewCreditService(db)
	webhookHandler := handlers.NewWebhookHandler(creditService, productCatalog, redisClient, config.WebhookSecret())
	accountHandler := handlers.NewAccountHandler(creditService)
	adminHandler := handlers.NewAdminHandler(creditService)

	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		// Provider-facing webhook; its own auth is the shared secret.
		r.HandleFunc("/webhooks/gumroad", webhookHandler.HandleGumroad)

		// Signed-in user surface.
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/credits", accountHandler.GetCredits)
			r.Post("/credits/consume", accountHandler.ConsumeCredits)

			// Back-office.
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireAdmin)

				r.Post("/admin/credits/adjust", adminHandler.AdjustCredits)
				r.Get("/admin/webhooks", adminHandler.ListWebhooks)
				r.Get("/admin/ledger", adminHandler.ListLedger)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
