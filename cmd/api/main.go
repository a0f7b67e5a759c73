package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"portal-backend/cmd"
	"portal-backend/internal/api"
	"portal-backend/internal/config"
	"portal-backend/internal/database"
	"portal-backend/internal/dispatch"
	"portal-backend/internal/loader"
	"portal-backend/internal/loader/principals"
	"portal-backend/internal/mailer"
	"portal-backend/internal/messaging"
	"portal-backend/internal/scheduler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func main() {
	log.Println("Starting API Server...")

	cmd.LoadEnvFile()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.RabbitMQURL == "" {
		log.Fatal("RABBITMQ_URL is required")
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := cfg.NewStorageProvider()
	if err != nil {
		log.Fatalf("Failed to create storage provider: %v", err)
	}
	if err := store.CreateBucket(context.Background(), cfg.Loader.Bucket); err != nil {
		log.Fatalf("Failed to create storage bucket: %v", err)
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	dispatcher := dispatch.NewDispatcher(db, publisher)
	sender := mailer.New(cfg.Mailer)

	sched := scheduler.New(db)
	if err := sched.FlushAllStates(context.Background()); err != nil {
		log.Fatalf("Failed to flush scheduler states: %v", err)
	}

	principalLoader, err := loader.NewRunner[*principals.Row](db,
		principals.NewMapper(cfg.Loader.DeactivateNotFound, cfg.Loader.DeactivationClause),
		cfg.Loader, store, sender, sched, principals.AllowedDeactivationFields())
	if err != nil {
		log.Fatalf("Failed to create principal loader: %v", err)
	}
	principalLoader.Start()
	defer principalLoader.Stop()

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewPortalService(db, dispatcher, map[string]api.LoaderControl{
		"principals": principalLoader,
	})

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("API server listening on port %s", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	log.Println("Server stopped.")
}
