package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"portal-backend/cmd"
	"portal-backend/internal/config"
	"portal-backend/internal/database"
	"portal-backend/internal/dispatch"
	"portal-backend/internal/mailer"
	"portal-backend/internal/messaging"
)

func main() {
	log.Println("Starting Worker Process...")

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

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	processor := dispatch.NewProcessor(db, mailer.New(cfg.Mailer), cfg.Dispatch)
	processor.Start(receiver)

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received, stopping consumers...")
	receiver.Close()

	log.Println("Worker process stopped.")
}
