package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/markw53/mt-api/config"
	"github.com/markw53/mt-api/internal/server"
	"go.uber.org/zap"
)

func main() {
	// .env is optional; real deployments inject environment directly.
	_ = godotenv.Load(".env")

	logger, err := config.InitLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := server.Start(); err != nil {
		zap.L().Fatal("server failed to start", zap.Error(err))
	}
}
