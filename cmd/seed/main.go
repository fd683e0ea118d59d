// seed creates a development user in the configured store. Idempotent: skips when the
// dev user (dev@example.com) already exists. Run via go run ./cmd/seed.
package main

import (
	"context"
	"fmt"
	"log"

	"leadflow/backend/internal/app"
	"leadflow/backend/internal/config"
	"leadflow/backend/internal/logging"
)

const (
	devUserEmail = "dev@example.com"
	devUserPhone = "9876543210"
	devUserName  = "Dev User"
	devPassword  = "password123"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.StoreDriver == config.StoreMemory {
		log.Fatal("seed: STORE_DRIVER=memory has nothing to seed; use postgres or mongo")
	}
	logger := logging.New(cfg.LogLevel, cfg.Env)
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("app: %v", err)
	}
	defer a.Close(ctx)

	existing, err := a.Users.GetByEmail(ctx, devUserEmail)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Printf("Seed already applied (%s exists, id %s). Skipping.", devUserEmail, existing.ID)
		return
	}

	u, err := a.Auth.Register(ctx, devUserEmail, devUserPhone, devUserName, devPassword)
	if err != nil {
		log.Fatalf("create dev user: %v", err)
	}
	log.Println("Seed completed successfully.")
	fmt.Printf("Dev user: %s (id %s, phone %s) / %s\n", devUserEmail, u.ID, devUserPhone, devPassword)
}
