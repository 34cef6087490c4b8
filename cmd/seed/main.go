package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"planetq-generation/internal/config"
	"planetq-generation/internal/domain/model"
	pg "planetq-generation/internal/infra/db/postgres"
	"planetq-generation/internal/infra/logging"
	"planetq-generation/internal/usecase"
)

// Applies the schema and seeds a demo user with starting credits.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	schemaPath := flag.String("schema", "migrations/schema.sql", "path to schema file")
	email := flag.String("email", "demo@planetq.local", "seed user email")
	credits := flag.Int64("credits", 500, "seed user starting credits")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	schema, err := os.ReadFile(*schemaPath)
	if err != nil {
		log.Fatalf("read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		log.Fatalf("apply schema: %v", err)
	}
	fmt.Println("schema applied")

	tm := pg.NewTxManager(pool)
	userRepo := pg.NewUserRepo(pool)
	creditLogRepo := pg.NewCreditLogRepo(pool)
	ledger := usecase.NewCreditLedgerUseCase(userRepo, creditLogRepo, tm, logger)

	if existing, err := userRepo.FindByEmail(ctx, nil, *email); err == nil {
		fmt.Printf("user %s already present (balance=%d). No changes.\n", existing.Email, existing.Credits)
		return
	}

	u, err := model.NewUser("", *email, "Demo User", 0)
	if err != nil {
		log.Fatalf("new user: %v", err)
	}
	if err := userRepo.Save(ctx, nil, u); err != nil {
		log.Fatalf("save user: %v", err)
	}
	if _, err := ledger.Add(ctx, u.ID, *credits, model.CreditReasonSeed, "", "initial grant"); err != nil {
		log.Fatalf("grant credits: %v", err)
	}
	fmt.Printf("seeded user %s (id=%s) with %d credits\n", u.Email, u.ID, *credits)
}
