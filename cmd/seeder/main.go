package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/walletops/internal/auth"
	"github.com/punchamoorthee/walletops/internal/config"
	"github.com/punchamoorthee/walletops/internal/logger"
	"github.com/punchamoorthee/walletops/internal/store"
)

// SeedAccount is one line of the fixtures file read by cmd/benchmark.
type SeedAccount struct {
	UserID       string `json:"user_id"`
	WalletNumber string `json:"wallet_number"`
	Token        string `json:"token"`
}

var (
	totalAccounts  int
	initialBalance int64
	outFile        string
)

func init() {
	flag.IntVar(&totalAccounts, "accounts", 1000, "Number of users to create, one wallet each")
	flag.Int64Var(&initialBalance, "balance", 1_000_000, "Starting balance per wallet in kobo")
	flag.StringVar(&outFile, "out", "seed.json", "Where to write user ids, wallet numbers and session tokens")
}

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal(err)
	}
	if err := store.Migrate(cfg.DBSource); err != nil {
		logger.Fatalf("Unable to migrate database: %v", err)
	}

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, cfg.DBSource)
	if err != nil {
		logger.Fatalf("Unable to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	logger.Info("--- Seeding Database ---")

	var count int
	if err := conn.QueryRow(ctx, "SELECT COUNT(*) FROM wallets").Scan(&count); err != nil {
		logger.Fatalf("Count failed: %v", err)
	}
	if count >= totalAccounts {
		logger.Infof("Database already has %d wallets. Skipping.", count)
		return
	}

	// Seeded wallet numbers start with 9 so they never collide with
	// time-based numbers issued by the API.
	now := time.Now().UTC()
	users := make([][]any, 0, totalAccounts)
	wallets := make([][]any, 0, totalAccounts)
	accounts := make([]SeedAccount, 0, totalAccounts)
	signer := auth.NewJWTSigner(cfg.JWTAccessSecret)

	for i := 0; i < totalAccounts; i++ {
		userID := uuid.NewString()
		number := fmt.Sprintf("9%012d", i)
		users = append(users, []any{userID, fmt.Sprintf("bench+%d@walletops.local", i), "user", now})
		wallets = append(wallets, []any{uuid.NewString(), userID, number, initialBalance, "NGN", now, now})

		token, err := signer.Sign(userID, "user", now, cfg.AccessTokenExpiry)
		if err != nil {
			logger.Fatalf("Sign token: %v", err)
		}
		accounts = append(accounts, SeedAccount{UserID: userID, WalletNumber: number, Token: token})
	}

	// Bulk insert both tables in one transaction so a failure leaves no
	// wallet-less users behind.
	tx, err := conn.Begin(ctx)
	if err != nil {
		logger.Fatalf("Begin failed: %v", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"users"},
		[]string{"id", "email", "role", "created_at"}, pgx.CopyFromRows(users)); err != nil {
		logger.Fatalf("Bulk insert users failed: %v", err)
	}
	copied, err := tx.CopyFrom(ctx, pgx.Identifier{"wallets"},
		[]string{"id", "user_id", "wallet_number", "balance", "currency", "created_at", "updated_at"}, pgx.CopyFromRows(wallets))
	if err != nil {
		logger.Fatalf("Bulk insert wallets failed: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		logger.Fatalf("Commit failed: %v", err)
	}

	f, err := os.Create(outFile)
	if err != nil {
		logger.Fatalf("Create %s: %v", outFile, err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(accounts); err != nil {
		logger.Fatalf("Write %s: %v", outFile, err)
	}

	logger.Infof("Successfully seeded %d wallets; tokens written to %s (valid for %s).", copied, outFile, cfg.AccessTokenExpiry)
}
