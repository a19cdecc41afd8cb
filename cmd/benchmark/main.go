package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletops/internal/idempotency"
	"github.com/punchamoorthee/walletops/internal/logger"
	"github.com/punchamoorthee/walletops/internal/models"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type seedAccount struct {
	UserID       string `json:"user_id"`
	WalletNumber string `json:"wallet_number"`
	Token        string `json:"token"`
}

var (
	targetURL   string
	seedFile    string
	concurrency int
	duration    time.Duration
	workload    string
	replayRate  float64
	amount      string
)

// Outcome counters
var (
	totalRequests uint64
	transferred   uint64 // 200, fresh
	replayed      uint64 // 200 with the replay header
	conflicts     uint64 // 409, key still in flight
	rejected      uint64 // 422, mostly insufficient balance
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.StringVar(&seedFile, "seed", "seed.json", "Fixtures written by cmd/seeder")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.Float64Var(&replayRate, "replay", 0.05, "Fraction of requests that resend the previous Idempotency-Key")
	flag.StringVar(&amount, "amount", "1.00", "Naira moved per transfer")
}

func main() {
	flag.Parse()

	accounts, err := loadAccounts(seedFile)
	if err != nil {
		logger.Fatal(err)
	}
	if len(accounts) < 2 {
		logger.Fatalf("need at least two seeded accounts, found %d", len(accounts))
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		logger.Fatalf("invalid -amount: %v", err)
	}

	logger.Infof("Starting Benchmark: %s | Workers: %d | Duration: %s | Accounts: %d", workload, concurrency, duration, len(accounts))

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			worker(gctx, accounts, amt)
			return nil
		})
	}
	_ = g.Wait()
	printResults(time.Since(start))
}

func loadAccounts(path string) ([]seedAccount, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var out []seedAccount
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	return out, nil
}

func worker(ctx context.Context, accounts []seedAccount, amt decimal.Decimal) {
	client := &http.Client{Timeout: 5 * time.Second}
	var lastKey string
	var lastFrom, lastTo int

	for ctx.Err() == nil {
		from, to := pickAccounts(len(accounts))
		key := uuid.NewString()
		if lastKey != "" && rand.Float64() < replayRate {
			// Same key must carry the same sender, otherwise it is scoped elsewhere.
			key, from, to = lastKey, lastFrom, lastTo
		}
		lastKey, lastFrom, lastTo = key, from, to

		body, _ := json.Marshal(models.TransferRequest{
			WalletNumber: accounts[to].WalletNumber,
			Amount:       amt,
		})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL+"/api/v1/wallet/transfer", bytes.NewReader(body))
		if err != nil {
			logger.Fatal(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+accounts[from].Token)
		req.Header.Set(idempotency.HeaderKey, key)

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				atomic.AddUint64(&failOther, 1)
			}
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		atomic.AddUint64(&totalRequests, 1)
		switch {
		case resp.StatusCode == http.StatusOK && resp.Header.Get(idempotency.HeaderReplayed) != "":
			atomic.AddUint64(&replayed, 1)
		case resp.StatusCode == http.StatusOK:
			atomic.AddUint64(&transferred, 1)
		case resp.StatusCode == http.StatusConflict:
			atomic.AddUint64(&conflicts, 1)
		case resp.StatusCode == http.StatusUnprocessableEntity:
			atomic.AddUint64(&rejected, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
	}
}

// pickAccounts returns two distinct indexes. The hotspot workload sends 90%
// of traffic between the first two wallets to stress row locking.
func pickAccounts(n int) (int, int) {
	if workload == "hotspot" && rand.Float32() < 0.90 {
		if rand.Float32() < 0.5 {
			return 0, 1
		}
		return 1, 0
	}

	a := rand.Intn(n)
	b := rand.Intn(n)
	for a == b {
		b = rand.Intn(n)
	}
	return a, b
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&transferred)
	rep := atomic.LoadUint64(&replayed)
	f409 := atomic.LoadUint64(&conflicts)
	f422 := atomic.LoadUint64(&rejected)
	fErr := atomic.LoadUint64(&failOther)

	var conflictRate float64
	if total > 0 {
		conflictRate = float64(f409) / float64(total) * 100
	}

	results := map[string]any{
		"workload":            workload,
		"duration_sec":        d.Seconds(),
		"total_requests":      total,
		"throughput_tps":      float64(total) / d.Seconds(),
		"transfers_completed": ok,
		"replays":             rep,
		"conflicts":           f409,
		"conflict_rate_pct":   conflictRate,
		"rejected":            f422,
		"errors":              fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		logger.Warnf("could not save results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
