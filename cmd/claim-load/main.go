package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/claimgate/internal/claimload"
	"github.com/shopspring/decimal"
)

// Default configuration constants.
const (
	defaultWallets     = 20
	defaultPerWallet   = 10
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultRate        = 200
	defaultTimeout     = 3 * time.Minute
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:3000", "Base URL of the service")
		wallets   = flag.Int("wallets", defaultWallets, "Number of wallets")
		perWallet = flag.Int("per-wallet", defaultPerWallet, "Concurrent claims per wallet")
		score     = flag.String("score", "2500", "Score sent with each claim")
		periodCap = flag.String("cap", "1", "Period cap the service enforces")
		workers   = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		rate      = flag.Int("rate", defaultRate, "Claims fired per second, 0 for as fast as possible")
		timeout   = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		logFile   = flag.String("log", "", "Log file for run output (default: claim_load_TIMESTAMP.log)")
		verbose   = flag.Bool("verbose", false, "Log every response")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		claimload.ShowHelp()
		return
	}

	capValue, err := decimal.NewFromString(*periodCap)
	if err != nil {
		os.Stderr.WriteString("invalid -cap: " + err.Error() + "\n")
		os.Exit(2)
	}

	closeLog, err := claimload.SetupLogging(*logFile)
	if err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = closeLog() }()

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	config := &claimload.Config{
		BaseURL:         *baseURL,
		Wallets:         *wallets,
		ClaimsPerWallet: *perWallet,
		Score:           *score,
		PeriodCap:       capValue,
		Workers:         *workers,
		Rate:            *rate,
		Timeout:         *timeout,
		Verbose:         *verbose,
	}

	if _, err := claimload.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Load run failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1)
	}
}
