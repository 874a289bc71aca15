package claimload

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/claimgate/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging logs to both console and file. If logFile is empty, a
// timestamped filename is generated. The returned func closes the file.
func SetupLogging(logFile string) (func() error, error) {
	if logFile == "" {
		logFile = "claim_load_" + time.Now().Format("20060102_150405") + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	if err := logger.Init(logger.WithOutput(io.MultiWriter(os.Stdout, file))); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return file.Close, nil
}

// ShowHelp prints usage information for the load tool.
func ShowHelp() {
	os.Stdout.WriteString(`claimgate load tool
===================

Fires concurrent claims for a set of fresh wallets, each claim from its own
origin, then checks /claim-log: no wallet may exceed the period cap and the
recorded totals must match the settled responses.

Usage:
  go run ./cmd/claim-load [options]

Options:
  -url string         Base URL of the service (default "http://localhost:3000")
  -wallets int        Number of wallets (default 20)
  -per-wallet int     Concurrent claims per wallet (default 10)
  -score string       Score sent with each claim (default "2500")
  -cap string         Period cap the service enforces (default "1")
  -workers int        Number of concurrent workers (default CPU cores * 2)
  -rate int           Claims fired per second, 0 for as fast as possible (default 200)
  -timeout duration   HTTP request timeout (default 3m)
  -log string         Log file (default: claim_load_TIMESTAMP.log)
  -verbose            Log every response
  -help               Show this help message
`)
}
