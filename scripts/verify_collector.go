//go:build ignore

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-parity/internal/client"
	"github.com/23skdu/longbow-parity/internal/parity"
	"github.com/23skdu/longbow-parity/internal/suites"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	addr := "localhost:9090"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	log.Info().Str("addr", addr).Msg("Connecting to Flight collector")

	// Retry connection loop
	var c *client.FlightClient
	var err error

	for i := 0; i < 10; i++ {
		c, err = client.NewFlightClient(addr)
		if err == nil {
			break
		}
		log.Warn().Err(err).Msg("Connection failed, retrying...")
		time.Sleep(1 * time.Second)
	}

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect after retries")
	}
	defer c.Close()

	h := parity.New(parity.DefaultConfig(), parity.WithLogger(log.Logger))
	rep := parity.NewRunner(h).Run(context.Background(), []*parity.Suite{suites.Add(), suites.ScalarAdd()})
	sum := rep.Summary()
	log.Info().Int("cases", sum.Total).Int("failed", sum.Failed).Msg("Local run complete")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	up := client.NewUploader(c, "verify", client.NewCircuitBreaker(1, time.Minute), log.Logger)
	if err := up.Upload(ctx, rep); err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("Uploaded report")

	if !sum.OK(false) {
		log.Fatal().Int("failed", sum.Failed).Msg("Parity failures in local run")
	}

	fmt.Println("VERIFICATION PASSED")
}
