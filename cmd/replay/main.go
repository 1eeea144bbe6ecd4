// replay verifies a locked calculation run by deterministic replay and
// exits non-zero on any checksum mismatch, so it can gate audit
// pipelines.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fundops/harrier/internal/domain"
	"github.com/fundops/harrier/internal/export"
	"github.com/fundops/harrier/internal/repository"
)

func main() {
	runID := flag.String("run", "", "ID of the locked run to verify")
	timeout := flag.Duration("timeout", 5*time.Minute, "verification timeout")
	jsonOut := flag.Bool("json", false, "print the full report as JSON")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	if *runID == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -run <run-id>")
		os.Exit(2)
	}

	cfg := domain.DefaultConfig()
	if os.Getenv("HARRIER_TIER") == "pro" {
		cfg = domain.ProConfig()
	}
	if err := cfg.FromEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(2)
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open repository:", err)
		os.Exit(2)
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// No bus: verification is read-only and standalone.
	verifier := export.NewVerifier(repo, nil)

	report, err := verifier.Replay(ctx, *runID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay failed:", err)
		os.Exit(2)
	}

	if *jsonOut {
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
	} else {
		fmt.Printf("run %s: %s\n", report.RunID, report.Overall)
		for _, v := range report.Verdicts {
			fmt.Printf("  %-8s %s\n", v.Shape, v.Status)
			if v.Status == export.VerdictMismatch {
				fmt.Printf("    expected %s\n    actual   %s\n", v.Expected, v.Actual)
			}
		}
		for _, e := range report.Errors {
			fmt.Printf("  error: %s\n", e)
		}
	}

	if report.Overall != export.VerdictMatch {
		os.Exit(1)
	}
}
