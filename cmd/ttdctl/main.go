package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/config"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/ledger"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/orchestrator"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/registry"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/rollup"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/store"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	cfg, err := config.Load(os.Getenv("LEDGER_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to open ledger store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	signers := registry.Empty()
	if cfg.SignersPath != "" {
		signers, err = registry.Load(cfg.SignersPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}

	svc := ledger.New(st, rollup.NewBuilder(st, filepath.Join(cfg.DataDir, "rollups")), orchestrator.New(), signers, cfg.ListLimitMax)

	app := newCLIApp(svc, cfg)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
