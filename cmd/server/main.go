package main

import (
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/config"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/httpapi"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/ledger"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/orchestrator"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/registry"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/rollup"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/store"
)

func main() {
	cfg, err := config.Load(os.Getenv("LEDGER_CONFIG"))
	if err != nil {
		log.Fatal(err)
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	signers := registry.Empty()
	if cfg.SignersPath != "" {
		signers, err = registry.Load(cfg.SignersPath)
		if err != nil {
			log.Fatal(err)
		}
	}

	svc := ledger.New(st, rollup.NewBuilder(st, filepath.Join(cfg.DataDir, "rollups")), orchestrator.New(), signers, cfg.ListLimitMax)

	log.Printf("ledger service listening on :%s", cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, httpapi.NewRouter(svc, cfg)))
}
