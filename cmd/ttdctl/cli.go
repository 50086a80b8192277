package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/config"
	lerrors "github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/errors"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/httpapi"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/ledger"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/orchestrator"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/registry"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/pkg/signature"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(svc *ledger.Service, cfg *config.Config) *cli.App {
	app := &cli.App{
		Name:    "ttdctl",
		Usage:   "Triad ledger operator tool",
		Version: Version,
		Commands: []*cli.Command{
			orchestrateCmd(svc, cfg),
			fetchCmd(svc),
			listCmd(svc),
			rollupCmd(svc),
			signCmd(svc),
			verifyCmd(svc),
			serveCmd(svc, cfg),
		},
	}
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// orchestrateCmd runs the triad computation offline and stores the capsule.
// Two runs with the same input, seed, and timestamp print the same
// ledger_hash.
func orchestrateCmd(svc *ledger.Service, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "orchestrate",
		Usage: "Run the triad computation and append the capsule to the ledger (reads session JSON from --input or stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "Session request JSON file (default: stdin)"},
			&cli.StringFlag{Name: "seed", Aliases: []string{"s"}, Usage: "Deterministic seed (default: configured seed)"},
			&cli.StringFlag{Name: "fixed-timestamp", Usage: "Pin created_at (RFC3339) for reproducible runs"},
			&cli.StringFlag{Name: "proof-out", Usage: "Directory to write the proof capsule (result.json, hash.txt, envelope.json)"},
		},
		Action: func(c *cli.Context) error {
			raw, err := readInput(c.String("input"))
			if err != nil {
				return outputError(err)
			}
			var req orchestrator.Request
			if err := json.Unmarshal(raw, &req); err != nil {
				return outputError(lerrors.NewInvalidRequest(err.Error()))
			}

			opts := orchestrator.Options{Deterministic: true, Seed: c.String("seed")}
			if opts.Seed == "" {
				opts.Seed = cfg.DefaultSeed
			}
			if ts := c.String("fixed-timestamp"); ts != "" {
				at, err := time.Parse(time.RFC3339, ts)
				if err != nil {
					return outputError(lerrors.NewInvalidRequest("fixed-timestamp must be RFC3339"))
				}
				opts.FixedTimestamp = at
			}

			receipt, err := svc.Submit(c.Context, req, opts)
			if err != nil {
				return outputError(err)
			}
			if dir := c.String("proof-out"); dir != "" {
				if err := writeProofCapsule(dir, receipt); err != nil {
					return outputError(err)
				}
			}
			return outputJSON(receipt)
		},
	}
}

// fetchCmd loads one capsule by its ledger hash.
func fetchCmd(svc *ledger.Service) *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch a stored capsule by ledger hash",
		ArgsUsage: "<ledger_hash>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(lerrors.NewInvalidRequest("exactly one ledger hash is required"))
			}
			capsule, err := svc.GetCapsule(c.Context, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(capsule)
		},
	}
}

// listCmd lists recent ledger entries.
func listCmd(svc *ledger.Service) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List recent ledger entries, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ledger.DefaultListLimit, Usage: "Maximum entries to return"},
		},
		Action: func(c *cli.Context) error {
			capsules, err := svc.ListRecent(c.Context, c.Int("limit"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"count": len(capsules), "entries": capsules})
		},
	}
}

// rollupCmd builds the Merkle rollup for one UTC day.
func rollupCmd(svc *ledger.Service) *cli.Command {
	return &cli.Command{
		Name:  "rollup",
		Usage: "Build (or rebuild) the daily Merkle rollup",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Aliases: []string{"d"}, Usage: "UTC day as YYYY-MM-DD (default: today)"},
		},
		Action: func(c *cli.Context) error {
			date := c.String("date")
			if date == "" {
				date = time.Now().UTC().Format("2006-01-02")
			}
			roll, err := svc.BuildRollup(c.Context, date)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(roll)
		},
	}
}

// signCmd is the external-signer stand-in: it wraps an ed25519 signature
// over a stored subject into a detached envelope. The service itself never
// signs anything.
func signCmd(svc *ledger.Service) *cli.Command {
	return &cli.Command{
		Name:      "sign",
		Usage:     "Produce a detached signature envelope for a capsule, rollup, or subject file",
		ArgsUsage: "[subject_file]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Required: true, Usage: "File holding a base64 ed25519 seed (32 bytes)"},
			&cli.StringFlag{Name: "principal", Aliases: []string{"p"}, Required: true, Usage: "Signer principal identity"},
			&cli.StringFlag{Name: "identifier", Usage: "Ledger hash of the capsule to sign"},
			&cli.StringFlag{Name: "date", Usage: "Rollup day (YYYY-MM-DD) to sign"},
			&cli.StringFlag{Name: "namespace", Usage: "Envelope namespace when signing a raw subject file"},
		},
		Action: func(c *cli.Context) error {
			priv, err := loadSeedKey(c.String("key"))
			if err != nil {
				return outputError(err)
			}
			var subject []byte
			var namespace string
			if c.NArg() > 0 {
				namespace = c.String("namespace")
				if namespace == "" {
					return outputError(lerrors.NewInvalidRequest("--namespace is required when signing a subject file"))
				}
				subject, err = os.ReadFile(c.Args().First())
				if err != nil {
					return outputError(lerrors.NewInvalidRequest(err.Error()))
				}
			} else {
				subject, namespace, err = subjectBytes(c, svc)
				if err != nil {
					return outputError(err)
				}
			}
			env := signature.Sign(subject, priv, namespace, c.String("principal"), time.Now())
			return outputJSON(env)
		},
	}
}

// verifyCmd checks an envelope file against a stored subject and the
// trusted-signer registry.
func verifyCmd(svc *ledger.Service) *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Verify a detached signature envelope against the ledger",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "envelope", Aliases: []string{"e"}, Required: true, Usage: "Envelope JSON file"},
			&cli.StringFlag{Name: "identifier", Usage: "Ledger hash of the signed capsule"},
			&cli.StringFlag{Name: "date", Usage: "Rollup day (YYYY-MM-DD) that was signed"},
			&cli.StringFlag{Name: "signers", Usage: "Trusted-signer registry file (default: configured registry)"},
		},
		Action: func(c *cli.Context) error {
			raw, err := os.ReadFile(c.String("envelope"))
			if err != nil {
				return outputError(lerrors.NewInvalidRequest(err.Error()))
			}
			var env signature.Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return outputError(lerrors.NewInvalidRequest(err.Error()))
			}

			var res signature.Result
			if path := c.String("signers"); path != "" {
				reg, err := registry.Load(path)
				if err != nil {
					return outputError(lerrors.NewInvalidRequest(err.Error()))
				}
				subject, namespace, err := subjectBytes(c, svc)
				if err != nil {
					return outputError(err)
				}
				res = signature.Verify(subject, namespace, env, reg)
			} else {
				switch {
				case c.String("identifier") != "":
					res, err = svc.VerifyCapsuleSignature(c.Context, c.String("identifier"), env)
				case c.String("date") != "":
					res, err = svc.VerifyRollupSignature(c.Context, c.String("date"), env)
				default:
					err = lerrors.NewInvalidRequest("one of --identifier or --date is required")
				}
				if err != nil {
					return outputError(err)
				}
			}
			return outputJSON(map[string]any{"valid": res.Valid(), "status": res.Status, "details": res.Details})
		},
	}
}

// serveCmd runs the HTTP ledger service.
func serveCmd(svc *ledger.Service, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP ledger service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "port", Usage: "Listen port (default: configured port)"},
		},
		Action: func(c *cli.Context) error {
			port := c.String("port")
			if port == "" {
				port = cfg.Port
			}
			fmt.Fprintf(os.Stderr, "ledger service listening on :%s\n", port)
			return http.ListenAndServe(":"+port, httpapi.NewRouter(svc, cfg))
		},
	}
}

// Helper functions

// subjectBytes resolves the canonical bytes a signature binds to: a stored
// capsule body or a built rollup.
func subjectBytes(c *cli.Context, svc *ledger.Service) ([]byte, string, error) {
	switch {
	case c.String("identifier") != "":
		capsule, err := svc.GetCapsule(c.Context, c.String("identifier"))
		if err != nil {
			return nil, "", err
		}
		return capsule.Body, signature.NamespaceCapsule, nil
	case c.String("date") != "":
		roll, err := svc.GetRollup(c.String("date"))
		if err != nil {
			return nil, "", err
		}
		return roll.CanonicalBytes(), signature.NamespaceRollup, nil
	}
	return nil, "", lerrors.NewInvalidRequest("one of --identifier or --date is required")
}

// loadSeedKey reads a base64 ed25519 seed file and derives the private key.
func loadSeedKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, lerrors.NewInvalidRequest(err.Error())
	}
	seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, lerrors.NewInvalidRequest("key file must hold a base64 ed25519 seed")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, lerrors.NewInvalidRequest(fmt.Sprintf("ed25519 seed must be %d bytes", ed25519.SeedSize))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// writeProofCapsule mirrors the on-ledger artifacts into a portable
// directory: result.json, hash.txt, envelope.json.
func writeProofCapsule(dir string, receipt ledger.Receipt) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return lerrors.NewInternal(err)
	}
	result, err := json.MarshalIndent(receipt, "", "  ")
	if err != nil {
		return lerrors.NewInternal(err)
	}
	audit, err := json.MarshalIndent(map[string]any{
		"type": "TTD_PROOF",
		"alg":  "SHA3-256",
		"hash": receipt.Identifier,
		"ts":   time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return lerrors.NewInternal(err)
	}
	for name, data := range map[string][]byte{
		"result.json":   result,
		"hash.txt":      []byte(receipt.Identifier + "\n"),
		"envelope.json": audit,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
			return lerrors.NewInternal(err)
		}
	}
	return nil
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput reads the session request from a file, or stdin when no path is
// given.
func readInput(path string) ([]byte, error) {
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, lerrors.NewInvalidRequest(err.Error())
		}
		return raw, nil
	}
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, lerrors.NewInternal(err)
	}
	return raw, nil
}

// outputError formats error for CLI.
func outputError(err error) error {
	var lerr *lerrors.LedgerError
	if errors.As(err, &lerr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", lerr.Code, lerr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
