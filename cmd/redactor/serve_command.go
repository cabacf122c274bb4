package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"transcript-pii-redactor/internal/api"
	"transcript-pii-redactor/internal/config"
	"transcript-pii-redactor/internal/logger"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var noResidual bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the redaction HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			rt, err := buildRuntime(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.Close() //nolint:errcheck // read-mostly cache, nothing to flush

			opts := api.Options{
				BindAddress:  cfg.API.BindAddress,
				Port:         cfg.API.Port,
				MaxBodyBytes: cfg.API.MaxBodyBytes,
				Token:        cfg.API.Token,
				Audit:        rt.audit,
				Metrics:      rt.metrics,
				Logger:       logger.New("API", cfg.LogLevel),
			}
			if !noResidual {
				opts.Residual = rt.residual
			}
			srv := api.New(rt.engine, opts)
			printBanner(cmd.OutOrStdout(), cfg, rt.backend)
			return srv.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&noResidual, "no-residual", false, "Skip the post-redaction residual scan")
	return cmd
}

func printBanner(w io.Writer, cfg *config.Config, backend string) {
	auth := "disabled"
	if cfg.API.Token != "" {
		auth = "bearer token"
	}
	audit := cfg.AuditLog
	if audit == "" {
		audit = "(disabled)"
	}

	fmt.Fprintf(w, `
╔══════════════════════════════════════════════════════╗
║          Transcript PII Redactor  (Go)               ║
╚══════════════════════════════════════════════════════╝
  Listening       : %s:%d
  Detector        : %s (configured %s)
  Failure policy  : %s
  Identity        : %s
  Authentication  : %s
  Audit log       : %s

  Redact a document:
    curl -X POST http://localhost:%d/redact -d '{"text":"..."}'
`, cfg.API.BindAddress, cfg.API.Port,
		backend, cfg.Detector,
		cfg.Policy(), cfg.IdentityStrategy,
		auth, audit,
		cfg.API.Port)
}
