package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/thatapp/transition-houses/internal/auth"
	"github.com/thatapp/transition-houses/internal/web"
)

type serveFlags struct {
	port          int
	importOnStart bool
	interval      time.Duration
}

func newServeCmd() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  "Start the HTTP API, optionally importing the sheet at startup and on a schedule.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, f)
		},
	}

	cmd.Flags().IntVar(&f.port, "port", 8080, "port to listen on (default: server.port from config)")
	cmd.Flags().BoolVar(&f.importOnStart, "import-on-start", false, "run an import when the server starts")
	cmd.Flags().DurationVar(&f.interval, "import-interval", 0, "re-import on this interval, e.g. 6h (0 disables)")

	return cmd
}

func runServe(cmd *cobra.Command, f serveFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	port := a.cfg.Server.Port
	if cmd.Flags().Changed("port") {
		port = f.port
	}
	onStart := a.cfg.Import.OnStart
	if cmd.Flags().Changed("import-on-start") {
		onStart = f.importOnStart
	}
	interval := a.cfg.Import.Interval
	if cmd.Flags().Changed("import-interval") {
		interval = f.interval
	}

	var tokens auth.TokenVerifier
	if a.cfg.Auth.JWKSURL != "" {
		v, err := auth.NewVerifier(auth.VerifierConfig{
			JWKSURL:  a.cfg.Auth.JWKSURL,
			Issuer:   a.cfg.Auth.Issuer,
			Audience: a.cfg.Auth.Audience,
			Leeway:   30 * time.Second,
		}, a.logger)
		if err != nil {
			return err
		}
		tokens = v
	} else {
		a.logger.Warn("no identity provider configured, only API keys are accepted")
	}

	job, err := a.newImportJob(ctx, "")
	if err != nil {
		return err
	}

	if onStart {
		go func() {
			if _, err := job.Run(ctx); err != nil {
				a.logger.Error("startup import failed", "error", err)
			}
		}()
	}
	if interval > 0 {
		a.logger.Info("scheduled imports enabled", "interval", interval)
		go job.RunEvery(ctx, interval)
	}

	srv := web.NewServer(web.Options{
		Store:    a.store,
		Importer: job,
		Staff:    auth.NewStaff(tokens, a.keys, a.logger),
		APIKeys:  a.keys,
		Logger:   a.logger,
	})

	fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://localhost:%d\n", port)
	return srv.ListenAndServe(ctx, port)
}
