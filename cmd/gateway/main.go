package main

import (
	"fmt"
	"io"
	"os"

	"admission-gateway/middleware/admission/infra"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version é definido no build via -ldflags.
var Version = "dev"

// app é o estado comum montado no PersistentPreRunE.
type app struct {
	cfg    config
	log    *log.Logger
	closer io.Closer
	// dbOptions são repassadas a infra.OpenDatabase (ex: outro dialector).
	dbOptions []infra.DatabaseOption
}

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "gateway",
		Short:         "Admission control gateway (blacklist, interval, rate limit, auto-ban)",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.closer != nil {
				_ = a.closer.Close()
			}
		},
	}

	serve := serveCmd(a)
	root.RunE = serve.RunE
	root.AddCommand(
		serve,
		syncCmd(a),
		blockCmd(a),
		unblockCmd(a),
		statusCmd(a),
		listCmd(a),
	)
	return root
}

func (a *app) init() error {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found, using process environment")
	}

	cfg, err := readConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger, closer, err := newLogger(cfg.log)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	a.cfg, a.log, a.closer = cfg, logger, closer
	return nil
}
