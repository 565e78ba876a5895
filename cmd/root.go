package cmd

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"helixar/internal/config"
	"helixar/internal/session"
	"helixar/internal/storage"
)

var (
	verbose    bool
	configPath string
	version    = "dev"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "helixar",
	Short: "Helixar chat workspace",
	Long: `Helixar keeps a list of chat sessions, talks to a hosted model and serves
the workspace over HTTP.

Quick Start:
  helixar serve                          # Start the HTTP server
  helixar sessions list                  # List stored sessions
  helixar sessions export <id> -f md     # Export one session as Markdown`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (JSON or YAML); defaults to $HELIXAR_CONFIG, then ./config.json")
}

// loadConfig resolves the config path and applies the configured log level unless
// --verbose already raised it.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("HELIXAR_CONFIG")
	}
	var (
		cfg *config.Config
		err error
	)
	if path == "" {
		if _, statErr := os.Stat("config.json"); statErr != nil {
			log.Debug("no config file found, using defaults")
			cfg = config.Default()
		} else {
			path = "config.json"
		}
	}
	if cfg == nil {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	}
	if !verbose {
		level, err := log.ParseLevel(cfg.BasicConfig.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		log.SetLevel(level)
	}
	return cfg, nil
}

// openStore opens the configured backend and the session store on top of it. The
// caller closes the returned storage.
func openStore(ctx context.Context, cfg *config.Config, opts session.Options) (storage.Store, *session.Store, error) {
	kv, err := storage.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	if opts.Model == "" {
		opts.Model = fastModel(cfg)
	}
	store, err := session.Open(ctx, kv, opts)
	if err != nil {
		kv.Close()
		return nil, nil, err
	}
	return kv, store, nil
}
